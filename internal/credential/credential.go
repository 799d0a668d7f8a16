// Package credential はパスワードのハッシュ化と照合を提供する。
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch はパスワードがハッシュと一致しないことを表す。
var ErrMismatch = errors.New("password does not match hash")

// MaxPasswordBytes はbcryptが扱える平文の最大バイト数。
const MaxPasswordBytes = 72

// Hasher は平文パスワードからハッシュを生成する。
type Hasher interface {
	Hash(plaintext string) (string, error)
}

// Comparator はハッシュと平文パスワードを照合する。
// 一致しない場合はErrMismatchを返す。
type Comparator interface {
	Compare(hash, plaintext string) error
}

// HashComparator はHasherとComparatorの両方を満たす。
type HashComparator interface {
	Hasher
	Comparator
}

// BcryptHasher はbcryptによるHashComparatorの実装。
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// costがbcryptの許容範囲外の場合はbcrypt.DefaultCostを使用する。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash は平文パスワードのbcryptハッシュを返す。
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Compare はハッシュと平文パスワードを照合する。
func (h *BcryptHasher) Compare(hash, plaintext string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("failed to compare password: %w", err)
	}
	return nil
}

// Verifier はログイン時の資格情報照合を行う。
// 平文パスワードやハッシュをログに出力しない。
type Verifier struct {
	cmp   Comparator
	dummy string
}

// NewVerifier はVerifierを生成する。
// ユーザー不在時の照合に使うダミーハッシュを生成時に一度だけ計算する。
func NewVerifier(h HashComparator) (*Verifier, error) {
	dummy, err := h.Hash("authgate-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &Verifier{cmp: h, dummy: dummy}, nil
}

// Verify は平文パスワードが保存済みハッシュと一致する場合にtrueを返す。
// 形式不正なハッシュは不一致として扱う。
func (v *Verifier) Verify(plaintext, storedHash string) bool {
	return v.cmp.Compare(storedHash, plaintext) == nil
}

// VerifyMissing はユーザーが存在しない場合に呼び出す。
// ダミーハッシュと照合して処理時間を揃え、常にfalseを返す。
func (v *Verifier) VerifyMissing(plaintext string) bool {
	_ = v.cmp.Compare(v.dummy, plaintext)
	return false
}
