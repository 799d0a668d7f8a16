package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrBadSignature はCookie値の署名が一致しないことを表す。
var ErrBadSignature = errors.New("session cookie signature mismatch")

// Signer はセッションIDにHMAC-SHA256署名を付与・検証する。
// 署名済みの値は "<id>.<base64url(署名)>" 形式となる。
type Signer struct {
	secret []byte
}

// NewSigner はSignerを生成する。
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign はセッションIDに署名を付与した値を返す。
func (s *Signer) Sign(id string) string {
	return id + "." + s.mac(id)
}

// Unsign は署名済みの値を検証してセッションIDを返す。
func (s *Signer) Unsign(value string) (string, error) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", ErrBadSignature
	}
	id, sig := value[:i], value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(id))) {
		return "", ErrBadSignature
	}
	return id, nil
}

func (s *Signer) mac(id string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
