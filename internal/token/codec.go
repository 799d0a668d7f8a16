// Package token はアクセストークンとリフレッシュトークンの発行・検証を提供する。
//
// 両トークンはHS256で署名し、異なる鍵を使用する。
// 検証時は署名アルゴリズムをHS256に固定し、有効期限とトークン種別を必須とする。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrInvalidToken は署名不正・形式不正・種別不一致などで検証に失敗したことを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired は有効期限切れを表す。ErrInvalidTokenとしても判定される。
	ErrTokenExpired = errors.New("token expired")
)

// Config はトークンコーデックの設定。
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// AccessClaims はアクセストークンのクレーム。
type AccessClaims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンのクレーム。
type RefreshClaims struct {
	UserID string `json:"id"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Codec はトークンの発行と検証を行う。設定は生成後に変更されない。
type Codec struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// NewCodec は設定を検証してCodecを生成する。
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh token secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}

	return &Codec{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}, nil
}

// AccessTTL はアクセストークンの有効期間を返す。
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL はリフレッシュトークンの有効期間を返す。
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken はユーザーIDとロールを含むアクセストークンを発行する。
func (c *Codec) IssueAccessToken(subjectID string, role model.Role) (string, error) {
	claims := AccessClaims{
		UserID:           subjectID,
		Role:             role.String(),
		Type:             typeAccess,
		RegisteredClaims: c.registered(subjectID, c.accessTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken はユーザーIDのみを含むリフレッシュトークンを発行する。
func (c *Codec) IssueRefreshToken(subjectID string) (string, error) {
	claims := RefreshClaims{
		UserID:           subjectID,
		Type:             typeRefresh,
		RegisteredClaims: c.registered(subjectID, c.refreshTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken はアクセストークンを検証してクレームを返す。
func (c *Codec) VerifyAccessToken(tok string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tok, claims, c.accessKey); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess || claims.UserID == "" {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
	}
	if _, err := model.ParseRole(claims.Role); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyRefreshToken はリフレッシュトークンを検証してクレームを返す。
func (c *Codec) VerifyRefreshToken(tok string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tok, claims, c.refreshKey); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh || claims.UserID == "" {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
	}
	return claims, nil
}

// RoleOf はアクセストークンのクレームからロールを復元する。
// 検証済みのクレームに対してのみ使用する。
func (a *AccessClaims) RoleOf() model.Role {
	role, _ := model.ParseRole(a.Role)
	return role
}

func (c *Codec) registered(subjectID string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	return jwt.RegisteredClaims{
		Subject:   subjectID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (c *Codec) parse(tok string, claims jwt.Claims, key []byte) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrTokenExpired, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
