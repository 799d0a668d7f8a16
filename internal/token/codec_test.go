package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authgate/internal/model"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "authgate",
	})
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}
	return c
}

func TestNewCodec_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty access secret", Config{RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"empty refresh secret", Config{AccessSecret: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"identical secrets", Config{AccessSecret: "same", RefreshSecret: "same", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"zero access ttl", Config{AccessSecret: "a", RefreshSecret: "r", RefreshTTL: time.Hour}},
		{"negative refresh ttl", Config{AccessSecret: "a", RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: -time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCodec(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCodec_AccessToken_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tok, err := c.IssueAccessToken("user-1", model.RoleAdmin)
	if err != nil {
		t.Fatalf("IssueAccessToken error: %v", err)
	}

	claims, err := c.VerifyAccessToken(tok)
	if err != nil {
		t.Fatalf("VerifyAccessToken error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.RoleOf() != model.RoleAdmin {
		t.Errorf("Role = %v, want admin", claims.RoleOf())
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-1")
	}
}

func TestCodec_RefreshToken_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tok, err := c.IssueRefreshToken("user-2")
	if err != nil {
		t.Fatalf("IssueRefreshToken error: %v", err)
	}

	claims, err := c.VerifyRefreshToken(tok)
	if err != nil {
		t.Fatalf("VerifyRefreshToken error: %v", err)
	}
	if claims.UserID != "user-2" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-2")
	}
}

// 同一秒内に発行しても別のトークンになる
func TestCodec_IssueRefreshToken_DistinctWithinSameSecond(t *testing.T) {
	c := newTestCodec(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	a, err := c.IssueRefreshToken("user-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken error: %v", err)
	}
	b, err := c.IssueRefreshToken("user-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken error: %v", err)
	}
	if a == b {
		t.Error("expected distinct refresh tokens")
	}
}

// アクセストークンはリフレッシュトークンとして通らず、その逆も同様
func TestCodec_KeySeparation(t *testing.T) {
	c := newTestCodec(t)

	access, _ := c.IssueAccessToken("user-1", model.RoleUser)
	refresh, _ := c.IssueRefreshToken("user-1")

	if _, err := c.VerifyRefreshToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyRefreshToken(access) error = %v, want ErrInvalidToken", err)
	}
	if _, err := c.VerifyAccessToken(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyAccessToken(refresh) error = %v, want ErrInvalidToken", err)
	}
}

func TestCodec_VerifyAccessToken_Expired(t *testing.T) {
	c := newTestCodec(t)
	issuedAt := time.Now().Add(-time.Hour)
	c.now = func() time.Time { return issuedAt }

	tok, err := c.IssueAccessToken("user-1", model.RoleUser)
	if err != nil {
		t.Fatalf("IssueAccessToken error: %v", err)
	}

	c.now = time.Now
	_, err = c.VerifyAccessToken(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestCodec_VerifyAccessToken_WrongSecret(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodec(Config{
		AccessSecret:  "other-access",
		RefreshSecret: "other-refresh",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "authgate",
	})
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}

	tok, _ := other.IssueAccessToken("user-1", model.RoleAdmin)
	if _, err := c.VerifyAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestCodec_VerifyAccessToken_RejectsNoneAlgorithm(t *testing.T) {
	c := newTestCodec(t)

	claims := AccessClaims{
		UserID: "user-1",
		Role:   "admin",
		Type:   typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "authgate",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := c.VerifyAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestCodec_VerifyAccessToken_RequiresExpiry(t *testing.T) {
	c := newTestCodec(t)

	claims := AccessClaims{
		UserID:           "user-1",
		Role:             "user",
		Type:             typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "authgate"},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("access-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := c.VerifyAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestCodec_VerifyAccessToken_Malformed(t *testing.T) {
	c := newTestCodec(t)

	for _, tok := range []string{"", "not.a.jwt", "abc"} {
		if _, err := c.VerifyAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("VerifyAccessToken(%q) error = %v, want ErrInvalidToken", tok, err)
		}
	}
}
