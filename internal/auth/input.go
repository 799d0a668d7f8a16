package auth

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/hitoshi/authgate/internal/credential"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Sanitizer は入力文字列からマークアップを除去する。
type Sanitizer interface {
	Sanitize(input string) string
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate は登録入力を検証する。エラーはvalidation.Errorsとして返る。
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username,
			validation.Required,
			validation.RuneLength(3, 30),
			validation.Match(usernamePattern).Error("must contain only letters, digits, '_', '.' or '-'"),
		),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(4, credential.MaxPasswordBytes)),
	)
}

// sanitize はユーザー名とメールアドレスを正規化したコピーを返す。
// パスワードは変更しない。
func (in RegisterInput) sanitize(s Sanitizer) RegisterInput {
	in.Username = s.Sanitize(in.Username)
	in.Email = s.Sanitize(in.Email)
	return in
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate はログイン入力を検証する。
// ログインでは検証エラーの内容を返さず、認証失敗として扱う。
func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required),
	)
}

func (in LoginInput) sanitize(s Sanitizer) LoginInput {
	in.Email = s.Sanitize(in.Email)
	return in
}
