package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはユーザー向けの安定したメッセージ、Errは診断用の原因エラー。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
	Err     error  // 原因（本番環境では外部に出さない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is はコードが一致するAPIErrorを同一とみなす。
// errors.Is(err, model.ErrInvalidToken) のような比較に使う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage はメッセージを差し替えたコピーを返す。
func (e *APIError) WithMessage(msg string) *APIError {
	return &APIError{Code: e.Code, Message: msg, Err: e.Err}
}

// Wrap は原因エラーを付与したコピーを返す。
func (e *APIError) Wrap(err error) *APIError {
	return &APIError{Code: e.Code, Message: e.Message, Err: err}
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidIdentifier  = "INVALID_IDENTIFIER"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// 比較用の番兵エラー。返却時は各New関数で新しいインスタンスを生成する。
var (
	ErrInvalidCredentials = &APIError{Code: ErrCodeInvalidCredentials}
	ErrConflict           = &APIError{Code: ErrCodeConflict}
	ErrUnauthenticated    = &APIError{Code: ErrCodeUnauthenticated}
	ErrForbidden          = &APIError{Code: ErrCodeForbidden}
	ErrInvalidToken       = &APIError{Code: ErrCodeInvalidToken}
	ErrNotFound           = &APIError{Code: ErrCodeNotFound}
	ErrInternal           = &APIError{Code: ErrCodeInternal}
)

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ユーザー不在とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidCredentials,
		Message: "メールアドレスまたはパスワードが正しくありません。",
	}
}

// NewConflictError はメールアドレスまたはユーザー名の重複エラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: "このメールアドレスまたはユーザー名は既に使用されています。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError(msg string) *APIError {
	if msg == "" {
		msg = "このリソースにアクセスするにはログインしてください。"
	}
	return &APIError{
		Code:    ErrCodeUnauthenticated,
		Message: msg,
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:    ErrCodeForbidden,
		Message: "このリソースへのアクセス権限がありません。",
	}
}

// NewInvalidTokenError は無効トークンエラーを生成する。
func NewInvalidTokenError(msg string, cause error) *APIError {
	if msg == "" {
		msg = "トークンが無効または期限切れです。"
	}
	return &APIError{
		Code:    ErrCodeInvalidToken,
		Message: msg,
		Err:     cause,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: "ユーザーが見つかりません。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(msg string, cause error) *APIError {
	return &APIError{
		Code:    ErrCodeValidationFailed,
		Message: msg,
		Err:     cause,
	}
}

// NewInvalidIdentifierError は不正な形式の識別子に対するエラーを生成する。
func NewInvalidIdentifierError(cause error) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidIdentifier,
		Message: "無効な識別子です。",
		Err:     cause,
	}
}

// NewRateLimitedError はログイン試行回数超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:    ErrCodeRateLimited,
		Message: "ログインの試行回数が多すぎます。15分後に再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "サーバーエラーが発生しました。",
		Err:     cause,
	}
}
