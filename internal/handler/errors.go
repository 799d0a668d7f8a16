package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation      = "23505"
	pqInvalidTextRepresent = "22P02"
)

const (
	msgValidationFailed = "入力内容に誤りがあります。"
	msgDuplicateValue   = "この値は既に登録されています。"
	msgInvalidID        = "無効な識別子です。"
	msgTokenInvalid     = "トークンが無効です。"
	msgTokenExpired     = "トークンの有効期限が切れています。"
	msgServerError      = "サーバーエラーが発生しました。"
	msgServerErrorShort = "サーバーエラー"
)

// errorTranslator はサービス層やライブラリのエラーをHTTPステータスと
// ユーザー向けの安定したメッセージに変換する。
// 本番環境では原因エラーの内容をレスポンスに含めない。
type errorTranslator struct {
	production bool
}

// translated は変換結果。
type translated struct {
	status  int
	message string
	detail  string
}

// write はエラーを変換してレスポンスを書き込む。
func (t errorTranslator) write(w http.ResponseWriter, r *http.Request, err error) {
	tr := t.translate(err)

	if tr.status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	} else {
		slog.Debug("request rejected",
			slog.Int("status", tr.status),
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
	}

	middleware.WriteErrorResponse(w, tr.status, tr.message, tr.detail)
}

// translate はエラーを分類する。判定順はAPIError、入力検証、DB、トークンの順。
func (t errorTranslator) translate(err error) translated {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		tr := translated{status: statusForCode(apiErr.Code), message: apiErr.Message}
		if apiErr.Code == model.ErrCodeInternal {
			tr.detail = t.internalDetail(apiErr.Err)
		} else if apiErr.Err != nil && !t.production {
			tr.detail = apiErr.Err.Error()
		}
		return tr
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return translated{
			status:  http.StatusBadRequest,
			message: msgValidationFailed,
			detail:  joinValidationErrors(verrs),
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return translated{status: http.StatusBadRequest, message: msgDuplicateValue}
		case pqInvalidTextRepresent:
			return translated{status: http.StatusBadRequest, message: msgInvalidID}
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, token.ErrTokenExpired) {
		return translated{status: http.StatusUnauthorized, message: msgTokenExpired}
	}
	if isJWTError(err) || errors.Is(err, token.ErrInvalidToken) {
		return translated{status: http.StatusUnauthorized, message: msgTokenInvalid}
	}

	return translated{
		status:  http.StatusInternalServerError,
		message: msgServerError,
		detail:  t.internalDetail(err),
	}
}

// internalDetail は500応答のerrorフィールドを返す。
func (t errorTranslator) internalDetail(cause error) string {
	if t.production {
		return msgServerErrorShort
	}
	if cause == nil {
		return ""
	}
	return cause.Error()
}

func statusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthenticated, model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodeConflict, model.ErrCodeValidationFailed, model.ErrCodeInvalidIdentifier:
		return http.StatusBadRequest
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func isJWTError(err error) bool {
	for _, target := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenInvalidClaims,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// joinValidationErrors はフィールドごとの検証エラーを "field: message" の形で連結する。
// 出力順を安定させるためフィールド名でソートする。
func joinValidationErrors(verrs validation.Errors) string {
	keys := make([]string, 0, len(verrs))
	for k, v := range verrs {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, k+": "+verrs[k].Error())
	}
	return strings.Join(msgs, ", ")
}
