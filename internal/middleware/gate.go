package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/session"
	"github.com/hitoshi/authgate/internal/token"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// Authenticator はリクエストから呼び出し元のIdentityを解決する。
// 解決できない場合はUNAUTHENTICATEDのAPIErrorを返す。
// それ以外のエラーは基盤の障害として扱われる。
type Authenticator interface {
	Authenticate(r *http.Request) (*model.Identity, error)
}

// SessionResolver はセッションIDからセッションレコードを取得する。
type SessionResolver interface {
	Resolve(ctx context.Context, id string) (*model.SessionRecord, error)
}

// CookieUnsigner は署名付きCookie値からセッションIDを取り出す。
type CookieUnsigner interface {
	Unsign(value string) (string, error)
}

// AccessTokenVerifier はアクセストークンを検証する。
type AccessTokenVerifier interface {
	VerifyAccessToken(tok string) (*token.AccessClaims, error)
}

// SessionAuthenticator はセッションCookieでIdentityを解決する。
type SessionAuthenticator struct {
	store    SessionResolver
	unsigner CookieUnsigner
}

// NewSessionAuthenticator はSessionAuthenticatorを生成する。
func NewSessionAuthenticator(store SessionResolver, unsigner CookieUnsigner) *SessionAuthenticator {
	return &SessionAuthenticator{store: store, unsigner: unsigner}
}

// Authenticate はCookieの署名を検証し、セッションストアからIdentityを解決する。
func (a *SessionAuthenticator) Authenticate(r *http.Request) (*model.Identity, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, model.NewUnauthenticatedError("")
	}

	id, err := a.unsigner.Unsign(cookie.Value)
	if err != nil {
		return nil, model.NewUnauthenticatedError("セッションが無効です。再度ログインしてください。")
	}

	rec, err := a.store.Resolve(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, model.NewUnauthenticatedError("セッションが無効または期限切れです。再度ログインしてください。")
	}
	if err != nil {
		return nil, err
	}

	return &model.Identity{UserID: rec.UserID, Role: rec.Role}, nil
}

// BearerAuthenticator はAuthorizationヘッダーのBearerトークンでIdentityを解決する。
type BearerAuthenticator struct {
	verifier AccessTokenVerifier
}

// NewBearerAuthenticator はBearerAuthenticatorを生成する。
func NewBearerAuthenticator(verifier AccessTokenVerifier) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: verifier}
}

// Authenticate はアクセストークンを検証してIdentityを解決する。
func (a *BearerAuthenticator) Authenticate(r *http.Request) (*model.Identity, error) {
	header := r.Header.Get("Authorization")
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return nil, model.NewUnauthenticatedError("アクセストークンがありません。")
	}

	claims, err := a.verifier.VerifyAccessToken(strings.TrimSpace(tok))
	if errors.Is(err, token.ErrTokenExpired) {
		return nil, model.NewUnauthenticatedError("アクセストークンの有効期限が切れています。").Wrap(err)
	}
	if err != nil {
		return nil, model.NewUnauthenticatedError("アクセストークンが無効です。").Wrap(err)
	}

	return &model.Identity{UserID: claims.UserID, Role: claims.RoleOf()}, nil
}

// Gate は認証と認可を行うミドルウェアを提供する。
// 認証方式はAuthenticatorの実装で切り替える。
type Gate struct {
	authn Authenticator
}

// NewGate はGateを生成する。
func NewGate(authn Authenticator) *Gate {
	return &Gate{authn: authn}
}

// Authenticate はIdentityを解決してコンテキストに注入するミドルウェア。
// 解決できない場合は401を返す。
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.authn.Authenticate(r)
		if err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthenticated {
				WriteErrorResponse(w, http.StatusUnauthorized, apiErr.Message, "")
				return
			}
			slog.Error("failed to authenticate request",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
			)
			WriteInternalServerError(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

// Authorize はGateに依存しない認可ミドルウェアを返す。Authorizeを参照。
func (g *Gate) Authorize(roles ...model.Role) func(next http.Handler) http.Handler {
	return Authorize(roles...)
}

// Require は認証の後に認可を行うミドルウェアを返す。
func (g *Gate) Require(roles ...model.Role) func(next http.Handler) http.Handler {
	authorize := Authorize(roles...)
	return func(next http.Handler) http.Handler {
		return g.Authenticate(authorize(next))
	}
}

// Authorize はIdentityのロールが指定ロールに含まれる場合のみ通過させるミドルウェアを返す。
// Identityが未解決の場合は403ではなく401を返す。
func Authorize(roles ...model.Role) func(next http.Handler) http.Handler {
	allowed := model.NewRoleSet(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError("").Message, "")
				return
			}
			if !allowed.Permits(identity) {
				slog.Warn("access denied",
					slog.String("user_id", identity.UserID),
					slog.String("role", identity.Role.String()),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError().Message, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
