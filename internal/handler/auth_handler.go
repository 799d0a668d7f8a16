// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// RefreshCookieName はリフレッシュトークンを保持するCookie名。
const RefreshCookieName = "refreshToken"

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	RegisterWithSession(ctx context.Context, in auth.RegisterInput) (*model.User, string, error)
	LoginWithSession(ctx context.Context, in auth.LoginInput) (*model.User, string, error)
	LogoutSession(ctx context.Context, sessionID string) error
	RegisterWithJWT(ctx context.Context, in auth.RegisterInput) (*model.User, *auth.TokenPair, error)
	LoginWithJWT(ctx context.Context, in auth.LoginInput) (*model.User, *auth.TokenPair, error)
	LogoutJWT(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (string, error)
	GetProfile(ctx context.Context, userID string) (*model.User, error)
}

// CookieSigner はセッションIDの署名と検証を行う。
type CookieSigner interface {
	Sign(id string) string
	Unsign(value string) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int           // セッションCookieの有効期間（秒）
	RefreshMaxAge time.Duration // リフレッシュトークンCookieの有効期間
	Production    bool          // trueの場合はエラー詳細をレスポンスに含めない
}

// AuthHandler はセッション方式とJWT方式の認証HTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	signer  CookieSigner
	config  AuthHandlerConfig
	errs    errorTranslator
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, signer CookieSigner, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		signer:  signer,
		config:  config,
		errs:    errorTranslator{production: config.Production},
	}
}

// userResponse はユーザー情報のAPIレスポンス。
// パスワードハッシュとリフレッシュトークンは含めない。
type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role.String(),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// --- セッション方式 ---

// RegisterSession はユーザーを登録し、セッションを開始する。
// POST /api/auth/register-session
func (h *AuthHandler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, sessionID, err := h.service.RegisterWithSession(r.Context(), in)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	h.setSessionCookie(w, sessionID)
	middleware.WriteJSON(w, http.StatusCreated, middleware.Envelope{
		Success: true,
		Message: "登録が完了しました。",
		Data:    toUserResponse(user),
	})
}

// LoginSession は資格情報を照合し、セッションCookieを発行する。
// POST /api/auth/login-session
func (h *AuthHandler) LoginSession(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, sessionID, err := h.service.LoginWithSession(r.Context(), in)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	h.setSessionCookie(w, sessionID)
	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: true,
		Message: "ログインしました。",
		Data:    toUserResponse(user),
	})
}

// LogoutSession はセッションを破棄し、Cookieをクリアする。
// セッションがない場合も成功を返す。
// GET /api/auth/logout-session
func (h *AuthHandler) LogoutSession(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		// 署名が不正なCookieはストアに問い合わせずにクリアだけ行う
		if id, err := h.signer.Unsign(cookie.Value); err == nil {
			sessionID = id
		}
	}

	err := h.service.LogoutSession(r.Context(), sessionID)

	// ログアウト失敗してもCookieはクリアする
	h.clearCookie(w, middleware.SessionCookieName, http.SameSiteLaxMode)

	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: true,
		Message: "ログアウトしました。",
	})
}

// --- JWT方式 ---

// RegisterJWT はユーザーを登録し、アクセストークンとリフレッシュトークンCookieを発行する。
// POST /api/auth/register-jwt
func (h *AuthHandler) RegisterJWT(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, pair, err := h.service.RegisterWithJWT(r.Context(), in)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	middleware.WriteJSON(w, http.StatusCreated, middleware.Envelope{
		Success:     true,
		Message:     "登録が完了しました。",
		AccessToken: pair.AccessToken,
		Data:        toUserResponse(user),
	})
}

// LoginJWT は資格情報を照合し、トークンを発行する。
// POST /api/auth/login-jwt
func (h *AuthHandler) LoginJWT(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, pair, err := h.service.LoginWithJWT(r.Context(), in)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success:     true,
		Message:     "ログインしました。",
		AccessToken: pair.AccessToken,
		Data:        toUserResponse(user),
	})
}

// LogoutJWT は保存済みのリフレッシュトークンを消去し、Cookieをクリアする。
// GET /api/auth/logout-jwt
func (h *AuthHandler) LogoutJWT(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		refreshToken = cookie.Value
	}

	err := h.service.LogoutJWT(r.Context(), refreshToken)

	h.clearCookie(w, RefreshCookieName, http.SameSiteStrictMode)

	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: true,
		Message: "ログアウトしました。",
	})
}

// RefreshToken はリフレッシュトークンCookieを検証し、新しいアクセストークンを返す。
// リフレッシュトークン自体は再発行しない。
// GET /api/auth/refresh-token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		refreshToken = cookie.Value
	}

	accessToken, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success:     true,
		AccessToken: accessToken,
	})
}

// --- 共通 ---

// Profile は認証済みユーザーの情報を返す。セッション方式とJWT方式で共用する。
// GET /api/auth/profile-session, GET /api/auth/profile-jwt
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.errs.write(w, r, model.NewUnauthenticatedError(""))
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: true,
		Data:    toUserResponse(user),
	})
}

// AdminOnly は管理者ロールの認可を通過したリクエストに応答する。
// GET /api/auth/admin-only, GET /api/auth/admin-only-jwt
func (h *AuthHandler) AdminOnly(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: true,
		Message: "管理者としてアクセスが許可されました。",
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    h.signer.Sign(sessionID),
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: sameSite,
	})
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 解析に失敗した場合はVALIDATION_FAILEDのAPIErrorを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewValidationError("リクエストボディの解析に失敗しました。", err)
	}
	return nil
}
