// Package auth はユーザー登録・ログイン・ログアウト・トークン再発行の
// アカウントライフサイクルを提供する。
//
// セッション方式とJWT方式の2系統を持ち、いずれも同じユーザーストアと
// 資格情報照合を共有する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/token"
)

// SessionStore はセッションの作成と破棄に必要なインターフェース。
type SessionStore interface {
	Create(ctx context.Context, userID string, role model.Role) (string, error)
	Destroy(ctx context.Context, id string) error
}

// TokenCodec はトークンの発行と検証に必要なインターフェース。
type TokenCodec interface {
	IssueAccessToken(subjectID string, role model.Role) (string, error)
	IssueRefreshToken(subjectID string) (string, error)
	VerifyRefreshToken(tok string) (*token.RefreshClaims, error)
}

// CredentialVerifier はログイン時のパスワード照合に必要なインターフェース。
type CredentialVerifier interface {
	Verify(plaintext, storedHash string) bool
	VerifyMissing(plaintext string) bool
}

// TokenPair はJWT方式で発行するトークンの組。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Service はアカウントライフサイクルのビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	sessions  SessionStore
	tokens    TokenCodec
	hasher    credential.Hasher
	verifier  CredentialVerifier
	sanitizer Sanitizer
	recorder  metrics.AuthRecorder
	now       func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	users repository.UserRepository,
	sessions SessionStore,
	tokens TokenCodec,
	hasher credential.Hasher,
	verifier CredentialVerifier,
	sanitizer Sanitizer,
	recorder metrics.AuthRecorder,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		hasher:    hasher,
		verifier:  verifier,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// RegisterWithSession はユーザーを作成し、セッションを開始する。
// セッションを先に作成し、ユーザー作成に失敗した場合はセッションを破棄する。
func (s *Service) RegisterWithSession(ctx context.Context, in RegisterInput) (*model.User, string, error) {
	user, err := s.prepareUser(ctx, in)
	if err != nil {
		return nil, "", err
	}

	sessionID, err := s.sessions.Create(ctx, user.ID, user.Role)
	if err != nil {
		return nil, "", model.NewInternalError(fmt.Errorf("failed to create session: %w", err))
	}

	if err := s.users.Create(ctx, user); err != nil {
		if derr := s.sessions.Destroy(ctx, sessionID); derr != nil {
			slog.Warn("failed to destroy orphan session",
				slog.String("error", derr.Error()),
			)
		}
		return nil, "", passThrough(err, "failed to create user")
	}

	s.recorder.RecordRegistration(metrics.StrategySession)
	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("strategy", metrics.StrategySession),
	)
	return user, sessionID, nil
}

// LoginWithSession は資格情報を照合し、セッションを開始する。
func (s *Service) LoginWithSession(ctx context.Context, in LoginInput) (*model.User, string, error) {
	user, err := s.authenticate(ctx, in, metrics.StrategySession)
	if err != nil {
		return nil, "", err
	}

	sessionID, err := s.sessions.Create(ctx, user.ID, user.Role)
	if err != nil {
		return nil, "", model.NewInternalError(fmt.Errorf("failed to create session: %w", err))
	}

	s.recorder.RecordLogin(metrics.StrategySession, true)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("strategy", metrics.StrategySession),
	)
	return user, sessionID, nil
}

// LogoutSession はセッションを破棄する。存在しないセッションでもエラーにならない。
func (s *Service) LogoutSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return model.NewInternalError(fmt.Errorf("failed to destroy session: %w", err))
	}
	return nil
}

// RegisterWithJWT はユーザーを作成し、アクセストークンとリフレッシュトークンを発行する。
// トークンはユーザー作成前に発行し、リフレッシュトークンを含めて1回のINSERTで保存する。
func (s *Service) RegisterWithJWT(ctx context.Context, in RegisterInput) (*model.User, *TokenPair, error) {
	user, err := s.prepareUser(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	user.RefreshToken = pair.RefreshToken

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, passThrough(err, "failed to create user")
	}

	s.recorder.RecordRegistration(metrics.StrategyJWT)
	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("strategy", metrics.StrategyJWT),
	)
	return user, pair, nil
}

// LoginWithJWT は資格情報を照合し、トークンの組を発行する。
// 保存済みのリフレッシュトークンは上書きされ、以前のものは無効になる。
func (s *Service) LoginWithJWT(ctx context.Context, in LoginInput) (*model.User, *TokenPair, error) {
	user, err := s.authenticate(ctx, in, metrics.StrategyJWT)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	if err := s.users.UpdateRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, nil, passThrough(err, "failed to persist refresh token")
	}
	user.RefreshToken = pair.RefreshToken

	s.recorder.RecordLogin(metrics.StrategyJWT, true)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("strategy", metrics.StrategyJWT),
	)
	return user, pair, nil
}

// LogoutJWT は指定リフレッシュトークンを保持するユーザーからトークンを消去する。
// 一致するユーザーがいない場合や空トークンの場合は何もしない。
func (s *Service) LogoutJWT(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.users.ClearRefreshToken(ctx, refreshToken); err != nil {
		return passThrough(err, "failed to clear refresh token")
	}
	return nil
}

// Refresh はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// 保存済みの値と一致しないトークンはINVALID_TOKENで拒否する。
// リフレッシュトークン自体は再発行しない。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		s.recorder.RecordRefresh(false)
		return "", model.NewInvalidTokenError("リフレッシュトークンがありません。", nil)
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.recorder.RecordRefresh(false)
		return "", invalidTokenError(err)
	}

	user, err := s.users.FindByIDAndRefreshToken(ctx, claims.UserID, refreshToken)
	if err != nil {
		s.recorder.RecordRefresh(false)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidIdentifier {
			return "", model.NewInvalidTokenError("", err)
		}
		return "", passThrough(err, "failed to find user by refresh token")
	}
	if user == nil {
		s.recorder.RecordRefresh(false)
		return "", model.NewInvalidTokenError("リフレッシュトークンが無効です。", nil)
	}

	accessToken, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return "", model.NewInternalError(err)
	}

	s.recorder.RecordRefresh(true)
	return accessToken, nil
}

// GetProfile はユーザー情報を取得する。見つからない場合はNOT_FOUNDを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, passThrough(err, "failed to find user")
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// prepareUser は登録入力を検証し、重複確認とハッシュ化を行った未保存のユーザーを返す。
func (s *Service) prepareUser(ctx context.Context, in RegisterInput) (*model.User, error) {
	in = in.sanitize(s.sanitizer)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmailOrUsername(ctx, in.Email, in.Username)
	if err != nil {
		return nil, passThrough(err, "failed to check existing user")
	}
	if existing != nil {
		return nil, model.NewConflictError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	now := s.now()
	return &model.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		Role:         model.RoleUser,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// authenticate はメールアドレスとパスワードを照合する。
// 形式不正、ユーザー不在、パスワード不一致はすべて同じエラーになり、処理時間も揃える。
func (s *Service) authenticate(ctx context.Context, in LoginInput, strategy string) (*model.User, error) {
	in = in.sanitize(s.sanitizer)
	if err := in.Validate(); err != nil {
		s.verifier.VerifyMissing(in.Password)
		s.recorder.RecordLogin(strategy, false)
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, passThrough(err, "failed to find user by email")
	}

	if user == nil {
		s.verifier.VerifyMissing(in.Password)
		s.recorder.RecordLogin(strategy, false)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.verifier.Verify(in.Password, user.PasswordHash) {
		s.recorder.RecordLogin(strategy, false)
		return nil, model.NewInvalidCredentialsError()
	}
	return user, nil
}

func (s *Service) issuePair(user *model.User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// passThrough はAPIErrorをそのまま返し、それ以外は内部エラーとして包む。
func passThrough(err error, msg string) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewInternalError(fmt.Errorf("%s: %w", msg, err))
}

// invalidTokenError はトークン検証エラーを期限切れとそれ以外に分けて変換する。
func invalidTokenError(err error) *model.APIError {
	if errors.Is(err, token.ErrTokenExpired) {
		return model.NewInvalidTokenError("リフレッシュトークンの有効期限が切れています。", err)
	}
	return model.NewInvalidTokenError("リフレッシュトークンが無効です。", err)
}
