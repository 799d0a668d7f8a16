// Package cleanup は期限切れリフレッシュトークンの掃除ジョブを提供する。
// リフレッシュトークンは発行時にupdated_atを更新するため、
// updated_atが有効期間より古い行のトークンは既に失効している。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RefreshTokenSweep は失効済みリフレッシュトークンをusersから消去するジョブ。
// cronなどから定期実行する想定で、何度実行しても結果は変わらない。
type RefreshTokenSweep struct {
	db     Executor
	logger *slog.Logger
	MaxAge time.Duration // リフレッシュトークンの有効期間
}

// NewRefreshTokenSweep は新しいRefreshTokenSweepを生成する。
func NewRefreshTokenSweep(db Executor, logger *slog.Logger, maxAge time.Duration) *RefreshTokenSweep {
	return &RefreshTokenSweep{
		db:     db,
		logger: logger,
		MaxAge: maxAge,
	}
}

// Run はMaxAgeより前に発行されたリフレッシュトークンをNULLにする。
func (j *RefreshTokenSweep) Run(ctx context.Context) error {
	if j.MaxAge <= 0 {
		return fmt.Errorf("invalid refresh token max age: %s", j.MaxAge)
	}

	start := time.Now()
	interval := fmt.Sprintf("%d seconds", int64(j.MaxAge.Seconds()))

	query := `UPDATE users SET refresh_token = NULL
		WHERE refresh_token IS NOT NULL AND updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("refresh token sweep failed",
			slog.String("error", err.Error()),
			slog.String("max_age", j.MaxAge.String()),
		)
		return fmt.Errorf("failed to sweep refresh tokens: %w", err)
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read affected rows",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	j.logger.Info("refresh token sweep completed",
		slog.Int64("cleared_count", cleared),
		slog.String("max_age", j.MaxAge.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
