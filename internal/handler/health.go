package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/middleware"
)

// Pinger は依存先の疎通確認を行う。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc は関数をPingerとして扱うためのアダプタ。
type PingerFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼び出す。
func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthHandler は依存先への疎通を確認するヘルスチェックハンドラー。
type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。checksのキーはログに出す依存先の名前。
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 3 * time.Second}
}

// ServeHTTP はすべての依存先に疎通できれば200、いずれかに失敗すれば503を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		if err := p.PingContext(ctx); err != nil {
			slog.Warn("health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, middleware.Envelope{
			Success: false,
			Message: "一部の依存サービスに接続できません。",
			Data:    status,
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: true,
		Data:    status,
	})
}
