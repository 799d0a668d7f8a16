package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
)

const loginLimitKeyPrefix = "rl:login:"

// LoginLimiterConfig はログイン試行回数制限の設定。
type LoginLimiterConfig struct {
	MaxAttempts int           // ウィンドウあたりの最大試行回数
	Window      time.Duration // 固定ウィンドウの長さ
}

// LoginLimiter はクライアントIPごとのログイン試行回数を固定ウィンドウで制限する。
// カウンタはRedisに保存し、セッション方式とJWT方式で共有する。
type LoginLimiter struct {
	rdb      redis.UniversalClient
	config   LoginLimiterConfig
	recorder metrics.AuthRecorder
}

// NewLoginLimiter はLoginLimiterを生成する。recorderがnilの場合は記録しない。
func NewLoginLimiter(rdb redis.UniversalClient, config LoginLimiterConfig, recorder metrics.AuthRecorder) *LoginLimiter {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &LoginLimiter{rdb: rdb, config: config, recorder: recorder}
}

// Middleware はログインエンドポイント用のレート制限ミドルウェアを返す。
// Redisに到達できない場合は警告ログを出して通過させる。
func (l *LoginLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			count, ttl, err := l.hit(r.Context(), ip)
			if err != nil {
				slog.Warn("login rate limiter unavailable",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(l.config.MaxAttempts) {
				l.recorder.RecordRateLimited()
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "login"),
				)
				writeLoginLimitResponse(w, ttl)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// hit は試行回数を1増やし、現在の回数とウィンドウの残り時間を返す。
// ウィンドウ最初の試行でのみ有効期限を設定する。
func (l *LoginLimiter) hit(ctx context.Context, ip string) (int64, time.Duration, error) {
	key := loginLimitKeyPrefix + ip

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, 0, err
		}
		return count, l.config.Window, nil
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// 有効期限の設定に失敗したキーが残り続けないよう再設定する
		if err := l.rdb.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = l.config.Window
	}
	return count, ttl, nil
}

// clientIP はリクエスト元のIPアドレスを返す。
// RemoteAddrは接続元のアドレスで、RealIPを有効にした場合のみプロキシヘッダーの値に置き換わる。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeLoginLimitResponse は429 Too Many Requestsの固定レスポンスを書き込む。
func writeLoginLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	sec := int(math.Ceil(retryAfter.Seconds()))
	if sec < 1 {
		sec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(sec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError().Message, "")
}
