// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/authgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey は認証ゲートが解決したIdentityを格納するキー。
	identityContextKey = contextKey("identity")
	// identitySlotContextKey はロギングミドルウェアが用意するIdentityの受け皿を格納するキー。
	identitySlotContextKey = contextKey("identity_slot")
)

// identitySlot は内側のミドルウェアで解決したIdentityを外側に伝えるための受け皿。
type identitySlot struct {
	identity *model.Identity
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// ロギングミドルウェアの配下では、その受け皿にも記録する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	if slot, ok := ctx.Value(identitySlotContextKey).(*identitySlot); ok {
		slot.identity = identity
	}
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
// 認証ゲートを通過していない場合はnil, falseを返す。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ゲートを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.UserID, nil
}

func withIdentitySlot(ctx context.Context) (context.Context, *identitySlot) {
	slot := &identitySlot{}
	return context.WithValue(ctx, identitySlotContextKey, slot), slot
}
