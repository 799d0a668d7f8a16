// Package session はRedisを使用したサーバーサイドセッションの保存と、
// セッションCookieの署名を提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrNotFound はセッションが存在しないか期限切れであることを表す。
var ErrNotFound = errors.New("session not found")

const (
	keyPrefix   = "sess:"
	fieldUserID = "user_id"
	fieldRole   = "role"
	idBytes     = 32
)

// Store はRedis上のセッションレコードを管理する。
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStore はStoreを生成する。ttlは作成時点からのセッションの有効期間で、
// セッションCookieのMax-Ageと一致させる。
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// TTL はセッションの有効期間を返す。
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create は新しいセッションを作成してセッションIDを返す。
func (s *Store) Create(ctx context.Context, userID string, role model.Role) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}

	key := keyPrefix + id
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldUserID, userID, fieldRole, role.String())
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// Resolve はセッションIDからセッションレコードを取得する。
// 存在しない場合はErrNotFoundを返す。有効期限は延長しない。
func (s *Store) Resolve(ctx context.Context, id string) (*model.SessionRecord, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	key := keyPrefix + id
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	userID := fields[fieldUserID]
	if userID == "" {
		return nil, ErrNotFound
	}

	role, err := model.ParseRole(fields[fieldRole])
	if err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}

	return &model.SessionRecord{ID: id, UserID: userID, Role: role}, nil
}

// Destroy はセッションを削除する。存在しないセッションに対してもエラーを返さない。
func (s *Store) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
