// Package repotest はテスト用のインメモリリポジトリを提供する。
package repotest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// UserStore はUserRepositoryのインメモリ実装。
// メールアドレスとユーザー名の一意性をPostgreSQLの制約と同様に検査する。
type UserStore struct {
	mu    sync.Mutex
	users map[string]model.User
}

// NewUserStore は空のUserStoreを生成する。
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]model.User)}
}

// Len は保存済みユーザー数を返す。
func (s *UserStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Put はユーザーを直接保存する。テストの前提データ作成用。
func (s *UserStore) Put(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Get はIDでユーザーを取得する。
func (s *UserStore) Get(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *UserStore) FindByID(_ context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewInvalidIdentifierError(err)
	}
	return s.find(func(u model.User) bool { return u.ID == id }), nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return s.find(func(u model.User) bool { return u.Email == email }), nil
}

func (s *UserStore) FindByEmailOrUsername(_ context.Context, email, username string) (*model.User, error) {
	return s.find(func(u model.User) bool { return u.Email == email || u.Username == username }), nil
}

func (s *UserStore) FindByIDAndRefreshToken(_ context.Context, id, refreshToken string) (*model.User, error) {
	if refreshToken == "" {
		return nil, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewInvalidIdentifierError(err)
	}
	return s.find(func(u model.User) bool { return u.ID == id && u.RefreshToken == refreshToken }), nil
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email || u.Username == user.Username {
			return model.NewConflictError()
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *UserStore) UpdateRefreshToken(_ context.Context, id, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil
	}
	u.RefreshToken = refreshToken
	s.users[id] = u
	return nil
}

func (s *UserStore) ClearRefreshToken(_ context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.RefreshToken == refreshToken {
			u.RefreshToken = ""
			s.users[id] = u
		}
	}
	return nil
}

func (s *UserStore) find(match func(model.User) bool) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if match(u) {
			found := u
			return &found
		}
	}
	return nil
}

var _ repository.UserRepository = (*UserStore)(nil)
