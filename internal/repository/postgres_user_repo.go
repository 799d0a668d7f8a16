package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反を表すSQLSTATE。
const pqUniqueViolation = "23505"

const userColumns = `id, username, email, role, password_hash, COALESCE(refresh_token, ''), created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	user, err := r.queryOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.queryOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByEmailOrUsername はメールアドレスまたはユーザー名が一致するユーザーを検索する。
func (r *PostgresUserRepo) FindByEmailOrUsername(ctx context.Context, email, username string) (*model.User, error) {
	user, err := r.queryOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR username = $2 LIMIT 1`,
		email, username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email or username: %w", err)
	}
	return user, nil
}

// FindByIDAndRefreshToken はIDとリフレッシュトークンの両方が一致するユーザーを検索する。
func (r *PostgresUserRepo) FindByIDAndRefreshToken(ctx context.Context, id, refreshToken string) (*model.User, error) {
	if refreshToken == "" {
		return nil, nil
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	user, err := r.queryOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND refresh_token = $2`,
		id, refreshToken,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by refresh token: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// IDが空の場合は新しいUUIDを割り当てる。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, role, password_hash, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		user.ID, user.Username, user.Email, user.Role.String(), user.PasswordHash,
		user.RefreshToken, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return model.NewConflictError().Wrap(err)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateRefreshToken はユーザーのリフレッシュトークンを上書きする。
// 以前のトークンはこの時点で無効になる。
func (r *PostgresUserRepo) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	if err := validateID(id); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = NULLIF($2, ''), updated_at = now() WHERE id = $1`,
		id, refreshToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	return nil
}

// ClearRefreshToken は指定リフレッシュトークンを保持するユーザーからトークンを消去する。
func (r *PostgresUserRepo) ClearRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = NULL, updated_at = now() WHERE refresh_token = $1`,
		refreshToken,
	)
	if err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return nil
}

// queryOne は1行を取得してUserにマッピングする。行がない場合はnilを返す。
func (r *PostgresUserRepo) queryOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var (
		user = &model.User{}
		role string
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Username, &user.Email, &role,
		&user.PasswordHash, &user.RefreshToken, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.Role, err = model.ParseRole(role)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// validateID はIDがUUID形式であることを検証する。
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewInvalidIdentifierError(err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
