// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 検索系メソッドは見つからない場合にnil, nilを返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。
	// IDの形式が不正な場合はINVALID_IDENTIFIERのAPIErrorを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByEmailOrUsername はメールアドレスまたはユーザー名が一致するユーザーを検索する。
	FindByEmailOrUsername(ctx context.Context, email, username string) (*model.User, error)

	// FindByIDAndRefreshToken はIDと保存済みリフレッシュトークンの両方が一致するユーザーを検索する。
	FindByIDAndRefreshToken(ctx context.Context, id, refreshToken string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスまたはユーザー名が重複する場合はCONFLICTのAPIErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateRefreshToken はユーザーのリフレッシュトークンを上書きする。
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error

	// ClearRefreshToken は指定リフレッシュトークンを保持するユーザーからトークンを消去する。
	// 該当ユーザーがいない場合は何もしない。
	ClearRefreshToken(ctx context.Context, refreshToken string) error
}
