// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashとRefreshTokenは外部に返すレスポンスへ含めてはならない。
type User struct {
	ID           string
	Username     string
	Email        string
	Role         Role
	PasswordHash string
	RefreshToken string // 空文字列はリフレッシュトークン未発行を表す
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は認証ゲートが解決した呼び出し元の身元を表す。
type Identity struct {
	UserID string
	Role   Role
}

// SessionRecord はKVストアに保存されるサーバーサイドセッションを表す。
type SessionRecord struct {
	ID     string
	UserID string
	Role   Role
}
