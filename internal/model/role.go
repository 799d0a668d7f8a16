package model

import "fmt"

// Role はユーザーの権限ロールを表す列挙型。
// 文字列表現はストレージとワイヤフォーマットの境界でのみ使用する。
type Role uint8

const (
	// RoleUser は一般ユーザー。登録時のデフォルト。
	RoleUser Role = iota
	// RoleAdmin は管理者。
	RoleAdmin

	roleCount
)

var roleNames = [roleCount]string{
	RoleUser:  "user",
	RoleAdmin: "admin",
}

// String はロールの文字列表現を返す。
func (r Role) String() string {
	if r < roleCount {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	return r < roleCount
}

// ParseRole は文字列表現からRoleを復元する。
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return RoleUser, fmt.Errorf("unknown role: %q", s)
}

// RoleSet はロールの集合をビットマスクで表す。
type RoleSet uint32

// NewRoleSet は指定ロールからなる集合を生成する。
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		if r.Valid() {
			s |= 1 << r
		}
	}
	return s
}

// Contains はロールが集合に含まれるかを返す。
func (s RoleSet) Contains(r Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

// Permits はidentityのロールが要求ロール集合に含まれるかを判定する。
// identityがnilの場合は常にfalseを返す。
func (s RoleSet) Permits(identity *Identity) bool {
	if identity == nil {
		return false
	}
	return s.Contains(identity.Role)
}
