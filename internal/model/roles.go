package model

import (
	"fmt"
	"strings"
)

// RoleSet は起動時に設定から構築される、割り当て可能なロールの集合。
type RoleSet struct {
	roles       []string
	index       map[string]struct{}
	defaultRole string
}

// NewRoleSet はロール一覧と既定ロールからRoleSetを生成する。
// 空要素と重複は除去する。既定ロールは集合に含まれている必要がある。
func NewRoleSet(roles []string, defaultRole string) (*RoleSet, error) {
	rs := &RoleSet{index: make(map[string]struct{})}
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := rs.index[r]; ok {
			continue
		}
		rs.index[r] = struct{}{}
		rs.roles = append(rs.roles, r)
	}
	if len(rs.roles) == 0 {
		return nil, fmt.Errorf("role set must not be empty")
	}

	defaultRole = strings.TrimSpace(defaultRole)
	if _, ok := rs.index[defaultRole]; !ok {
		return nil, fmt.Errorf("default role %q is not in role set %v", defaultRole, rs.roles)
	}
	rs.defaultRole = defaultRole
	return rs, nil
}

// ParseRoleSet はカンマ区切りのロール一覧からRoleSetを生成する。
func ParseRoleSet(csv, defaultRole string) (*RoleSet, error) {
	return NewRoleSet(strings.Split(csv, ","), defaultRole)
}

// Contains はロールが集合に含まれるかを返す。
func (rs *RoleSet) Contains(role string) bool {
	_, ok := rs.index[role]
	return ok
}

// Roles は設定順のロール一覧のコピーを返す。
func (rs *RoleSet) Roles() []string {
	out := make([]string, len(rs.roles))
	copy(out, rs.roles)
	return out
}

// Default は既定ロールを返す。
func (rs *RoleSet) Default() string {
	return rs.defaultRole
}
