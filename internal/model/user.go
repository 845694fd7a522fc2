// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccountType はアカウント種別を表す。
type AccountType string

const (
	AccountTypeHuman  AccountType = "human"
	AccountTypeEntity AccountType = "entity"
)

// Account はアカウント種別ごとの名前フィールドを保持するタグ付きバリアント。
// HumanAccount と EntityAccount のいずれかのみを取り得る。
type Account interface {
	Type() AccountType
	isAccount()
}

// HumanAccount は個人アカウントの名前を表す。
type HumanAccount struct {
	FirstName string
	LastName  string
}

// Type はAccountインターフェースを実装する。
func (HumanAccount) Type() AccountType { return AccountTypeHuman }
func (HumanAccount) isAccount()        {}

// EntityAccount は組織アカウントの名前を表す。
type EntityAccount struct {
	EntityName string
}

// Type はAccountインターフェースを実装する。
func (EntityAccount) Type() AccountType { return AccountTypeEntity }
func (EntityAccount) isAccount()        {}

// User はウォレットアドレスをキーとするユーザーレコードを表す。
// WalletAddress と CreatedAt は作成後に変更されない。
type User struct {
	WalletAddress string
	Account       Account
	Email         string
	Role          string
	CreatedAt     time.Time
}

// AccountType はレコードのアカウント種別を返す。
func (u *User) AccountType() AccountType {
	if u.Account == nil {
		return ""
	}
	return u.Account.Type()
}

// Clone はレコードのコピーを返す。Accountは値型のためそのまま複製される。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// userJSON はUserのフラットなJSON表現。
type userJSON struct {
	WalletAddress string      `json:"wallet_address"`
	AccountType   AccountType `json:"account_type"`
	FirstName     string      `json:"first_name,omitempty"`
	LastName      string      `json:"last_name,omitempty"`
	EntityName    string      `json:"entity_name,omitempty"`
	Email         string      `json:"email"`
	Role          string      `json:"role"`
	CreatedAt     time.Time   `json:"created_at"`
}

// MarshalJSON はバリアントを account_type と名前フィールドに展開する。
func (u User) MarshalJSON() ([]byte, error) {
	j := userJSON{
		WalletAddress: u.WalletAddress,
		Email:         u.Email,
		Role:          u.Role,
		CreatedAt:     u.CreatedAt,
	}
	switch a := u.Account.(type) {
	case HumanAccount:
		j.AccountType = AccountTypeHuman
		j.FirstName = a.FirstName
		j.LastName = a.LastName
	case EntityAccount:
		j.AccountType = AccountTypeEntity
		j.EntityName = a.EntityName
	}
	return json.Marshal(j)
}

// UnmarshalJSON は account_type に応じてバリアントを復元する。
func (u *User) UnmarshalJSON(data []byte) error {
	var j userJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	account, err := newAccount(j.AccountType, j.FirstName, j.LastName, j.EntityName)
	if err != nil {
		return err
	}
	*u = User{
		WalletAddress: j.WalletAddress,
		Account:       account,
		Email:         j.Email,
		Role:          j.Role,
		CreatedAt:     j.CreatedAt,
	}
	return nil
}

func newAccount(t AccountType, firstName, lastName, entityName string) (Account, error) {
	switch t {
	case AccountTypeHuman:
		return HumanAccount{FirstName: firstName, LastName: lastName}, nil
	case AccountTypeEntity:
		return EntityAccount{EntityName: entityName}, nil
	default:
		return nil, fmt.Errorf("unknown account type %q", t)
	}
}

// NewUserData はユーザー作成時の入力を表す。
// AccountType が空の場合は human として扱う。Role が空の場合は既定ロールを割り当てる。
type NewUserData struct {
	WalletAddress string      `json:"wallet_address"`
	AccountType   AccountType `json:"account_type,omitempty"`
	FirstName     string      `json:"first_name,omitempty"`
	LastName      string      `json:"last_name,omitempty"`
	EntityName    string      `json:"entity_name,omitempty"`
	Email         string      `json:"email"`
	Role          string      `json:"role,omitempty"`
}

// UserPatch はユーザー更新時の部分入力を表す。nilのフィールドは変更しない。
type UserPatch struct {
	WalletAddress *string      `json:"wallet_address,omitempty"`
	AccountType   *AccountType `json:"account_type,omitempty"`
	FirstName     *string      `json:"first_name,omitempty"`
	LastName      *string      `json:"last_name,omitempty"`
	EntityName    *string      `json:"entity_name,omitempty"`
	Email         *string      `json:"email,omitempty"`
	Role          *string      `json:"role,omitempty"`
	CreatedAt     *time.Time   `json:"created_at,omitempty"`
}
