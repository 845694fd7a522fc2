package model

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail はメールアドレスのドメイン部をIDNAでASCII化して返す。
// 形式が不正な場合はValidationErrorを返す。
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", &ValidationError{Field: "email", Reason: "is required"}
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", &ValidationError{Field: "email", Reason: "is malformed"}
	}
	domain, err := idna.Lookup.ToASCII(email[at+1:])
	if err != nil {
		return "", &ValidationError{Field: "email", Reason: "has an invalid domain"}
	}
	normalized := email[:at] + "@" + strings.ToLower(domain)
	if !emailPattern.MatchString(normalized) {
		return "", &ValidationError{Field: "email", Reason: "is malformed"}
	}
	return normalized, nil
}

// BuildAccount はアカウント種別ごとの必須項目を検証してバリアントを生成する。
// 種別に属さない名前フィールドが指定された場合もエラーとする。
func BuildAccount(t AccountType, firstName, lastName, entityName string) (Account, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	entityName = strings.TrimSpace(entityName)

	switch t {
	case AccountTypeHuman:
		if entityName != "" {
			return nil, &ValidationError{Field: "entity_name", Reason: "is not allowed for human accounts"}
		}
		if firstName == "" {
			return nil, &ValidationError{Field: "first_name", Reason: "is required"}
		}
		if lastName == "" {
			return nil, &ValidationError{Field: "last_name", Reason: "is required"}
		}
		return HumanAccount{FirstName: firstName, LastName: lastName}, nil
	case AccountTypeEntity:
		if firstName != "" || lastName != "" {
			return nil, &ValidationError{Field: "first_name", Reason: "is not allowed for entity accounts"}
		}
		if entityName == "" {
			return nil, &ValidationError{Field: "entity_name", Reason: "is required"}
		}
		return EntityAccount{EntityName: entityName}, nil
	default:
		return nil, &ValidationError{Field: "account_type", Reason: "must be human or entity"}
	}
}

// Validate はロール以外のプロフィール項目を検証する。
// ネットワークやストアに触れないため、クライアント側の事前検証にも使う。
func (d NewUserData) Validate() error {
	if strings.TrimSpace(d.WalletAddress) == "" {
		return &ValidationError{Field: "wallet_address", Reason: "is required"}
	}
	t := d.AccountType
	if t == "" {
		t = AccountTypeHuman
	}
	if _, err := BuildAccount(t, d.FirstName, d.LastName, d.EntityName); err != nil {
		return err
	}
	if _, err := NormalizeEmail(d.Email); err != nil {
		return err
	}
	return nil
}

// NewUser は入力を検証してレコードを組み立てる。
// Roleが空の場合はRoleSetの既定ロールを使う。CreatedAtは呼び出し側で設定する。
func (d NewUserData) NewUser(roles *RoleSet) (*User, error) {
	address := strings.TrimSpace(d.WalletAddress)
	if address == "" {
		return nil, &ValidationError{Field: "wallet_address", Reason: "is required"}
	}
	t := d.AccountType
	if t == "" {
		t = AccountTypeHuman
	}
	account, err := BuildAccount(t, d.FirstName, d.LastName, d.EntityName)
	if err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(d.Email)
	if err != nil {
		return nil, err
	}
	role := strings.TrimSpace(d.Role)
	if role == "" {
		role = roles.Default()
	}
	if !roles.Contains(role) {
		return nil, &ValidationError{Field: "role", Reason: "is not a configured role"}
	}
	return &User{
		WalletAddress: address,
		Account:       account,
		Email:         email,
		Role:          role,
	}, nil
}

// Apply はパッチを適用した新しいレコードを返す。元のレコードは変更しない。
// wallet_address と created_at は異なる値が指定された場合に拒否する。
func (p UserPatch) Apply(u *User, roles *RoleSet) (*User, error) {
	if p.WalletAddress != nil && *p.WalletAddress != u.WalletAddress {
		return nil, &ValidationError{Field: "wallet_address", Reason: "is immutable"}
	}
	if p.CreatedAt != nil && !p.CreatedAt.Equal(u.CreatedAt) {
		return nil, &ValidationError{Field: "created_at", Reason: "is immutable"}
	}

	next := u.Clone()

	var first, last, entity string
	switch a := u.Account.(type) {
	case HumanAccount:
		first, last = a.FirstName, a.LastName
	case EntityAccount:
		entity = a.EntityName
	}
	t := u.AccountType()
	if p.AccountType != nil && *p.AccountType != t {
		// 種別を切り替える場合、旧バリアントの名前は引き継がない
		t = *p.AccountType
		first, last, entity = "", "", ""
	}
	if p.FirstName != nil {
		first = *p.FirstName
	}
	if p.LastName != nil {
		last = *p.LastName
	}
	if p.EntityName != nil {
		entity = *p.EntityName
	}
	account, err := BuildAccount(t, first, last, entity)
	if err != nil {
		return nil, err
	}
	next.Account = account

	if p.Email != nil {
		email, err := NormalizeEmail(*p.Email)
		if err != nil {
			return nil, err
		}
		next.Email = email
	}
	if p.Role != nil {
		if !roles.Contains(*p.Role) {
			return nil, &ValidationError{Field: "role", Reason: "is not a configured role"}
		}
		next.Role = *p.Role
	}
	return next, nil
}
