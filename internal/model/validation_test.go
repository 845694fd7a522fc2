package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testRoles(t *testing.T) *RoleSet {
	t.Helper()
	rs, err := ParseRoleSet("User, Administrator", "User")
	if err != nil {
		t.Fatalf("ParseRoleSet: %v", err)
	}
	return rs
}

func TestParseRoleSet_TrimsAndDeduplicates(t *testing.T) {
	rs, err := ParseRoleSet(" User ,Administrator,,User", "User")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got := rs.Roles()
	if len(got) != 2 || got[0] != "User" || got[1] != "Administrator" {
		t.Errorf("Roles() = %v, want [User Administrator]", got)
	}
	if rs.Default() != "User" {
		t.Errorf("Default() = %q, want %q", rs.Default(), "User")
	}
	if !rs.Contains("Administrator") {
		t.Error("expected Administrator to be contained")
	}
	if rs.Contains("Guest") {
		t.Error("expected Guest not to be contained")
	}
}

func TestParseRoleSet_DefaultNotInSet_ReturnsError(t *testing.T) {
	if _, err := ParseRoleSet("User,Administrator", "Guest"); err == nil {
		t.Fatal("expected error for default role outside the set")
	}
	if _, err := ParseRoleSet(" , ", "User"); err == nil {
		t.Fatal("expected error for empty role set")
	}
}

func TestNewUserData_NewUser(t *testing.T) {
	roles := testRoles(t)

	tests := []struct {
		name      string
		data      NewUserData
		wantField string
	}{
		{
			name: "human ok",
			data: NewUserData{WalletAddress: "0xabc", FirstName: "Jo", LastName: "Doe", Email: "jo@x.com"},
		},
		{
			name: "entity ok",
			data: NewUserData{WalletAddress: "0xabc", AccountType: AccountTypeEntity, EntityName: "Acme", Email: "ops@acme.io", Role: "Administrator"},
		},
		{
			name:      "entity without name",
			data:      NewUserData{WalletAddress: "0xabc", AccountType: AccountTypeEntity, Email: "ops@acme.io"},
			wantField: "entity_name",
		},
		{
			name:      "human without last name",
			data:      NewUserData{WalletAddress: "0xabc", FirstName: "Jo", Email: "jo@x.com"},
			wantField: "last_name",
		},
		{
			name:      "human with entity name",
			data:      NewUserData{WalletAddress: "0xabc", FirstName: "Jo", LastName: "Doe", EntityName: "Acme", Email: "jo@x.com"},
			wantField: "entity_name",
		},
		{
			name:      "malformed email",
			data:      NewUserData{WalletAddress: "0xabc", FirstName: "Jo", LastName: "Doe", Email: "jo at x"},
			wantField: "email",
		},
		{
			name:      "unknown role",
			data:      NewUserData{WalletAddress: "0xabc", FirstName: "Jo", LastName: "Doe", Email: "jo@x.com", Role: "Root"},
			wantField: "role",
		},
		{
			name:      "unknown account type",
			data:      NewUserData{WalletAddress: "0xabc", AccountType: "robot", Email: "jo@x.com"},
			wantField: "account_type",
		},
		{
			name:      "missing address",
			data:      NewUserData{FirstName: "Jo", LastName: "Doe", Email: "jo@x.com"},
			wantField: "wallet_address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.data.NewUser(roles)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if u.Role == "" {
					t.Error("expected role to be assigned")
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.wantField)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("expected errors.Is(err, ErrValidation)")
			}
		})
	}
}

func TestNewUserData_NewUser_DefaultsRoleAndAccountType(t *testing.T) {
	u, err := NewUserData{WalletAddress: "0xabc", FirstName: "Jo", LastName: "Doe", Email: "jo@x.com"}.NewUser(testRoles(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if u.Role != "User" {
		t.Errorf("Role = %q, want %q", u.Role, "User")
	}
	if u.AccountType() != AccountTypeHuman {
		t.Errorf("AccountType() = %q, want %q", u.AccountType(), AccountTypeHuman)
	}
}

func TestNormalizeEmail_IDNDomain(t *testing.T) {
	got, err := NormalizeEmail("taro@例え.jp")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "taro@xn--r8jz45g.jp" {
		t.Errorf("NormalizeEmail = %q, want %q", got, "taro@xn--r8jz45g.jp")
	}
}

func TestUserPatch_Apply(t *testing.T) {
	roles := testRoles(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := &User{
		WalletAddress: "0xabc",
		Account:       HumanAccount{FirstName: "Jo", LastName: "Doe"},
		Email:         "jo@x.com",
		Role:          "User",
		CreatedAt:     created,
	}

	t.Run("role only", func(t *testing.T) {
		role := "Administrator"
		got, err := UserPatch{Role: &role}.Apply(base, roles)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Role != "Administrator" {
			t.Errorf("Role = %q, want Administrator", got.Role)
		}
		if got.Account != base.Account || got.Email != base.Email || !got.CreatedAt.Equal(created) {
			t.Errorf("unexpected changes: %+v", got)
		}
		if base.Role != "User" {
			t.Error("Apply must not mutate the original record")
		}
	})

	t.Run("immutable address", func(t *testing.T) {
		addr := "0xdef"
		if _, err := (UserPatch{WalletAddress: &addr}).Apply(base, roles); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("same address accepted", func(t *testing.T) {
		addr := "0xabc"
		if _, err := (UserPatch{WalletAddress: &addr}).Apply(base, roles); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("immutable created_at", func(t *testing.T) {
		other := created.Add(time.Hour)
		if _, err := (UserPatch{CreatedAt: &other}).Apply(base, roles); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("switch to entity requires entity name", func(t *testing.T) {
		entity := AccountTypeEntity
		if _, err := (UserPatch{AccountType: &entity}).Apply(base, roles); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
		name := "Acme"
		got, err := UserPatch{AccountType: &entity, EntityName: &name}.Apply(base, roles)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Account != (EntityAccount{EntityName: "Acme"}) {
			t.Errorf("Account = %#v, want EntityAccount{Acme}", got.Account)
		}
	})
}

func TestUser_JSONShape(t *testing.T) {
	u := User{
		WalletAddress: "0xabc",
		Account:       EntityAccount{EntityName: "Acme"},
		Email:         "ops@acme.io",
		Role:          "User",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["account_type"] != "entity" {
		t.Errorf("account_type = %v, want entity", raw["account_type"])
	}
	if raw["entity_name"] != "Acme" {
		t.Errorf("entity_name = %v, want Acme", raw["entity_name"])
	}
	if _, ok := raw["first_name"]; ok {
		t.Error("first_name must be omitted for entity accounts")
	}

	var back User
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal into User: %v", err)
	}
	if back.Account != u.Account {
		t.Errorf("Account = %#v, want %#v", back.Account, u.Account)
	}
}
