package common

import (
	"context"
	"testing"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/abkawan/nivalus-ledger/internal/service"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const manifest = `
accounts:
  - username: admin
    email: admin@example.com
    password: admin12345
    pin: "0000"
    role: admin
  - username: alice
    email: alice@example.com
    password: password123
    pin: "1234"
    balance: "250.75"
`

func TestParseAccountManifest(t *testing.T) {
	reqs, err := ParseAccountManifest([]byte(manifest))
	if err != nil {
		t.Fatalf("ParseAccountManifest() error = %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d accounts, want 2", len(reqs))
	}
	if reqs[0].Role != models.RoleAdmin || reqs[0].Pin != "0000" || reqs[0].Balance != nil {
		t.Errorf("admin = %+v", reqs[0])
	}
	if reqs[1].Balance == nil || !reqs[1].Balance.Equal(decimal.RequireFromString("250.75")) {
		t.Errorf("alice balance = %v", reqs[1].Balance)
	}

	bad := []string{
		"accounts: [{email: x@example.com}]",
		"accounts: [{username: bob, balance: lots}]",
		"accounts: {",
	}
	for _, b := range bad {
		if _, err := ParseAccountManifest([]byte(b)); err == nil {
			t.Errorf("ParseAccountManifest(%q) succeeded", b)
		}
	}
}

func TestProvisionAccountsSkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory(time.Second)
	accounts := service.NewAccountService(store, nil, service.AccountConfig{BcryptCost: bcrypt.MinCost})

	reqs, err := ParseAccountManifest([]byte(manifest))
	if err != nil {
		t.Fatalf("ParseAccountManifest() error = %v", err)
	}

	created, err := ProvisionAccounts(ctx, accounts, reqs)
	if err != nil || created != 2 {
		t.Fatalf("first ProvisionAccounts() = %d, %v", created, err)
	}
	created, err = ProvisionAccounts(ctx, accounts, reqs)
	if err != nil || created != 0 {
		t.Fatalf("second ProvisionAccounts() = %d, %v", created, err)
	}

	admin, err := store.GetAccountByUsername(ctx, "admin")
	if err != nil || admin.Role != models.RoleAdmin {
		t.Errorf("admin = %+v, %v", admin, err)
	}
}
