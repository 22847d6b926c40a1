package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/shopspring/decimal"
)

func signupRequest(username string) models.CreateAccountRequest {
	return models.CreateAccountRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Pin:      testPin,
	}
}

func TestSignupForcesDefaults(t *testing.T) {
	f := newFixture(t)
	req := signupRequest("alice")
	balance := decimal.NewFromInt(1000)
	req.Balance = &balance
	req.Role = models.RoleAdmin

	a, err := f.accounts.Signup(context.Background(), req)
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if a.Role != models.RoleUser || a.Status != models.StatusActive || !a.Balance.IsZero() {
		t.Errorf("account = role %s status %s balance %s", a.Role, a.Status, a.Balance)
	}
	if a.PasswordHash == "password123" || a.PinHash == testPin {
		t.Error("secrets stored in clear text")
	}
}

func TestCreateAccountValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.accounts.Signup(ctx, signupRequest("alice")); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	negative := decimal.NewFromInt(-1)
	tests := []struct {
		name    string
		mutate  func(*models.CreateAccountRequest)
		wantErr error
	}{
		{"duplicate username different case", func(r *models.CreateAccountRequest) { r.Username = "ALICE"; r.Email = "x@example.com" }, models.ErrDuplicateUsername},
		{"duplicate email", func(r *models.CreateAccountRequest) { r.Email = "Alice@Example.com" }, models.ErrDuplicateEmail},
		{"short username", func(r *models.CreateAccountRequest) { r.Username = "ab" }, models.ErrInvalidInput},
		{"bad email", func(r *models.CreateAccountRequest) { r.Email = "not-an-email" }, models.ErrInvalidInput},
		{"short password", func(r *models.CreateAccountRequest) { r.Password = "short" }, models.ErrInvalidInput},
		{"pin letters", func(r *models.CreateAccountRequest) { r.Pin = "12a4" }, models.ErrInvalidInput},
		{"pin too long", func(r *models.CreateAccountRequest) { r.Pin = "12345" }, models.ErrInvalidInput},
		{"negative balance", func(r *models.CreateAccountRequest) { r.Balance = &negative }, models.ErrInvalidAmount},
		{"bad status", func(r *models.CreateAccountRequest) { r.Status = "frozen" }, models.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signupRequest("bob")
			tt.mutate(&req)
			if _, err := f.accounts.CreateAccount(ctx, req); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateAccount() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoginResolveLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.accounts.Signup(ctx, signupRequest("alice"))

	if _, err := f.accounts.Login(ctx, "alice", "wrong-password"); !errors.Is(err, models.ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.accounts.Login(ctx, "nobody", "password123"); !errors.Is(err, models.ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}

	resp, err := f.accounts.Login(ctx, "Alice", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.ID != a.ID || resp.Token == "" || resp.Role != models.RoleUser {
		t.Errorf("LoginResponse = %+v", resp)
	}

	caller, err := f.accounts.ResolveCaller(ctx, resp.Token)
	if err != nil {
		t.Fatalf("ResolveCaller() error = %v", err)
	}
	if caller.AccountID != a.ID || caller.IsAdmin() {
		t.Errorf("caller = %+v", caller)
	}

	// a second login replaces the first token
	second, err := f.accounts.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if _, err := f.accounts.ResolveCaller(ctx, resp.Token); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("superseded token error = %v, want ErrUnauthenticated", err)
	}

	if err := f.accounts.Logout(ctx, caller); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := f.accounts.ResolveCaller(ctx, second.Token); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("token after logout error = %v, want ErrUnauthenticated", err)
	}
	if _, err := f.accounts.ResolveCaller(ctx, ""); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("empty token error = %v, want ErrUnauthenticated", err)
	}
}

func TestInactiveAccountCannotLoginOrAct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.account(t, "root", "0", models.RoleAdmin)
	a, _ := f.accounts.Signup(ctx, signupRequest("alice"))

	resp, err := f.accounts.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := f.accounts.UpdateStatus(ctx, callerOf(admin), a.ID, models.StatusInactive); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if _, err := f.accounts.ResolveCaller(ctx, resp.Token); !errors.Is(err, models.ErrAccountInactive) {
		t.Errorf("ResolveCaller() error = %v, want ErrAccountInactive", err)
	}
	if _, err := f.accounts.Login(ctx, "alice", "password123"); !errors.Is(err, models.ErrAccountInactive) {
		t.Errorf("Login() error = %v, want ErrAccountInactive", err)
	}
}

func TestUpdateStatusAndListAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.account(t, "root", "0", models.RoleAdmin)
	alice := f.account(t, "alice", "0", models.RoleUser)
	bob := f.account(t, "bob", "0", models.RoleUser)

	if _, err := f.accounts.UpdateStatus(ctx, callerOf(alice), bob.ID, models.StatusDeleted); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("user UpdateStatus() error = %v, want ErrForbidden", err)
	}
	if _, err := f.accounts.UpdateStatus(ctx, callerOf(admin), bob.ID, "frozen"); !errors.Is(err, models.ErrInvalidStatus) {
		t.Errorf("bad status error = %v, want ErrInvalidStatus", err)
	}
	if _, err := f.accounts.UpdateStatus(ctx, callerOf(admin), "missing", models.StatusActive); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing account error = %v, want ErrNotFound", err)
	}
	updated, err := f.accounts.UpdateStatus(ctx, callerOf(admin), bob.ID, models.StatusDeleted)
	if err != nil || updated.Status != models.StatusDeleted {
		t.Fatalf("UpdateStatus() = %v, %v", updated, err)
	}

	list, err := f.accounts.ListAccounts(ctx, callerOf(admin))
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListAccounts() = %d accounts, want 2 (deleted excluded)", len(list))
	}
	if _, err := f.accounts.ListAccounts(ctx, callerOf(alice)); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("user ListAccounts() error = %v, want ErrForbidden", err)
	}

	// deleted usernames stay taken
	req := signupRequest("bob")
	req.Email = "bob2@example.com"
	if _, err := f.accounts.Signup(ctx, req); !errors.Is(err, models.ErrDuplicateUsername) {
		t.Errorf("reusing deleted username error = %v, want ErrDuplicateUsername", err)
	}
}

func TestProfileRecentTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.account(t, "root", "0", models.RoleAdmin)
	alice := f.account(t, "alice", "0", models.RoleUser)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		if _, err := f.transactions.AdminCreateTransaction(ctx, callerOf(admin), models.AdminTransactionRequest{
			UserID: alice.ID, Type: models.Deposit, Amount: decimal.NewFromInt(int64(i + 1)), Timestamp: &ts,
		}); err != nil {
			t.Fatalf("AdminCreateTransaction() error = %v", err)
		}
	}

	profile, err := f.accounts.Profile(ctx, callerOf(alice))
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if !profile.Balance.Equal(decimal.NewFromInt(28)) {
		t.Errorf("balance = %s, want 28", profile.Balance)
	}
	if len(profile.RecentTransactions) != 5 {
		t.Fatalf("recent = %d, want 5", len(profile.RecentTransactions))
	}
	if !profile.RecentTransactions[0].Amount.Equal(decimal.NewFromInt(7)) {
		t.Errorf("newest amount = %s, want 7", profile.RecentTransactions[0].Amount)
	}
}

func TestUpdateAvatarAndBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.account(t, "alice", "10", models.RoleUser)

	if _, err := f.accounts.UpdateAvatar(ctx, callerOf(alice), ""); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("empty avatar error = %v, want ErrInvalidInput", err)
	}
	a, err := f.accounts.UpdateAvatar(ctx, callerOf(alice), "https://example.com/a.png")
	if err != nil || a.Avatar != "https://example.com/a.png" {
		t.Errorf("UpdateAvatar() = %v, %v", a, err)
	}

	a, err = f.accounts.UpdateBalance(ctx, alice.ID, decimal.RequireFromString("42.50"))
	if err != nil || !a.Balance.Equal(decimal.RequireFromString("42.50")) {
		t.Errorf("UpdateBalance() = %v, %v", a, err)
	}
	if _, err := f.accounts.UpdateBalance(ctx, alice.ID, decimal.NewFromInt(-1)); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("negative UpdateBalance() error = %v, want ErrInvalidAmount", err)
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accounts.Signup(ctx, signupRequest("admin"))

	resp, err := f.accounts.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := f.accounts.ResetPassword(ctx, "admin", "admin12345"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if _, err := f.accounts.ResolveCaller(ctx, resp.Token); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("old token error = %v, want ErrUnauthenticated", err)
	}
	if _, err := f.accounts.Login(ctx, "admin", "admin12345"); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
	if err := f.accounts.ResetPassword(ctx, "ghost", "admin12345"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}
