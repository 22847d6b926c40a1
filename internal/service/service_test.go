package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/auth"
	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const testPin = "1234"

// recordingPublisher collects published events; failWith makes it fail.
type recordingPublisher struct {
	mu       sync.Mutex
	events   []*models.LedgerEvent
	failWith error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev *models.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store        *db.Memory
	accounts     *AccountService
	transactions *TransactionService
	publisher    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, time.Second, DefaultRetryPolicy)
}

func newFixtureWith(t *testing.T, lockTimeout time.Duration, retry RetryPolicy) *fixture {
	t.Helper()
	store := db.NewMemory(lockTimeout)
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}
	accounts := NewAccountService(store, tokens, AccountConfig{BcryptCost: bcrypt.MinCost, Retry: retry})
	publisher := &recordingPublisher{}
	return &fixture{
		store:        store,
		accounts:     accounts,
		transactions: NewTransactionService(store, accounts, publisher, retry),
		publisher:    publisher,
	}
}

func (f *fixture) account(t *testing.T, username string, balance string, role models.Role) *models.Account {
	t.Helper()
	b := decimal.RequireFromString(balance)
	a, err := f.accounts.CreateAccount(context.Background(), models.CreateAccountRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Pin:      testPin,
		Balance:  &b,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s) error = %v", username, err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	return a.Balance
}

func mustAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func callerOf(a *models.Account) auth.Caller {
	return auth.Caller{AccountID: a.ID, Role: a.Role}
}

func wantBalance(t *testing.T, f *fixture, a *models.Account, want string) {
	t.Helper()
	if got := f.balance(t, a.ID); !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s balance = %s, want %s", a.Username, got, want)
	}
}

func TestExecuteTransferMovesMoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.account(t, "alice", "100", models.RoleUser)
	bob := f.account(t, "bob", "5", models.RoleUser)

	res, err := f.transactions.ExecuteTransfer(ctx, callerOf(alice), models.TransferRequest{
		Recipient:     "bob",
		RecipientType: models.RecipientByUsername,
		Amount:        decimal.NewFromInt(30),
		Memo:          "dinner",
		Pin:           testPin,
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer() error = %v", err)
	}

	wantBalance(t, f, alice, "70")
	wantBalance(t, f, bob, "35")

	tx := res.Transaction
	if tx.Type != models.Transfer || tx.AccountID != alice.ID || tx.CounterpartyID != bob.ID || tx.CreatedBy != alice.ID {
		t.Errorf("transaction = %+v", tx)
	}
	direct, ok := tx.RecipientInfo.Info.(models.DirectRecipient)
	if !ok || direct.Username != "bob" || direct.Memo != "dinner" {
		t.Errorf("recipient info = %#v", tx.RecipientInfo.Info)
	}
	if res.Recipient == nil || res.Recipient.ID != bob.ID {
		t.Errorf("result recipient = %+v", res.Recipient)
	}

	history, _ := f.transactions.History(ctx, callerOf(alice), 0)
	if len(history) != 1 || history[0].ID != tx.ID {
		t.Errorf("history = %d records", len(history))
	}
	if f.publisher.count() != 1 {
		t.Errorf("published %d events, want 1", f.publisher.count())
	}
}

func TestExecuteTransferInfersEmailRecipient(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", "10", models.RoleUser)
	bob := f.account(t, "bob", "0", models.RoleUser)

	_, err := f.transactions.ExecuteTransfer(context.Background(), callerOf(alice), models.TransferRequest{
		Recipient: "BOB@example.com",
		Amount:    decimal.RequireFromString("2.50"),
		Pin:       testPin,
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer() error = %v", err)
	}
	wantBalance(t, f, alice, "7.50")
	wantBalance(t, f, bob, "2.50")
}

func TestExecuteTransferRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture, bob *models.Account)
		req     models.TransferRequest
		wantErr error
	}{
		{
			name:    "insufficient funds",
			req:     models.TransferRequest{Recipient: "bob", Amount: decimal.NewFromInt(101), Pin: testPin},
			wantErr: models.ErrInsufficientFunds,
		},
		{
			name:    "wrong pin",
			req:     models.TransferRequest{Recipient: "bob", Amount: decimal.NewFromInt(1), Pin: "9999"},
			wantErr: models.ErrInvalidPin,
		},
		{
			name:    "zero amount",
			req:     models.TransferRequest{Recipient: "bob", Amount: decimal.Zero, Pin: testPin},
			wantErr: models.ErrInvalidAmount,
		},
		{
			name:    "sub-cent amount",
			req:     models.TransferRequest{Recipient: "bob", Amount: decimal.RequireFromString("0.001"), Pin: testPin},
			wantErr: models.ErrInvalidAmount,
		},
		{
			name:    "unknown recipient",
			req:     models.TransferRequest{Recipient: "carol", Amount: decimal.NewFromInt(1), Pin: testPin},
			wantErr: models.ErrRecipientNotFound,
		},
		{
			name:    "self transfer",
			req:     models.TransferRequest{Recipient: "alice", Amount: decimal.NewFromInt(1), Pin: testPin},
			wantErr: models.ErrSelfTransfer,
		},
		{
			name: "inactive recipient",
			setup: func(t *testing.T, f *fixture, bob *models.Account) {
				if _, err := f.store.UpdateAccountStatus(context.Background(), bob.ID, models.StatusInactive); err != nil {
					t.Fatalf("UpdateAccountStatus() error = %v", err)
				}
			},
			req:     models.TransferRequest{Recipient: "bob", Amount: decimal.NewFromInt(1), Pin: testPin},
			wantErr: models.ErrRecipientInactive,
		},
		{
			name:    "unknown method",
			req:     models.TransferRequest{Recipient: "bob", Amount: decimal.NewFromInt(1), Pin: testPin, TransferMethod: "pigeon"},
			wantErr: models.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			alice := f.account(t, "alice", "100", models.RoleUser)
			bob := f.account(t, "bob", "5", models.RoleUser)
			if tt.setup != nil {
				tt.setup(t, f, bob)
			}

			_, err := f.transactions.ExecuteTransfer(context.Background(), callerOf(alice), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ExecuteTransfer() error = %v, want %v", err, tt.wantErr)
			}
			wantBalance(t, f, alice, "100")
			wantBalance(t, f, bob, "5")
			if txs, _ := f.store.ListTransactions(context.Background(), 0); len(txs) != 0 {
				t.Errorf("rejected transfer recorded %d transactions", len(txs))
			}
			if f.publisher.count() != 0 {
				t.Errorf("rejected transfer published %d events", f.publisher.count())
			}
		})
	}
}

func TestExecuteTransferInactiveSender(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", "100", models.RoleUser)
	f.account(t, "bob", "0", models.RoleUser)
	if _, err := f.store.UpdateAccountStatus(context.Background(), alice.ID, models.StatusInactive); err != nil {
		t.Fatalf("UpdateAccountStatus() error = %v", err)
	}

	_, err := f.transactions.ExecuteTransfer(context.Background(), callerOf(alice), models.TransferRequest{
		Recipient: "bob", Amount: decimal.NewFromInt(1), Pin: testPin,
	})
	if !errors.Is(err, models.ErrAccountInactive) {
		t.Errorf("ExecuteTransfer() error = %v, want ErrAccountInactive", err)
	}
}

func TestExecuteTransferExternalDebitsOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", "100", models.RoleUser)

	res, err := f.transactions.ExecuteTransfer(context.Background(), callerOf(alice), models.TransferRequest{
		Amount:         decimal.NewFromInt(40),
		Pin:            testPin,
		Memo:           "groceries",
		TransferMethod: models.MethodCard,
		AdditionalData: map[string]any{"cardNumber": "5500-0000-0000-0004", "cardholderName": "A"},
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer() error = %v", err)
	}
	wantBalance(t, f, alice, "60")

	if res.Recipient != nil || res.Transaction.CounterpartyID != "" {
		t.Errorf("external transfer has a counterparty: %+v", res)
	}
	card, ok := res.Transaction.RecipientInfo.Info.(models.CardRecipient)
	if !ok || card.MaskedNumber() != "xxxx-xxxx-xxxx-0004" || card.Memo != "groceries" {
		t.Errorf("recipient info = %#v", res.Transaction.RecipientInfo.Info)
	}
}

func TestExecuteTransferSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.failWith = errors.New("broker down")
	alice := f.account(t, "alice", "10", models.RoleUser)
	bob := f.account(t, "bob", "0", models.RoleUser)

	if _, err := f.transactions.ExecuteTransfer(context.Background(), callerOf(alice), models.TransferRequest{
		Recipient: "bob", Amount: decimal.NewFromInt(10), Pin: testPin,
	}); err != nil {
		t.Fatalf("ExecuteTransfer() error = %v", err)
	}
	wantBalance(t, f, alice, "0")
	wantBalance(t, f, bob, "10")
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	f := newFixtureWith(t, 5*time.Second, RetryPolicy{MaxRetries: 10, Backoff: time.Millisecond})
	ctx := context.Background()
	alice := f.account(t, "alice", "100", models.RoleUser)
	bob := f.account(t, "bob", "100", models.RoleUser)
	carol := f.account(t, "carol", "100", models.RoleUser)
	parties := []*models.Account{alice, bob, carol}

	const transfers = 60
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < transfers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := parties[i%3]
			to := parties[(i+1)%3]
			_, err := f.transactions.ExecuteTransfer(ctx, callerOf(from), models.TransferRequest{
				Recipient: to.Username,
				Amount:    decimal.NewFromInt(7),
				Pin:       testPin,
			})
			if err != nil && !errors.Is(err, models.ErrInsufficientFunds) {
				t.Errorf("ExecuteTransfer() error = %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, a := range parties {
		b := f.balance(t, a.ID)
		if b.IsNegative() {
			t.Errorf("%s balance went negative: %s", a.Username, b)
		}
		total = total.Add(b)
	}
	if !total.Equal(decimal.NewFromInt(300)) {
		t.Errorf("total balance = %s, want 300", total)
	}
	txs, _ := f.store.ListTransactions(ctx, 0)
	if len(txs) != succeeded {
		t.Errorf("recorded %d transfers, %d succeeded", len(txs), succeeded)
	}
}

func TestTransferBusyWhenLockUnavailable(t *testing.T) {
	f := newFixtureWith(t, 20*time.Millisecond, RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond})
	ctx := context.Background()
	alice := f.account(t, "alice", "100", models.RoleUser)
	bob := f.account(t, "bob", "0", models.RoleUser)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.InTx(ctx, func(tx db.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := f.transactions.ExecuteTransfer(ctx, callerOf(alice), models.TransferRequest{
		Recipient: "bob", Amount: decimal.NewFromInt(10), Pin: testPin,
	})
	close(release)
	<-done

	if !errors.Is(err, models.ErrBusy) {
		t.Fatalf("ExecuteTransfer() error = %v, want ErrBusy", err)
	}
	wantBalance(t, f, alice, "100")
	wantBalance(t, f, bob, "0")
}

func TestAdminCreateTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.account(t, "root", "0", models.RoleAdmin)
	user := f.account(t, "alice", "10", models.RoleUser)
	now := time.Now().UTC()

	tx, err := f.transactions.AdminCreateTransaction(ctx, callerOf(admin), models.AdminTransactionRequest{
		UserID:    user.ID,
		Type:      models.Deposit,
		Amount:    decimal.NewFromInt(50),
		Timestamp: &now,
	})
	if err != nil {
		t.Fatalf("AdminCreateTransaction() error = %v", err)
	}
	wantBalance(t, f, user, "60")
	if tx.CreatedBy != admin.ID || tx.AccountID != user.ID {
		t.Errorf("transaction = %+v", tx)
	}

	_, err = f.transactions.AdminCreateTransaction(ctx, callerOf(admin), models.AdminTransactionRequest{
		UserID: user.ID, Type: models.Withdrawal, Amount: decimal.NewFromInt(61), Timestamp: &now,
	})
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Errorf("overdraw error = %v, want ErrInsufficientFunds", err)
	}

	if _, err := f.transactions.AdminCreateTransaction(ctx, callerOf(admin), models.AdminTransactionRequest{
		UserID: user.ID, Type: models.Withdrawal, Amount: decimal.NewFromInt(60), Timestamp: &now,
	}); err != nil {
		t.Fatalf("withdraw all error = %v", err)
	}
	wantBalance(t, f, user, "0")

	cases := []struct {
		name    string
		caller  auth.Caller
		req     models.AdminTransactionRequest
		wantErr error
	}{
		{"not admin", callerOf(user), models.AdminTransactionRequest{UserID: user.ID, Type: models.Deposit, Amount: decimal.NewFromInt(1), Timestamp: &now}, models.ErrForbidden},
		{"missing timestamp", callerOf(admin), models.AdminTransactionRequest{UserID: user.ID, Type: models.Deposit, Amount: decimal.NewFromInt(1)}, models.ErrInvalidInput},
		{"bad type", callerOf(admin), models.AdminTransactionRequest{UserID: user.ID, Type: "refund", Amount: decimal.NewFromInt(1), Timestamp: &now}, models.ErrInvalidType},
		{"negative amount", callerOf(admin), models.AdminTransactionRequest{UserID: user.ID, Type: models.Deposit, Amount: decimal.NewFromInt(-1), Timestamp: &now}, models.ErrInvalidAmount},
		{"unknown account", callerOf(admin), models.AdminTransactionRequest{UserID: "nope", Type: models.Deposit, Amount: decimal.NewFromInt(1), Timestamp: &now}, models.ErrNotFound},
	}
	for _, c := range cases {
		if _, err := f.transactions.AdminCreateTransaction(ctx, c.caller, c.req); !errors.Is(err, c.wantErr) {
			t.Errorf("%s: error = %v, want %v", c.name, err, c.wantErr)
		}
	}

	all, err := f.transactions.ListAll(ctx, callerOf(admin), 0)
	if err != nil || len(all) != 2 {
		t.Errorf("ListAll() = %d, %v; want 2 records", len(all), err)
	}
	if _, err := f.transactions.ListAll(ctx, callerOf(user), 0); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("ListAll() as user error = %v, want ErrForbidden", err)
	}
}

func TestBalancesCappedAtColumnLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.account(t, "root", "0", models.RoleAdmin)
	rich := f.account(t, "rich", "9999999999999.00", models.RoleUser)
	alice := f.account(t, "alice", "100", models.RoleUser)
	now := time.Now().UTC()

	deposit := func(amount string) error {
		_, err := f.transactions.AdminCreateTransaction(ctx, callerOf(admin), models.AdminTransactionRequest{
			UserID: rich.ID, Type: models.Deposit, Amount: mustAmount(amount), Timestamp: &now,
		})
		return err
	}

	if err := deposit("100000000000000"); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("oversized deposit error = %v, want ErrInvalidAmount", err)
	}
	if err := deposit("0.99"); err != nil {
		t.Fatalf("deposit up to the limit error = %v", err)
	}
	wantBalance(t, f, rich, "9999999999999.99")
	if err := deposit("0.01"); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("overflowing deposit error = %v, want ErrInvalidAmount", err)
	}
	wantBalance(t, f, rich, "9999999999999.99")

	_, err := f.transactions.ExecuteTransfer(ctx, callerOf(alice), models.TransferRequest{
		Recipient: "rich", Amount: mustAmount("5"), Pin: testPin,
	})
	if !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("overflowing credit error = %v, want ErrInvalidAmount", err)
	}
	wantBalance(t, f, alice, "100")
	wantBalance(t, f, rich, "9999999999999.99")

	history, err := f.transactions.ListForAccount(ctx, rich.ID, 0)
	if err != nil || len(history) != 1 {
		t.Errorf("rich history = %d records, %v; want only the accepted deposit", len(history), err)
	}

	huge := mustAmount("10000000000000")
	_, err = f.accounts.CreateAccount(ctx, models.CreateAccountRequest{
		Username: "whale", Email: "whale@example.com", Password: "password123", Pin: testPin, Balance: &huge,
	})
	if !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("oversized opening balance error = %v, want ErrInvalidAmount", err)
	}
}

func TestAttachReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.account(t, "alice", "10", models.RoleUser)
	f.account(t, "bob", "0", models.RoleUser)
	mallory := f.account(t, "mallory", "0", models.RoleUser)
	admin := f.account(t, "root", "0", models.RoleAdmin)

	res, err := f.transactions.ExecuteTransfer(ctx, callerOf(alice), models.TransferRequest{
		Recipient: "bob", Amount: decimal.NewFromInt(1), Pin: testPin,
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer() error = %v", err)
	}
	id := res.Transaction.ID

	if _, err := f.transactions.AttachReceipt(ctx, callerOf(alice), id, ""); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("empty receipt error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.transactions.AttachReceipt(ctx, callerOf(alice), "missing", "r"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := f.transactions.AttachReceipt(ctx, callerOf(mallory), id, "r"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("foreign receipt error = %v, want ErrNotFound", err)
	}

	tx, err := f.transactions.AttachReceipt(ctx, callerOf(alice), id, "receipt-1")
	if err != nil || tx.Receipt != "receipt-1" {
		t.Fatalf("AttachReceipt() = %v, %v", tx, err)
	}
	tx, err = f.transactions.AttachReceipt(ctx, callerOf(admin), id, "receipt-2")
	if err != nil || tx.Receipt != "receipt-2" {
		t.Fatalf("admin AttachReceipt() = %v, %v", tx, err)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(1)) || tx.AccountID != alice.ID {
		t.Errorf("receipt changed other fields: %+v", tx)
	}
	stored, err := f.transactions.GetTransaction(ctx, id)
	if err != nil || stored.Receipt != "receipt-2" {
		t.Errorf("GetTransaction() = %v, %v", stored, err)
	}
}
