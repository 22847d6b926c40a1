package db

import (
	"context"
	"errors"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// ErrConflict marks a unit of work that lost a race (lock wait timeout,
// serialization failure, deadlock). It is safe to retry.
var ErrConflict = errors.New("concurrent modification detected")

// Compile-time checks: both backends satisfy Store.
var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

// Store is the contract shared by the Postgres and in-memory backends.
// Username and email lookups are case-insensitive.
type Store interface {
	// --- Accounts ---
	CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error)
	UpdateAccountAvatar(ctx context.Context, id, avatar string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	RecordLogin(ctx context.Context, id, tokenID string, at time.Time) error
	ClearAuthToken(ctx context.Context, id string) error

	// --- Transactions ---
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]*models.Transaction, error)
	AttachReceipt(ctx context.Context, id, receipt string) (*models.Transaction, error)

	// --- Units of work ---
	// InTx runs fn in a single all-or-nothing unit. fn's error rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side of a unit of work. Balance writes and transaction
// inserts only become visible when the surrounding InTx commits.
type Tx interface {
	// LockAccounts locks the given rows in ascending id order and returns them
	// keyed by id. Duplicate ids are locked once.
	LockAccounts(ctx context.Context, ids ...string) (map[string]*models.Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
}
