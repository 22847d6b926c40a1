package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is a thread-safe in-memory Store. Units of work are serialized by a
// single writer slot, so it gives the same no-lost-update guarantee as the
// Postgres row locks, only coarser.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	txSeq        map[string]int64
	seq          int64

	writer      chan struct{}
	lockTimeout time.Duration
}

func NewMemory(lockTimeout time.Duration) *Memory {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Memory{
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
		txSeq:        make(map[string]int64),
		writer:       make(chan struct{}, 1),
		lockTimeout:  lockTimeout,
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func copyAccount(a *models.Account) *models.Account {
	cp := *a
	return &cp
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	cp := *t
	return &cp
}

func (m *Memory) CreateAccount(ctx context.Context, a *models.Account) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accounts {
		if strings.EqualFold(existing.Username, a.Username) {
			return nil, models.ErrDuplicateUsername
		}
		if strings.EqualFold(existing.Email, a.Email) {
			return nil, models.ErrDuplicateEmail
		}
	}

	created := copyAccount(a)
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Balance = created.Balance.Round(models.MoneyScale)
	m.accounts[created.ID] = created
	return copyAccount(created), nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %w", models.ErrNotFound)
	}
	return copyAccount(a), nil
}

func (m *Memory) findAccount(match func(*models.Account) bool) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if match(a) {
			return copyAccount(a), nil
		}
	}
	return nil, fmt.Errorf("account %w", models.ErrNotFound)
}

func (m *Memory) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return m.findAccount(func(a *models.Account) bool { return strings.EqualFold(a.Username, username) })
}

func (m *Memory) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return m.findAccount(func(a *models.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (m *Memory) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Account{}
	for _, a := range m.accounts {
		if a.Status == models.StatusDeleted {
			continue
		}
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// updateAccount applies fn to the stored account under the write lock.
func (m *Memory) updateAccount(id string, fn func(*models.Account)) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %w", models.ErrNotFound)
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return copyAccount(a), nil
}

func (m *Memory) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	return m.updateAccount(id, func(a *models.Account) { a.Status = status })
}

func (m *Memory) UpdateAccountAvatar(ctx context.Context, id, avatar string) (*models.Account, error) {
	return m.updateAccount(id, func(a *models.Account) { a.Avatar = avatar })
}

func (m *Memory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := m.updateAccount(id, func(a *models.Account) { a.PasswordHash = passwordHash })
	return err
}

func (m *Memory) RecordLogin(ctx context.Context, id, tokenID string, at time.Time) error {
	at = at.UTC()
	_, err := m.updateAccount(id, func(a *models.Account) {
		a.LastLogin = &at
		a.AuthTokenID = tokenID
		a.TokenIssuedAt = &at
	})
	return err
}

func (m *Memory) ClearAuthToken(ctx context.Context, id string) error {
	_, err := m.updateAccount(id, func(a *models.Account) { a.AuthTokenID = "" })
	return err
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %w", models.ErrNotFound)
	}
	return copyTransaction(t), nil
}

func (m *Memory) ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	return m.listTransactions(func(t *models.Transaction) bool { return t.AccountID == accountID }, limit), nil
}

func (m *Memory) ListTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	return m.listTransactions(func(*models.Transaction) bool { return true }, limit), nil
}

// listTransactions returns matches newest first; equal timestamps fall back to
// insertion order, newest first.
func (m *Memory) listTransactions(match func(*models.Transaction) bool, limit int) []*models.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Transaction{}
	for _, t := range m.transactions {
		if match(t) {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return m.txSeq[out[i].ID] > m.txSeq[out[j].ID]
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) AttachReceipt(ctx context.Context, id, receipt string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %w", models.ErrNotFound)
	}
	t.Receipt = receipt
	return copyTransaction(t), nil
}

// InTx takes the writer slot, waiting at most the lock timeout, and applies
// the staged writes only if fn succeeds.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()

	select {
	case m.writer <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: lock wait timeout after %v", ErrConflict, m.lockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.writer }()

	tx := &memTx{store: m, balances: make(map[string]decimal.Decimal)}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range tx.balances {
		if _, ok := m.accounts[id]; !ok {
			return fmt.Errorf("account %w", models.ErrNotFound)
		}
	}

	now := time.Now().UTC()
	for id, balance := range tx.balances {
		a := m.accounts[id]
		a.Balance = balance
		a.UpdatedAt = now
	}
	for _, t := range tx.inserts {
		m.seq++
		m.transactions[t.ID] = t
		m.txSeq[t.ID] = m.seq
	}
	return nil
}

type memTx struct {
	store    *Memory
	balances map[string]decimal.Decimal
	inserts  []*models.Transaction
}

func (t *memTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*models.Account, error) {
	locked := make(map[string]*models.Account, len(ids))
	for _, id := range sortedUnique(ids) {
		a, err := t.store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if staged, ok := t.balances[id]; ok {
			a.Balance = staged
		}
		locked[id] = a
	}
	return locked, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if err := models.ValidateBalance(balance); err != nil {
		return err
	}
	if _, err := t.store.GetAccount(ctx, id); err != nil {
		return err
	}
	t.balances[id] = balance.Round(models.MoneyScale)
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.Timestamp.IsZero() {
		txn.Timestamp = time.Now().UTC()
	}
	t.inserts = append(t.inserts, copyTransaction(txn))
	return nil
}
