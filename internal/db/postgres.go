package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresConfig holds connection and locking settings
type PostgresConfig struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	// LockTimeout bounds how long a unit of work waits for a row lock.
	LockTimeout time.Duration
}

// Postgres handles PostgreSQL database operations
type Postgres struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// creates a new Postgres instance
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("postgres uri cannot be empty")
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("lock timeout must be positive, got %v", cfg.LockTimeout)
	}

	db, err := sql.Open("postgres", cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Postgres{db: db, lockTimeout: cfg.LockTimeout}, nil
}

// closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// initialize the database schema
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.PinHash, &a.Balance, &a.Role, &a.Status, &a.Avatar,
		&a.LastLogin, &a.AuthTokenID, &a.TokenIssuedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %w", models.ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.AccountID, &t.CounterpartyID, &t.Type, &t.Amount, &t.RecipientInfo,
		&t.Timestamp, &t.CreatedBy, &t.Receipt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %w", models.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// classify turns driver errors into ledger errors.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
	case "23505": // unique_violation
		switch pqErr.Constraint {
		case constraintUsername:
			return models.ErrDuplicateUsername
		case constraintEmail:
			return models.ErrDuplicateEmail
		}
	case "23514": // check_violation on balance >= 0 or amount > 0
		return fmt.Errorf("%w: value out of range", models.ErrInvalidAmount)
	case "22003": // numeric_value_out_of_range
		return fmt.Errorf("%w: value exceeds %s", models.ErrInvalidAmount, models.MaxMoney.StringFixed(models.MoneyScale))
	}
	return err
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// creates a new account
func (p *Postgres) CreateAccount(ctx context.Context, a *models.Account) (*models.Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	row := p.db.QueryRowContext(ctx, queryInsertAccount,
		a.ID, a.Username, a.Email, a.PasswordHash, a.PinHash, a.Balance, a.Role, a.Status, a.Avatar,
		a.LastLogin, a.AuthTokenID, a.TokenIssuedAt, now, now,
	)
	created, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", classify(err))
	}
	return created, nil
}

// retrieves an account by ID
func (p *Postgres) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, queryGetAccount, id))
}

func (p *Postgres) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, queryGetAccountByUsername, username))
}

func (p *Postgres) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, queryGetAccountByEmail, email))
}

func (p *Postgres) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := p.db.QueryContext(ctx, queryListAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []*models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (p *Postgres) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, queryUpdateStatus, status, time.Now().UTC(), id))
}

func (p *Postgres) UpdateAccountAvatar(ctx context.Context, id, avatar string) (*models.Account, error) {
	return scanAccount(p.db.QueryRowContext(ctx, queryUpdateAvatar, avatar, time.Now().UTC(), id))
}

func (p *Postgres) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return p.execOne(ctx, queryUpdatePassword, passwordHash, time.Now().UTC(), id)
}

func (p *Postgres) RecordLogin(ctx context.Context, id, tokenID string, at time.Time) error {
	return p.execOne(ctx, queryRecordLogin, at.UTC(), tokenID, id)
}

func (p *Postgres) ClearAuthToken(ctx context.Context, id string) error {
	return p.execOne(ctx, queryClearAuthToken, time.Now().UTC(), id)
}

// execOne runs an update that must touch exactly one account row.
func (p *Postgres) execOne(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %w", models.ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return scanTransaction(p.db.QueryRowContext(ctx, queryGetTransaction, id))
}

func (p *Postgres) ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	return p.listTransactions(ctx, queryListTransactionsByAccount, accountID, limitArg(limit))
}

func (p *Postgres) ListTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	return p.listTransactions(ctx, queryListTransactions, limitArg(limit))
}

func (p *Postgres) listTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}
	defer rows.Close()

	txs := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (p *Postgres) AttachReceipt(ctx context.Context, id, receipt string) (*models.Transaction, error) {
	return scanTransaction(p.db.QueryRowContext(ctx, queryAttachReceipt, receipt, id))
}

// InTx runs fn inside a READ COMMITTED transaction whose lock waits are capped
// at the configured lock timeout.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				zap.L().Warn("Failed to roll back transaction", zap.Error(rbErr))
			}
		}
	}()

	lockQuery := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())
	if _, err = sqlTx.ExecContext(ctx, lockQuery); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", classify(err))
	}

	if err = fn(&pgTx{tx: sqlTx}); err != nil {
		return classify(err)
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*models.Account, error) {
	ordered := sortedUnique(ids)
	locked := make(map[string]*models.Account, len(ordered))
	for _, id := range ordered {
		a, err := scanAccount(t.tx.QueryRowContext(ctx, queryLockAccount, id))
		if err != nil {
			return nil, err
		}
		locked[id] = a
	}
	return locked, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if err := models.ValidateBalance(balance); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, queryUpdateBalance, balance.Round(models.MoneyScale), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %w", models.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.Timestamp.IsZero() {
		txn.Timestamp = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, queryInsertTransaction,
		txn.ID, txn.AccountID, txn.CounterpartyID, txn.Type, txn.Amount, txn.RecipientInfo,
		txn.Timestamp, txn.CreatedBy, txn.Receipt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// sortedUnique returns ids ascending without duplicates, the lock order every
// unit of work follows.
func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
