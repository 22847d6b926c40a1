package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/auth"
	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher receives committed ledger events. RabbitMQ satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *models.LedgerEvent) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, *models.LedgerEvent) error { return nil }

// handles the transaction log and every balance-moving operation
type TransactionService struct {
	store     db.Store
	accounts  *AccountService
	publisher EventPublisher
	retry     RetryPolicy
	now       func() time.Time
}

// creates a new TransactionService
func NewTransactionService(store db.Store, accounts *AccountService, publisher EventPublisher, retry RetryPolicy) *TransactionService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy
	}
	return &TransactionService{
		store:     store,
		accounts:  accounts,
		publisher: publisher,
		retry:     retry,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// appendRecord is the log's append: validates the record and inserts it in
// the surrounding unit of work. Id and timestamp are assigned when unset.
func (s *TransactionService) appendRecord(ctx context.Context, tx db.Tx, record *models.Transaction) error {
	if !record.Type.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidType, record.Type)
	}
	if err := models.ValidateAmount(record.Amount); err != nil {
		return err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now()
	}
	return tx.InsertTransaction(ctx, record)
}

// ExecuteTransfer debits the caller and, for a direct transfer, credits the
// recipient, recording one transfer owned by the caller. Validation happens
// before any lock; balances are re-checked under the row locks.
func (s *TransactionService) ExecuteTransfer(ctx context.Context, caller auth.Caller, req models.TransferRequest) (*models.TransferResult, error) {
	method := req.TransferMethod
	if method == "" {
		method = models.MethodDirect
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown transfer method %q", models.ErrInvalidInput, method)
	}
	if err := models.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	amount := req.Amount

	sender, err := s.store.GetAccount(ctx, caller.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender: %w", err)
	}
	if !sender.IsActive() {
		return nil, models.ErrAccountInactive
	}
	if !s.accounts.VerifySecret(req.Pin, sender.PinHash) {
		s.reject(sender.ID, amount, method, models.ErrInvalidPin)
		return nil, models.ErrInvalidPin
	}
	if amount.GreaterThan(sender.Balance) {
		s.reject(sender.ID, amount, method, models.ErrInsufficientFunds)
		return nil, models.ErrInsufficientFunds
	}

	var (
		recipient *models.Account
		info      models.RecipientInfo
	)
	if method == models.MethodDirect {
		recipient, err = s.resolveRecipient(ctx, req.RecipientType, req.Recipient)
		if err != nil {
			s.reject(sender.ID, amount, method, err)
			return nil, err
		}
		if recipient.ID == sender.ID {
			return nil, models.ErrSelfTransfer
		}
		info = models.DirectRecipient{Email: recipient.Email, Username: recipient.Username, Memo: req.Memo}
	} else {
		info, err = models.NewExternalRecipient(method, req.Recipient, req.Memo, req.AdditionalData)
		if err != nil {
			return nil, err
		}
	}

	record := &models.Transaction{
		AccountID:     sender.ID,
		Type:          models.Transfer,
		Amount:        amount,
		RecipientInfo: models.Recipient{Info: info},
		CreatedBy:     sender.ID,
	}
	if recipient != nil {
		record.CounterpartyID = recipient.ID
	}

	var senderAfter, recipientAfter decimal.Decimal
	err = s.retry.run(ctx, s.store, func(tx db.Tx) error {
		ids := []string{sender.ID}
		if recipient != nil {
			ids = append(ids, recipient.ID)
		}
		locked, err := tx.LockAccounts(ctx, ids...)
		if err != nil {
			return err
		}

		from := locked[sender.ID]
		if !from.IsActive() {
			return models.ErrAccountInactive
		}
		if amount.GreaterThan(from.Balance) {
			return models.ErrInsufficientFunds
		}
		senderAfter = from.Balance.Sub(amount)
		if err := tx.UpdateBalance(ctx, from.ID, senderAfter); err != nil {
			return err
		}

		if recipient != nil {
			to := locked[recipient.ID]
			if !to.IsActive() {
				return models.ErrRecipientInactive
			}
			recipientAfter = to.Balance.Add(amount)
			if err := tx.UpdateBalance(ctx, to.ID, recipientAfter); err != nil {
				return err
			}
		}

		record.Timestamp = s.now()
		return s.appendRecord(ctx, tx, record)
	})
	if err != nil {
		if isRejection(err) {
			s.reject(sender.ID, amount, method, err)
		}
		return nil, fmt.Errorf("transfer failed: %w", err)
	}

	fields := []zap.Field{
		zap.String("transaction_id", record.ID),
		zap.String("account_id", sender.ID),
		zap.String("method", string(method)),
		zap.String("amount", amount.StringFixed(models.MoneyScale)),
		zap.String("new_balance", senderAfter.StringFixed(models.MoneyScale)),
	}
	if recipient != nil {
		fields = append(fields,
			zap.String("counterparty_id", recipient.ID),
			zap.String("counterparty_balance", recipientAfter.StringFixed(models.MoneyScale)))
		recipient.Balance = recipientAfter
	}
	zap.L().Info("Transfer committed", fields...)

	s.publish(ctx, record)
	return &models.TransferResult{Transaction: record, Recipient: recipient}, nil
}

// resolveRecipient looks the recipient up by email or username. With no
// explicit type, anything containing "@" is treated as an email.
func (s *TransactionService) resolveRecipient(ctx context.Context, recipientType, recipient string) (*models.Account, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", models.ErrInvalidInput)
	}
	if recipientType == "" {
		recipientType = models.RecipientByUsername
		if strings.Contains(recipient, "@") {
			recipientType = models.RecipientByEmail
		}
	}

	var (
		account *models.Account
		err     error
	)
	switch recipientType {
	case models.RecipientByEmail:
		account, err = s.store.GetAccountByEmail(ctx, recipient)
	case models.RecipientByUsername:
		account, err = s.store.GetAccountByUsername(ctx, recipient)
	default:
		return nil, fmt.Errorf("%w: recipientType must be email or username", models.ErrInvalidInput)
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	if !account.IsActive() {
		return nil, models.ErrRecipientInactive
	}
	return account, nil
}

// AdminCreateTransaction records a deposit, withdrawal or transfer against a
// single account on an admin's behalf and moves its balance accordingly.
func (s *TransactionService) AdminCreateTransaction(ctx context.Context, caller auth.Caller, req models.AdminTransactionRequest) (*models.Transaction, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	if req.UserID == "" || req.Type == "" || req.Amount.IsZero() || req.Timestamp == nil || req.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing required fields", models.ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidType, req.Type)
	}
	if err := models.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	record := &models.Transaction{
		AccountID:     req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		RecipientInfo: req.RecipientInfo,
		Timestamp:     req.Timestamp.UTC(),
		CreatedBy:     caller.AccountID,
	}

	var balanceAfter decimal.Decimal
	err := s.retry.run(ctx, s.store, func(tx db.Tx) error {
		locked, err := tx.LockAccounts(ctx, req.UserID)
		if err != nil {
			return err
		}
		account := locked[req.UserID]

		switch req.Type {
		case models.Deposit:
			balanceAfter = account.Balance.Add(req.Amount)
		default:
			if req.Amount.GreaterThan(account.Balance) {
				return models.ErrInsufficientFunds
			}
			balanceAfter = account.Balance.Sub(req.Amount)
		}
		if err := tx.UpdateBalance(ctx, account.ID, balanceAfter); err != nil {
			return err
		}
		return s.appendRecord(ctx, tx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("admin transaction failed: %w", err)
	}

	zap.L().Info("Admin transaction committed",
		zap.String("transaction_id", record.ID),
		zap.String("account_id", record.AccountID),
		zap.String("type", string(record.Type)),
		zap.String("amount", record.Amount.StringFixed(models.MoneyScale)),
		zap.String("new_balance", balanceAfter.StringFixed(models.MoneyScale)),
		zap.String("by", caller.AccountID))

	s.publish(ctx, record)
	return record, nil
}

func (s *TransactionService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListForAccount returns the account's transactions newest first; limit <= 0
// means all of them.
func (s *TransactionService) ListForAccount(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	txs, err := s.store.ListTransactionsByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txs, nil
}

func (s *TransactionService) History(ctx context.Context, caller auth.Caller, limit int) ([]*models.Transaction, error) {
	return s.ListForAccount(ctx, caller.AccountID, limit)
}

func (s *TransactionService) ListAll(ctx context.Context, caller auth.Caller, limit int) ([]*models.Transaction, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txs, nil
}

// AttachReceipt stores receipt text on a transaction. Non-admins can only
// touch their own transactions; anything else looks like a missing id.
func (s *TransactionService) AttachReceipt(ctx context.Context, caller auth.Caller, id, receipt string) (*models.Transaction, error) {
	if receipt == "" {
		return nil, fmt.Errorf("%w: receipt content is required", models.ErrInvalidInput)
	}
	existing, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if !caller.IsAdmin() && existing.AccountID != caller.AccountID {
		return nil, fmt.Errorf("transaction %w", models.ErrNotFound)
	}
	updated, err := s.store.AttachReceipt(ctx, id, receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to save receipt: %w", err)
	}
	return updated, nil
}

// publish is best effort: the money already moved, so a broker outage only
// costs the archive entry.
func (s *TransactionService) publish(ctx context.Context, record *models.Transaction) {
	if err := s.publisher.PublishEvent(ctx, models.NewLedgerEvent(record)); err != nil {
		zap.L().Warn("Failed to publish ledger event",
			zap.String("transaction_id", record.ID),
			zap.Error(err))
	}
}

func (s *TransactionService) reject(accountID string, amount decimal.Decimal, method models.TransferMethod, reason error) {
	zap.L().Warn("Transfer rejected",
		zap.String("account_id", accountID),
		zap.String("method", string(method)),
		zap.String("amount", amount.StringFixed(models.MoneyScale)),
		zap.String("reason", reason.Error()))
}

func isRejection(err error) bool {
	return errors.Is(err, models.ErrInsufficientFunds) ||
		errors.Is(err, models.ErrAccountInactive) ||
		errors.Is(err, models.ErrRecipientInactive) ||
		errors.Is(err, models.ErrBusy)
}
