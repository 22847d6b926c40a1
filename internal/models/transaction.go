package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	// Deposit credits the owning account
	Deposit TransactionType = "deposit"

	// Withdrawal debits the owning account
	Withdrawal TransactionType = "withdrawal"

	// Transfer debits the owning account; a direct transfer also credits the counterparty
	Transfer TransactionType = "transfer"
)

func (t TransactionType) Valid() bool {
	switch t {
	case Deposit, Withdrawal, Transfer:
		return true
	}
	return false
}

// MoneyScale is the number of fractional digits kept for balances and amounts.
const MoneyScale = 2

// MaxMoney is the largest amount or balance a NUMERIC(15,2) column holds.
var MaxMoney = decimal.RequireFromString("9999999999999.99")

// ValidateAmount rejects non-positive amounts, amounts finer than a cent and
// amounts above MaxMoney.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidAmount, MoneyScale)
	}
	if amount.GreaterThan(MaxMoney) {
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalidAmount, MaxMoney.StringFixed(MoneyScale))
	}
	return nil
}

// ValidateBalance rejects balances below zero or above MaxMoney.
func ValidateBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: balance cannot be negative", ErrInvalidAmount)
	}
	if balance.GreaterThan(MaxMoney) {
		return fmt.Errorf("%w: balance would exceed %s", ErrInvalidAmount, MaxMoney.StringFixed(MoneyScale))
	}
	return nil
}

// Transaction is an immutable money movement; only Receipt may be set later.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Type           TransactionType `json:"type" db:"type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	RecipientInfo  Recipient       `json:"recipient_info" db:"recipient_info"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	Receipt        string          `json:"receipt,omitempty" db:"receipt"`
}

// TransferRequest is the body of POST /api/transfer.
type TransferRequest struct {
	Recipient      string          `json:"recipient"`
	RecipientType  string          `json:"recipientType"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo,omitempty"`
	Pin            string          `json:"pin"`
	TransferMethod TransferMethod  `json:"transferMethod"`
	AdditionalData map[string]any  `json:"additionalData,omitempty"`
}

const (
	RecipientByEmail    = "email"
	RecipientByUsername = "username"
)

// AdminTransactionRequest is the body of POST /api/admin/transactions.
type AdminTransactionRequest struct {
	UserID        string          `json:"userId"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     *time.Time      `json:"timestamp"`
	RecipientInfo Recipient       `json:"recipientInfo"`
}

type ReceiptRequest struct {
	Receipt string `json:"receipt"`
}

// TransactionResponse represents the API response for transaction data
type TransactionResponse struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	Type           TransactionType `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	RecipientInfo  Recipient       `json:"recipient_info"`
	Timestamp      time.Time       `json:"timestamp"`
	CreatedBy      string          `json:"created_by"`
	Receipt        string          `json:"receipt,omitempty"`
}

func NewTransactionResponse(tx *Transaction) TransactionResponse {
	return TransactionResponse{
		ID:             tx.ID,
		AccountID:      tx.AccountID,
		CounterpartyID: tx.CounterpartyID,
		Type:           tx.Type,
		Amount:         tx.Amount,
		RecipientInfo:  tx.RecipientInfo,
		Timestamp:      tx.Timestamp,
		CreatedBy:      tx.CreatedBy,
		Receipt:        tx.Receipt,
	}
}

func NewTransactionResponses(txs []*Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, NewTransactionResponse(tx))
	}
	return out
}

// TransferResult is what ExecuteTransfer hands back: the recorded transaction
// and who received the money.
type TransferResult struct {
	Transaction *Transaction
	Recipient   *Account
}

// TransferResponse is the body returned by POST /api/transfer.
type TransferResponse struct {
	Message     string          `json:"message"`
	Transaction TransferSummary `json:"transaction"`
}

type TransferSummary struct {
	ID             string          `json:"id"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp"`
	Memo           string          `json:"memo"`
	TransferMethod TransferMethod  `json:"transferMethod"`
	Recipient      string          `json:"recipient"`
	RecipientEmail string          `json:"recipientEmail,omitempty"`
	RecipientInfo  *Recipient      `json:"recipientInfo,omitempty"`
}

func NewTransferResponse(res *TransferResult) TransferResponse {
	tx := res.Transaction
	summary := TransferSummary{
		ID:        tx.ID,
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp,
	}
	if info := tx.RecipientInfo.Info; info != nil {
		summary.Memo = info.MemoText()
		summary.TransferMethod = info.Method()
	}
	if res.Recipient != nil {
		summary.Recipient = res.Recipient.Username
		summary.RecipientEmail = res.Recipient.Email
	} else {
		summary.Recipient = "External Recipient"
		ri := tx.RecipientInfo
		summary.RecipientInfo = &ri
	}
	return TransferResponse{Message: "Transfer successful", Transaction: summary}
}
