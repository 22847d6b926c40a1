package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent is published after a money movement commits and archived by the
// processor. Amount is kept as a string so no consumer round-trips it through
// a float.
type LedgerEvent struct {
	ID             string          `json:"id" bson:"_id"`
	TransactionID  string          `json:"transaction_id" bson:"transaction_id"`
	AccountID      string          `json:"account_id" bson:"account_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty" bson:"counterparty_id,omitempty"`
	Type           TransactionType `json:"type" bson:"type"`
	Amount         string          `json:"amount" bson:"amount"`
	Method         TransferMethod  `json:"method,omitempty" bson:"method,omitempty"`
	CreatedBy      string          `json:"created_by" bson:"created_by"`
	OccurredAt     time.Time       `json:"occurred_at" bson:"occurred_at"`
	ArchivedAt     time.Time       `json:"archived_at,omitempty" bson:"archived_at,omitempty"`
}

func NewLedgerEvent(tx *Transaction) *LedgerEvent {
	ev := &LedgerEvent{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		AccountID:      tx.AccountID,
		CounterpartyID: tx.CounterpartyID,
		Type:           tx.Type,
		Amount:         tx.Amount.StringFixed(MoneyScale),
		CreatedBy:      tx.CreatedBy,
		OccurredAt:     tx.Timestamp,
	}
	if tx.RecipientInfo.Info != nil {
		ev.Method = tx.RecipientInfo.Info.Method()
	}
	return ev
}
