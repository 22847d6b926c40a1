package models

import "errors"

// Ledger errors. Every layer wraps these with fmt.Errorf("...: %w") so callers
// can branch with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive or deleted")
	ErrRecipientInactive  = errors.New("recipient account is inactive or deleted")
	ErrInvalidPin         = errors.New("invalid PIN")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("admin privileges required")
	ErrBusy               = errors.New("account busy, retry later")

	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrSelfTransfer  = errors.New("cannot transfer to own account")
)
