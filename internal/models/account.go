package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type AccountStatus string

const (
	// StatusActive accounts can log in and move money
	StatusActive AccountStatus = "active"

	// StatusInactive accounts are suspended by an admin
	StatusInactive AccountStatus = "inactive"

	// StatusDeleted is terminal for login; the row is kept for transaction history
	StatusDeleted AccountStatus = "deleted"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeleted:
		return true
	}
	return false
}

// Account is a customer or admin with a single balance
type Account struct {
	ID            string          `json:"id" db:"id"`
	Username      string          `json:"username" db:"username"`
	Email         string          `json:"email" db:"email"`
	PasswordHash  string          `json:"-" db:"password_hash"`
	PinHash       string          `json:"-" db:"pin_hash"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	Role          Role            `json:"role" db:"role"`
	Status        AccountStatus   `json:"status" db:"status"`
	Avatar        string          `json:"avatar,omitempty" db:"avatar"`
	LastLogin     *time.Time      `json:"last_login,omitempty" db:"last_login"`
	AuthTokenID   string          `json:"-" db:"auth_token_id"`
	TokenIssuedAt *time.Time      `json:"-" db:"token_issued_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// CreateAccountRequest is the signup and admin-create payload.
type CreateAccountRequest struct {
	Username string           `json:"username"`
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Pin      string           `json:"pin"`
	Balance  *decimal.Decimal `json:"balance,omitempty"`
	Role     Role             `json:"role,omitempty"`
	Status   AccountStatus    `json:"status,omitempty"`
	Avatar   string           `json:"avatar,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Token    string `json:"token"`
}

type UpdateStatusRequest struct {
	Status AccountStatus `json:"status"`
}

type UpdateAvatarRequest struct {
	Avatar string `json:"avatar"`
}

// AccountResponse never carries secret fields
type AccountResponse struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	Role      Role            `json:"role"`
	Status    AccountStatus   `json:"status"`
	Avatar    string          `json:"avatar,omitempty"`
	LastLogin *time.Time      `json:"last_login,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewAccountResponse(a *Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		Balance:   a.Balance,
		Role:      a.Role,
		Status:    a.Status,
		Avatar:    a.Avatar,
		LastLogin: a.LastLogin,
		CreatedAt: a.CreatedAt,
	}
}

// ProfileResponse is the caller's own summary with their latest transactions.
type ProfileResponse struct {
	AccountResponse
	RecentTransactions []TransactionResponse `json:"recentTransactions"`
}
