package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abkawan/nivalus-ledger/internal/auth"
	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AccountConfig tunes AccountService.
type AccountConfig struct {
	BcryptCost         int
	RecentTransactions int
	Retry              RetryPolicy
}

// handles account operations and caller resolution
type AccountService struct {
	store  db.Store
	tokens *auth.Tokens
	cfg    AccountConfig
}

// creates a new Account Service
func NewAccountService(store db.Store, tokens *auth.Tokens, cfg AccountConfig) *AccountService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.RecentTransactions <= 0 {
		cfg.RecentTransactions = 5
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy
	}
	return &AccountService{
		store:  store,
		tokens: tokens,
		cfg:    cfg,
	}
}

// HashSecret hashes a password or PIN for storage.
func (s *AccountService) HashSecret(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether plain matches hash.
func (s *AccountService) VerifySecret(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// CreateAccount validates req, rejects usernames and emails already taken by
// any account (deleted ones included) and stores the hashed secrets.
func (s *AccountService) CreateAccount(ctx context.Context, req models.CreateAccountRequest) (*models.Account, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateCreateAccount(&req); err != nil {
		return nil, err
	}

	if _, err := s.store.GetAccountByUsername(ctx, req.Username); err == nil {
		return nil, models.ErrDuplicateUsername
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if _, err := s.store.GetAccountByEmail(ctx, req.Email); err == nil {
		return nil, models.ErrDuplicateEmail
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	passwordHash, err := s.HashSecret(req.Password)
	if err != nil {
		return nil, err
	}
	pinHash, err := s.HashSecret(req.Pin)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		PinHash:      pinHash,
		Balance:      decimal.Zero,
		Role:         models.RoleUser,
		Status:       models.StatusActive,
		Avatar:       req.Avatar,
	}
	if req.Balance != nil {
		account.Balance = *req.Balance
	}
	if req.Role != "" {
		account.Role = req.Role
	}
	if req.Status != "" {
		account.Status = req.Status
	}

	created, err := s.store.CreateAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	zap.L().Info("Account created",
		zap.String("account_id", created.ID),
		zap.String("username", created.Username),
		zap.String("role", string(created.Role)))
	return created, nil
}

// Signup is public account creation: always a user, active, zero balance.
func (s *AccountService) Signup(ctx context.Context, req models.CreateAccountRequest) (*models.Account, error) {
	req.Role = models.RoleUser
	req.Status = models.StatusActive
	req.Balance = nil
	return s.CreateAccount(ctx, req)
}

func (s *AccountService) AdminCreateAccount(ctx context.Context, caller auth.Caller, req models.CreateAccountRequest) (*models.Account, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.CreateAccount(ctx, req)
}

// retrieves an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (s *AccountService) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	account, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (s *AccountService) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Login checks the password, then the account status, and issues a token that
// replaces any previously issued one.
func (s *AccountService) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrInvalidInput)
	}

	account, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !s.VerifySecret(password, account.PasswordHash) {
		zap.L().Warn("Rejected login", zap.String("account_id", account.ID))
		return nil, models.ErrInvalidCredentials
	}
	if !account.IsActive() {
		return nil, models.ErrAccountInactive
	}

	token, tokenID, issuedAt, err := s.tokens.Issue(account.ID, account.Role)
	if err != nil {
		return nil, err
	}
	if err := s.store.RecordLogin(ctx, account.ID, tokenID, issuedAt); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	zap.L().Info("Account logged in", zap.String("account_id", account.ID))
	return &models.LoginResponse{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
		Role:     account.Role,
		Token:    token,
	}, nil
}

func (s *AccountService) Logout(ctx context.Context, caller auth.Caller) error {
	if err := s.store.ClearAuthToken(ctx, caller.AccountID); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// ResolveCaller turns a bearer token into a Caller. The token must be the one
// most recently issued to the account and the account must be active.
func (s *AccountService) ResolveCaller(ctx context.Context, token string) (auth.Caller, error) {
	if token == "" {
		return auth.Caller{}, models.ErrUnauthenticated
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return auth.Caller{}, err
	}

	account, err := s.store.GetAccount(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return auth.Caller{}, models.ErrUnauthenticated
		}
		return auth.Caller{}, fmt.Errorf("failed to get account: %w", err)
	}
	if account.AuthTokenID == "" || account.AuthTokenID != claims.ID {
		return auth.Caller{}, fmt.Errorf("%w: token revoked", models.ErrUnauthenticated)
	}
	if !account.IsActive() {
		return auth.Caller{}, models.ErrAccountInactive
	}

	// role comes from the account, not the token, so demotions apply at once
	return auth.Caller{AccountID: account.ID, Role: account.Role}, nil
}

// Profile returns the caller's account and most recent transactions.
func (s *AccountService) Profile(ctx context.Context, caller auth.Caller) (*models.ProfileResponse, error) {
	account, err := s.GetAccount(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListTransactionsByAccount(ctx, account.ID, s.cfg.RecentTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent transactions: %w", err)
	}
	return &models.ProfileResponse{
		AccountResponse:    models.NewAccountResponse(account),
		RecentTransactions: models.NewTransactionResponses(recent),
	}, nil
}

func (s *AccountService) UpdateAvatar(ctx context.Context, caller auth.Caller, avatar string) (*models.Account, error) {
	if avatar == "" {
		return nil, fmt.Errorf("%w: avatar is required", models.ErrInvalidInput)
	}
	account, err := s.store.UpdateAccountAvatar(ctx, caller.AccountID, avatar)
	if err != nil {
		return nil, fmt.Errorf("failed to update avatar: %w", err)
	}
	return account, nil
}

// UpdateStatus is admin-only. Deleting only flips the status; the row stays
// for transaction history.
func (s *AccountService) UpdateStatus(ctx context.Context, caller auth.Caller, id string, status models.AccountStatus) (*models.Account, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, status)
	}
	account, err := s.store.UpdateAccountStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	zap.L().Info("Account status changed",
		zap.String("account_id", id),
		zap.String("status", string(status)),
		zap.String("by", caller.AccountID))
	return account, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, caller auth.Caller) ([]*models.Account, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateBalance replaces the stored balance under the account's row lock.
func (s *AccountService) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) (*models.Account, error) {
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: balance cannot be negative", models.ErrInvalidAmount)
	}
	err := s.cfg.Retry.run(ctx, s.store, func(tx db.Tx) error {
		if _, err := tx.LockAccounts(ctx, id); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, id, balance)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return s.GetAccount(ctx, id)
}

// ResetPassword is used by provisioning tooling, never by the API.
func (s *AccountService) ResetPassword(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	account, err := s.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	hash, err := s.HashSecret(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return s.store.ClearAuthToken(ctx, account.ID)
}
