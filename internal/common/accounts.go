package common

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/abkawan/nivalus-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// AccountSeed is one entry of a provisioning manifest.
type AccountSeed struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Pin      string `yaml:"pin"`
	Role     string `yaml:"role"`
	Status   string `yaml:"status"`
	Balance  string `yaml:"balance"`
}

type AccountManifest struct {
	Accounts []AccountSeed `yaml:"accounts"`
}

// LoadAccountManifest reads and checks a YAML manifest of accounts to create.
func LoadAccountManifest(path string) ([]models.CreateAccountRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	return ParseAccountManifest(data)
}

func ParseAccountManifest(data []byte) ([]models.CreateAccountRequest, error) {
	var manifest AccountManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unable to parse manifest: %w", err)
	}

	reqs := make([]models.CreateAccountRequest, 0, len(manifest.Accounts))
	for i, seed := range manifest.Accounts {
		if seed.Username == "" {
			return nil, fmt.Errorf("account at index %d missing username", i)
		}
		req := models.CreateAccountRequest{
			Username: seed.Username,
			Email:    seed.Email,
			Password: seed.Password,
			Pin:      seed.Pin,
			Role:     models.Role(seed.Role),
			Status:   models.AccountStatus(seed.Status),
		}
		if seed.Balance != "" {
			balance, err := decimal.NewFromString(seed.Balance)
			if err != nil {
				return nil, fmt.Errorf("account %q has invalid balance %q: %w", seed.Username, seed.Balance, err)
			}
			req.Balance = &balance
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// ProvisionAccounts creates every account whose username is not taken yet
// and reports how many were created.
func ProvisionAccounts(ctx context.Context, accounts *service.AccountService, reqs []models.CreateAccountRequest) (int, error) {
	created := 0
	for _, req := range reqs {
		if _, err := accounts.FindByUsername(ctx, req.Username); err == nil {
			zap.L().Info("Account already exists, skipping", zap.String("username", req.Username))
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return created, err
		}

		if _, err := accounts.CreateAccount(ctx, req); err != nil {
			return created, fmt.Errorf("account %q: %w", req.Username, err)
		}
		created++
	}
	return created, nil
}
