package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/abkawan/nivalus-ledger/internal/common"
	"github.com/abkawan/nivalus-ledger/internal/config"
	"github.com/abkawan/nivalus-ledger/internal/service"
	"go.uber.org/zap"
)

// provision creates accounts from a YAML manifest or resets a password.
// It talks to the store directly and never issues tokens.
func main() {
	file := flag.String("file", "", "YAML manifest of accounts to create")
	resetUser := flag.String("reset-password", "", "Username whose password should be reset")
	password := flag.String("password", "", "New password for -reset-password")
	flag.Parse()

	if (*file == "") == (*resetUser == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -reset-password is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateProvision(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, cleanup := common.InitializeLogger(cfg.LogLevel, cfg.LogDevelopment)
	defer cleanup()

	ctx := context.Background()
	store, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	accounts := service.NewAccountService(store, nil, service.AccountConfig{
		BcryptCost: cfg.BcryptCost,
		Retry:      common.RetryPolicy(cfg),
	})

	if *resetUser != "" {
		if *password == "" {
			logger.Fatal("-password is required with -reset-password")
		}
		if err := accounts.ResetPassword(ctx, *resetUser, *password); err != nil {
			logger.Fatal("Failed to reset password", zap.String("username", *resetUser), zap.Error(err))
		}
		logger.Info("Password reset, existing sessions revoked", zap.String("username", *resetUser))
		return
	}

	reqs, err := common.LoadAccountManifest(*file)
	if err != nil {
		logger.Fatal("Failed to load manifest", zap.Error(err))
	}
	created, err := common.ProvisionAccounts(ctx, accounts, reqs)
	if err != nil {
		logger.Fatal("Provisioning failed", zap.Int("created", created), zap.Error(err))
	}
	logger.Info("Provisioning complete",
		zap.Int("created", created),
		zap.Int("skipped", len(reqs)-created))
}
