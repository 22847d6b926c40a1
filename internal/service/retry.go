package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a unit of work that hit db.ErrConflict is
// attempted again before the caller gets ErrBusy.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy matches the config defaults.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Backoff: 50 * time.Millisecond}

func (p RetryPolicy) run(ctx context.Context, store db.Store, fn func(tx db.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := store.InTx(ctx, fn)
		if !errors.Is(err, db.ErrConflict) {
			return err
		}
		if attempt >= p.MaxRetries {
			zap.L().Warn("Giving up on conflicting unit of work",
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return fmt.Errorf("%w: %v", models.ErrBusy, err)
		}

		// linear backoff
		wait := p.Backoff * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
