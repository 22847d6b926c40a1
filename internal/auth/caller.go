package auth

import (
	"context"

	"github.com/abkawan/nivalus-ledger/internal/models"
)

// Caller is the authenticated identity a request acts as. Services take it as
// an explicit argument instead of reading request state.
type Caller struct {
	AccountID string
	Role      models.Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

// RequireAdmin returns ErrForbidden for non-admin callers.
func (c Caller) RequireAdmin() error {
	if !c.IsAdmin() {
		return models.ErrForbidden
	}
	return nil
}

type callerKey struct{}

// WithCaller is used by the HTTP layer to hand the resolved caller from the
// auth middleware to the handler.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
