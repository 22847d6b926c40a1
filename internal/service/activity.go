package service

import (
	"context"
	"fmt"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/auth"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/abkawan/nivalus-ledger/internal/queue"
	"go.uber.org/zap"
)

// EventArchive stores ledger events for the activity feed. MongoDB satisfies it.
type EventArchive interface {
	ArchiveEvent(ctx context.Context, ev *models.LedgerEvent) error
	ListEvents(ctx context.Context, accountID string, limit, offset int) ([]*models.LedgerEvent, error)
}

// EventSource yields ledger events to archive. RabbitMQ satisfies it.
type EventSource interface {
	ConsumeEvents(ctx context.Context) (<-chan queue.Delivery, error)
}

// handles the ledger activity archive
type ActivityService struct {
	archive EventArchive
	now     func() time.Time

	// requeueDelay holds back the nack of a failed write so an unavailable
	// archive is not hammered with redeliveries.
	requeueDelay time.Duration
}

// DefaultRequeueDelay is the pause before a failed event is requeued.
const DefaultRequeueDelay = 2 * time.Second

// creates a new ActivityService
func NewActivityService(archive EventArchive) *ActivityService {
	return &ActivityService{
		archive:      archive,
		now:          func() time.Time { return time.Now().UTC() },
		requeueDelay: DefaultRequeueDelay,
	}
}

// StartProcessor archives events from source until ctx is cancelled or the
// source closes. It returns once consumption is registered.
func (s *ActivityService) StartProcessor(ctx context.Context, source EventSource) (<-chan struct{}, error) {
	deliveries, err := source.ConsumeEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming events: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range deliveries {
			s.handle(ctx, d)
		}
		zap.L().Info("Event processor stopped")
	}()
	return done, nil
}

// handle archives one delivery; a failed write is requeued after requeueDelay
func (s *ActivityService) handle(ctx context.Context, d queue.Delivery) {
	ev := d.Event
	ev.ArchivedAt = s.now()
	if err := s.archive.ArchiveEvent(ctx, ev); err != nil {
		zap.L().Error("Failed to archive ledger event",
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(s.requeueDelay):
		}
		if err := d.Nack(); err != nil {
			zap.L().Error("Failed to nack ledger event", zap.Error(err))
		}
		return
	}
	if err := d.Ack(); err != nil {
		zap.L().Error("Failed to ack ledger event", zap.Error(err))
		return
	}
	zap.L().Debug("Archived ledger event",
		zap.String("transaction_id", ev.TransactionID),
		zap.String("type", string(ev.Type)))
}

// ListActivity returns archived events, newest first, optionally narrowed to
// one account. Admin only.
func (s *ActivityService) ListActivity(ctx context.Context, caller auth.Caller, accountID string, limit, offset int) ([]*models.LedgerEvent, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.archive.ListEvents(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return events, nil
}
