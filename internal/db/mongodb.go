package db

import (
	"context"
	"fmt"
	"time"

	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ActivityCollection holds archived ledger events
const ActivityCollection = "activity"

// MongoDB archives ledger events for the admin activity feed
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// creates a new MongoDB instance
func NewMongoDB(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Mongodb: %w", err)
	}

	// pinging the database
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping Mongodb: %w", err)
	}

	collection := client.Database(dbName).Collection(ActivityCollection)

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "counterparty_id", Value: 1}},
		},
		{
			// one archived event per ledger transaction, so redelivery is harmless
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoDB{
		client:     client,
		collection: collection,
	}, nil
}

// closes the mongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// ArchiveEvent stores ev. Archiving the same transaction twice is a no-op.
func (m *MongoDB) ArchiveEvent(ctx context.Context, ev *models.LedgerEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ArchivedAt.IsZero() {
		ev.ArchivedAt = time.Now().UTC()
	}

	_, err := m.collection.InsertOne(ctx, ev)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns archived events newest first. An empty accountID lists
// every account; otherwise events where the account is owner or counterparty.
func (m *MongoDB) ListEvents(ctx context.Context, accountID string, limit, offset int) ([]*models.LedgerEvent, error) {
	filter := bson.M{}
	if accountID != "" {
		filter = bson.M{"$or": bson.A{
			bson.M{"account_id": accountID},
			bson.M{"counterparty_id": accountID},
		}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer cursor.Close(ctx)

	events := []*models.LedgerEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}
