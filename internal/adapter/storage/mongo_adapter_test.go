package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func getMongoDatabase(t *testing.T) *mongo.Database {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		t.Skipf("MongoDB not available: %v", err)
	}
	return client.Database("pos_test")
}

func TestMongoAdapter(t *testing.T) {
	db := getMongoDatabase(t)
	defer db.Client().Disconnect(context.Background())

	ctx := context.Background()
	collection, indexes := testCollection()
	defer db.Collection(collection).Drop(ctx)
	defer db.Collection(collection + "_ins").Drop(ctx)

	adapter := NewMongoAdapter(db, indexes)
	require.NoError(t, adapter.EnsureIndexes(ctx))

	runDocumentStoreSuite(t, adapter, collection)
}
