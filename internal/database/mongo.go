package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// NewMongoClient connects to MongoDB and verifies the connection
func NewMongoClient(ctx context.Context, uri string, pc PoolConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if pc.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(pc.MaxConns))
	}
	if pc.MinConns > 0 {
		opts.SetMinPoolSize(uint64(pc.MinConns))
	}
	if pc.MaxConnLifetime > 0 {
		opts.SetMaxConnIdleTime(pc.MaxConnLifetime)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	return client, nil
}
