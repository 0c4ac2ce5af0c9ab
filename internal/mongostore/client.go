// Package mongostore implements the user, book and review stores on MongoDB.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersColl   = "users"
	booksColl   = "books"
	reviewsColl = "reviews"
)

type Client struct {
	client *mongo.Client
	db     *mongo.Database
	// serializes review writes per book; see Reviews
	bookLocks *keyedMutex
}

// Connect dials uri, verifies the connection and selects database.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Client{
		client:    client,
		db:        client.Database(database),
		bookLocks: newKeyedMutex(),
	}, nil
}

// EnsureIndexes creates the unique indexes the stores rely on.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	unique := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
	}
	plan := map[string][]mongo.IndexModel{
		usersColl: {
			unique(bson.D{{Key: "email", Value: 1}}),
			unique(bson.D{{Key: "username", Value: 1}}),
		},
		booksColl: {
			unique(bson.D{{Key: "isbn", Value: 1}}),
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "genre", Value: 1}}},
		},
		reviewsColl: {
			unique(bson.D{{Key: "user_id", Value: 1}, {Key: "book_id", Value: 1}}),
			{Keys: bson.D{{Key: "book_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for coll, idx := range plan {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) Users() *Users {
	return &Users{coll: c.db.Collection(usersColl)}
}

func (c *Client) Books() *Books {
	return &Books{
		coll:    c.db.Collection(booksColl),
		reviews: c.db.Collection(reviewsColl),
		locks:   c.bookLocks,
	}
}

func (c *Client) Reviews() *Reviews {
	return &Reviews{
		coll:  c.db.Collection(reviewsColl),
		books: c.db.Collection(booksColl),
		users: c.db.Collection(usersColl),
		locks: c.bookLocks,
	}
}
