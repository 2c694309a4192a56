package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Receipts caches receipt token lookups in redis. The client is optional:
// with no redis configured every lookup is a miss and callers fall back to
// the database.
type Receipts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReceipts(client *redis.Client, ttl time.Duration) *Receipts {
	return &Receipts{client: client, ttl: ttl}
}

func receiptKey(token string) string {
	return "receipt:" + token
}

// Put maps a receipt token to the internal voter id.
func (r *Receipts) Put(ctx context.Context, token, voterID string) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Set(ctx, receiptKey(token), voterID, r.ttl).Err()
}

// Lookup resolves a cached receipt token. A miss is not an error.
func (r *Receipts) Lookup(ctx context.Context, token string) (string, bool, error) {
	if r == nil || r.client == nil {
		return "", false, nil
	}
	voterID, err := r.client.Get(ctx, receiptKey(token)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return voterID, true, nil
}
