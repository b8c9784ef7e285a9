// Package redis mirrors terminal transfer records in Redis so idempotent
// replays avoid a database round trip. The store stays authoritative; every
// cache failure degrades to a miss.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/internal/transfer"
	"github.com/example/fundflow/pkg/logger"
)

const (
	// DefaultTTL bounds how long a settled record stays cached. Replays past
	// the TTL fall through to the store.
	DefaultTTL = 24 * time.Hour

	// KeyPrefix is the prefix for cached transfer record keys
	KeyPrefix = "transfer:idem:"
)

// RecordCache is a Redis-backed transfer.RecordCache.
type RecordCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewRecordCache creates a terminal-record cache with the default TTL.
func NewRecordCache(client *redis.Client, log *logger.Logger) *RecordCache {
	return NewRecordCacheWithTTL(client, DefaultTTL, log)
}

// NewRecordCacheWithTTL creates a terminal-record cache with a custom TTL.
func NewRecordCacheWithTTL(client *redis.Client, ttl time.Duration, log *logger.Logger) *RecordCache {
	return &RecordCache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "record_cache"),
	}
}

// cachedRecord is the wire form of a terminal record. The amount travels as a
// string to keep its exact decimal representation.
type cachedRecord struct {
	TransferID     string    `json:"transfer_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	FromAccountID  int64     `json:"from_account_id"`
	ToAccountID    int64     `json:"to_account_id"`
	Amount         string    `json:"amount"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Get retrieves a cached record by idempotency key. Any failure is a miss.
func (c *RecordCache) Get(ctx context.Context, idempotencyKey string) (*transfer.Record, bool) {
	key := KeyPrefix + idempotencyKey

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache error", "operation", "get", "error", err)
		return nil, false
	}

	var cached cachedRecord
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.logger.Warn("cache error", "operation", "unmarshal", "error", err)
		return nil, false
	}

	amount, err := decimal.NewFromString(cached.Amount)
	if err != nil {
		c.logger.Warn("cache error", "operation", "parse_amount", "error", err)
		return nil, false
	}

	return &transfer.Record{
		TransferID:     cached.TransferID,
		IdempotencyKey: cached.IdempotencyKey,
		FromAccountID:  cached.FromAccountID,
		ToAccountID:    cached.ToAccountID,
		Amount:         amount,
		Status:         transfer.Status(cached.Status),
		ErrorMessage:   cached.ErrorMessage,
		CreatedAt:      cached.CreatedAt,
		UpdatedAt:      cached.UpdatedAt,
	}, true
}

// Set stores a terminal record. Non-terminal records are skipped; failures are
// logged and swallowed.
func (c *RecordCache) Set(ctx context.Context, rec *transfer.Record) {
	if rec == nil || !rec.Status.Terminal() {
		return
	}

	data, err := json.Marshal(cachedRecord{
		TransferID:     rec.TransferID,
		IdempotencyKey: rec.IdempotencyKey,
		FromAccountID:  rec.FromAccountID,
		ToAccountID:    rec.ToAccountID,
		Amount:         rec.Amount.String(),
		Status:         string(rec.Status),
		ErrorMessage:   rec.ErrorMessage,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	})
	if err != nil {
		c.logger.Warn("cache error", "operation", "marshal", "error", err)
		return
	}

	key := KeyPrefix + rec.IdempotencyKey
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache error", "operation", "set", "error", err)
	}
}
