package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_intent.lua
var claimIntentScript string

//go:embed scripts/clear_intent.lua
var clearIntentScript string

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
	clearScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimIntentScript),
		clearScript: redis.NewScript(clearIntentScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func intentKey(listingID, buyerID string) string {
	return fmt.Sprintf("unlock:intent:%s:%s", listingID, buyerID)
}

func attemptKey(listingID, buyerID string) string {
	return fmt.Sprintf("unlock:attempt:%s:%s", listingID, buyerID)
}

// ClaimIntent atomically caches an open intent payload for a (listing, buyer)
// pair. When another request already cached one inside the freshness window,
// the existing payload wins and claimed is false. The TTL matches the
// provider-side intent expiry, so a stale cache entry dies with its intent.
func (c *Client) ClaimIntent(ctx context.Context, listingID, buyerID, payload string, ttl time.Duration) (string, bool, error) {
	key := intentKey(listingID, buyerID)

	result, err := c.claimScript.Run(ctx, c.rdb, []string{key}, payload, int(ttl.Seconds())).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim intent script failed: %w", err)
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 2 {
		return "", false, fmt.Errorf("unexpected script result type")
	}

	winner, _ := vals[0].(string)
	stored, _ := vals[1].(int64)
	return winner, stored == 1, nil
}

// GetIntent retrieves the cached open intent payload, "" when none is cached
func (c *Client) GetIntent(ctx context.Context, listingID, buyerID string) (string, error) {
	payload, err := c.rdb.Get(ctx, intentKey(listingID, buyerID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return payload, nil
}

// ClearIntent drops the cached intent and bumps the attempt generation in a
// single atomic step. Called after cancellation, decline, or expiry so the
// next attempt mints a fresh idempotency token.
func (c *Client) ClearIntent(ctx context.Context, listingID, buyerID string) (int64, error) {
	keys := []string{intentKey(listingID, buyerID), attemptKey(listingID, buyerID)}

	gen, err := c.clearScript.Run(ctx, c.rdb, keys).Int64()
	if err != nil {
		return 0, fmt.Errorf("clear intent script failed: %w", err)
	}
	return gen, nil
}

// AttemptGeneration returns the current attempt generation for a pair, 0 when
// the pair has never had a terminal failure
func (c *Client) AttemptGeneration(ctx context.Context, listingID, buyerID string) (int64, error) {
	val, err := c.rdb.Get(ctx, attemptKey(listingID, buyerID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
