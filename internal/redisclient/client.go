package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/decr_stock.lua
var decrStockScript string

// Client caches authoritative product stock so availability queries do not
// hit the database on every add-to-cart, and holds checkout idempotency
// keys. The cache is advisory; the database row stays the source of truth.
type Client struct {
	rdb        *redis.Client
	decrScript *redis.Script
}

// NewClient creates a new Redis client
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
		rdb:        rdb,
		decrScript: redis.NewScript(decrStockScript),
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

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// GetStock returns the cached stock for a product; found is false on a cache
// miss
func (c *Client) GetStock(ctx context.Context, productID int64) (stock int, found bool, err error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	stock, err = strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock cache for product %d: %w", productID, err)
	}
	return stock, true, nil
}

// SetStock caches the stock for a product with a TTL
func (c *Client) SetStock(ctx context.Context, productID int64, stock int, ttl time.Duration) error {
	return c.rdb.Set(ctx, stockKey(productID), stock, ttl).Err()
}

// DecrStock atomically lowers the cached stock after a commit, without going
// below zero. A missing key is left missing.
func (c *Client) DecrStock(ctx context.Context, productID int64, quantity int) error {
	_, err := c.decrScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("decr stock script failed: %w", err)
	}
	return nil
}

// DeleteStock drops the cached stock for a product so the next read
// repopulates from the database
func (c *Client) DeleteStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
