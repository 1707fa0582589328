package redisclient

import (
	"context"
	"fmt"
	"time"

	"storefront-agent/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	fieldToken    = "token"
	fieldUsername = "username"
	fieldBalance  = "balance"
)

// Client stores storefront sessions as Redis hashes
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity
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

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Get returns the session for id, or nil if none exists
func (c *Client) Get(ctx context.Context, id string) (*session.State, error) {
	result, err := c.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	st := &session.State{
		Token:    result[fieldToken],
		Username: result[fieldUsername],
	}
	if raw, ok := result[fieldBalance]; ok && raw != "" {
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance for session %s: %w", id, err)
		}
		st.Balance = &bal
	}
	return st, nil
}

// Put replaces the session hash and sets its TTL
func (c *Client) Put(ctx context.Context, id string, st session.State, ttl time.Duration) error {
	key := sessionKey(id)
	values := map[string]interface{}{
		fieldToken:    st.Token,
		fieldUsername: st.Username,
	}
	if st.Balance != nil {
		values[fieldBalance] = st.Balance.String()
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// SetBalance overwrites the cached balance of an existing session
func (c *Client) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	key := sessionKey(id)

	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	return c.rdb.HSet(ctx, key, fieldBalance, balance.String()).Err()
}

// Delete removes the session
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, sessionKey(id)).Err()
}
