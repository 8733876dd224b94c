package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTP codes live 5 minutes (time to type the code in); requesting a new code
// is limited to 10 per 10 minutes per email. Session token hashes are cached
// for 30 days; the sessions table stays the source of truth.
const (
	otpTTL             = 5 * time.Minute
	otpRateLimitWindow = 10 * time.Minute
	otpRateLimitMax    = 10
	sessionTokenTTL    = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetOTP(ctx context.Context, email, code string) error {
	return c.cli.Set(ctx, "otp:"+email, code, otpTTL).Err()
}

// GetOTP returns the stored code; the key is deleted only after successful
// verification so mistyped attempts do not consume the code.
func (c *Client) GetOTP(ctx context.Context, email string) (string, error) {
	val, err := c.cli.Get(ctx, "otp:"+email).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteOTP(ctx context.Context, email string) error {
	return c.cli.Del(ctx, "otp:"+email).Err()
}

func (c *Client) CheckOTPRateLimit(ctx context.Context, email string) (bool, error) {
	key := "otp_limit:" + email
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, otpRateLimitWindow)
	}
	return n <= int64(otpRateLimitMax), nil
}

func (c *Client) SetSessionToken(ctx context.Context, sessionID, tokenHash string) error {
	return c.cli.Set(ctx, "session_token:"+sessionID, tokenHash, sessionTokenTTL).Err()
}

func (c *Client) GetSessionToken(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, "session_token:"+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSessionToken(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session_token:"+sessionID).Err()
}
