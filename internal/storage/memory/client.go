package memory

import (
	"context"
	"sync"
	"time"
)

const (
	otpTTL             = 5 * time.Minute
	otpRateLimitWindow = 10 * time.Minute
	otpRateLimitMax    = 10
	sessionTokenTTL    = 30 * 24 * time.Hour
)

type item struct {
	val string
	exp time.Time
}

// Client is the in-memory AuthStore used by -dev mode and tests.
type Client struct {
	mu     sync.RWMutex
	otp    map[string]item
	limit  map[string][]time.Time
	tokens map[string]item
}

func New() *Client {
	return &Client{
		otp:    make(map[string]item),
		limit:  make(map[string][]time.Time),
		tokens: make(map[string]item),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOTP(ctx context.Context, email, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.otp[email] = item{val: code, exp: time.Now().Add(otpTTL)}
	return nil
}

func (c *Client) GetOTP(ctx context.Context, email string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.otp[email]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteOTP(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.otp, email)
	return nil
}

func (c *Client) CheckOTPRateLimit(ctx context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-otpRateLimitWindow)
	var kept []time.Time
	for _, t := range c.limit[email] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= otpRateLimitMax {
		c.limit[email] = kept
		return false, nil
	}
	c.limit[email] = append(kept, now)
	return true, nil
}

func (c *Client) SetSessionToken(ctx context.Context, sessionID, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[sessionID] = item{val: tokenHash, exp: time.Now().Add(sessionTokenTTL)}
	return nil
}

func (c *Client) GetSessionToken(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokens[sessionID]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSessionToken(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, sessionID)
	return nil
}
