package storage

import "context"

// AuthStore holds OTP codes, OTP rate-limit counters, and the session token
// hash cache. Implementations: redis.Client in production, memory.Client for
// -dev runs without Redis.
type AuthStore interface {
	SetOTP(ctx context.Context, email, code string) error
	GetOTP(ctx context.Context, email string) (string, error)
	DeleteOTP(ctx context.Context, email string) error
	CheckOTPRateLimit(ctx context.Context, email string) (allowed bool, err error)
	SetSessionToken(ctx context.Context, sessionID, tokenHash string) error
	GetSessionToken(ctx context.Context, sessionID string) (string, error)
	DeleteSessionToken(ctx context.Context, sessionID string) error
	Close() error
}
