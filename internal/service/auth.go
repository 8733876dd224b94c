package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/chatline/internal/apperr"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const minPasswordLen = 8

// Mailer sends the verification code. *email.Sender in production.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// AuthService implements signup with email verification and password login.
type AuthService struct {
	users    *repository.UserRepository
	sessions *repository.SessionRepository
	store    storage.AuthStore
	mailer   Mailer
}

func NewAuthService(users *repository.UserRepository, sessions *repository.SessionRepository, store storage.AuthStore, mailer Mailer) *AuthService {
	return &AuthService{users: users, sessions: sessions, store: store, mailer: mailer}
}

// Credentials is what a client holds after verify or login. The raw token is
// returned exactly once; only its hash is stored.
type Credentials struct {
	SessionID    string           `json:"sessionId"`
	SessionToken string           `json:"sessionToken"`
	User         model.UserPublic `json:"user"`
}

// Signup registers an unverified account and mails a verification code.
// Re-signing up over an unverified account resets name and password and
// resends the code.
func (s *AuthService) Signup(ctx context.Context, fullName, emailAddr, password string) error {
	fullName = strings.TrimSpace(fullName)
	emailAddr = normalizeEmail(emailAddr)
	switch {
	case fullName == "":
		return fmt.Errorf("%w: full name required", apperr.ErrValidation)
	case !emailRegexp.MatchString(emailAddr):
		return fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	case len(password) < minPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth.Signup hash: %w", err)
	}

	existing, err := s.users.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil && existing.IsVerified:
		return fmt.Errorf("%w: email already registered", apperr.ErrValidation)
	case err == nil:
		// unverified leftover; refresh it
		if err := s.users.UpdateProfile(ctx, existing.ID, fullName, existing.AvatarURL); err != nil {
			return err
		}
		if err := s.users.UpdatePassword(ctx, existing.ID, string(hash)); err != nil {
			return err
		}
	case errors.Is(err, repository.ErrNotFound):
		now := time.Now().UTC()
		u := &model.User{
			ID:           uuid.NewString(),
			FullName:     fullName,
			Email:        emailAddr,
			PasswordHash: string(hash),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
	default:
		return err
	}

	return s.sendCode(ctx, emailAddr)
}

// ResendCode mails a fresh (or still-valid) verification code.
func (s *AuthService) ResendCode(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	u, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown email", apperr.ErrNotFound)
		}
		return err
	}
	if u.IsVerified {
		return fmt.Errorf("%w: already verified", apperr.ErrValidation)
	}
	return s.sendCode(ctx, emailAddr)
}

func (s *AuthService) sendCode(ctx context.Context, emailAddr string) error {
	allowed, err := s.store.CheckOTPRateLimit(ctx, emailAddr)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: too many codes requested", apperr.ErrPolicy)
	}
	// An unexpired code is resent as-is so a second tap on "resend" does not
	// invalidate the email already in flight.
	if existing, _ := s.store.GetOTP(ctx, emailAddr); len(existing) == 6 {
		return s.mailer.SendOTP(ctx, emailAddr, existing)
	}
	code := generateOTP(6)
	if err := s.store.SetOTP(ctx, emailAddr, code); err != nil {
		return err
	}
	return s.mailer.SendOTP(ctx, emailAddr, code)
}

// VerifyEmail checks the code, marks the account verified and opens a session.
func (s *AuthService) VerifyEmail(ctx context.Context, emailAddr, code string) (*Credentials, error) {
	emailAddr = normalizeEmail(emailAddr)
	code = onlyDigits(code)
	if emailAddr == "" || len(code) != 6 {
		return nil, fmt.Errorf("%w: invalid code", apperr.ErrUnauthorized)
	}
	stored, err := s.store.GetOTP(ctx, emailAddr)
	if err != nil {
		logger.Errorf("auth.VerifyEmail store: %v", err)
		return nil, fmt.Errorf("%w: invalid code", apperr.ErrUnauthorized)
	}
	if len(stored) != 6 || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return nil, fmt.Errorf("%w: invalid code", apperr.ErrUnauthorized)
	}
	// one-time use
	if err := s.store.DeleteOTP(ctx, emailAddr); err != nil {
		logger.Errorf("auth.VerifyEmail delete otp: %v", err)
	}

	u, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		return nil, err
	}
	if !u.IsVerified {
		if err := s.users.SetVerified(ctx, u.ID); err != nil {
			return nil, err
		}
		u.IsVerified = true
	}
	return s.openSession(ctx, u)
}

// Login authenticates by email and password. Only verified accounts may log
// in; the error is the same for a wrong password and an unknown email.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (*Credentials, error) {
	emailAddr = normalizeEmail(emailAddr)
	u, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: bad credentials", apperr.ErrUnauthorized)
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("%w: bad credentials", apperr.ErrUnauthorized)
	}
	if !u.IsVerified {
		return nil, fmt.Errorf("%w: email not verified", apperr.ErrForbidden)
	}
	return s.openSession(ctx, u)
}

func (s *AuthService) openSession(ctx context.Context, u *model.User) (*Credentials, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("auth session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(sum[:])

	now := time.Now().UTC()
	sess := &model.Session{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		TokenHash:  tokenHash,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.store.SetSessionToken(ctx, sess.ID, tokenHash); err != nil {
		logger.Errorf("auth cache session token: %v", err)
	}
	return &Credentials{SessionID: sess.ID, SessionToken: token, User: u.ToPublic()}, nil
}

// Logout revokes one session and evicts its cache entry.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.DeleteSessionToken(ctx, sessionID); err != nil {
		logger.Errorf("auth logout evict session: %v", err)
	}
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	return s.sessions.RevokeAllForUser(ctx, userID)
}

func normalizeEmail(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// onlyDigits strips everything but digits, so a code pasted with spaces or
// invisible characters still matches.
func onlyDigits(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b = append(b, s[i])
		}
	}
	return string(b)
}

func generateOTP(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		b[i] = digits[n.Int64()]
	}
	return string(b)
}
