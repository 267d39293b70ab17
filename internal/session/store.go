package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "smspanel"
	defaultTimeout = 30 * time.Minute

	// Pending email/SMS one-time codes live much shorter than the session.
	codeTTL = 5 * time.Minute
)

var (
	// ErrNotFound is returned when no live session exists for the id. An
	// expired record is reported the same way: past its absolute expiry a
	// session is authoritative for nothing.
	ErrNotFound = errors.New("session: not found")

	// ErrUnavailable wraps transport failures talking to the cache.
	ErrUnavailable = errors.New("session: store unavailable")
)

// Store is a Redis-backed session store. Each session is persisted under a
// key derived from its id, and registered in a per-user index set so that all
// of a user's sessions can be revoked in bulk. Record and index writes are
// issued in one MULTI/EXEC batch: either both land or neither does.
type Store struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// Option configures Store behavior.
type Option func(*Store)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTimeout sets the session timeout used for new and updated records.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore creates a session Store backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:     rdb,
		prefix:  defaultPrefix,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the configured session timeout.
func (s *Store) Timeout() time.Duration { return s.timeout }

func (s *Store) key(sessionID string) string {
	return s.prefix + ":session:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":user:" + userID + ":sessions"
}

func (s *Store) codeKey(sessionID string) string {
	return s.prefix + ":2fa:" + sessionID
}

// Create generates a fresh session with the supplied refresh token, persists
// it and registers it in the owner's index as one atomic batch. The session
// starts with TwoFactorCompleted == !twoFactorRequired.
func (s *Store) Create(ctx context.Context, userID, tenantID, ip, userAgent string, twoFactorRequired bool, refreshToken string) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:                 uuid.NewString(),
		UserID:             userID,
		TenantID:           tenantID,
		RefreshToken:       refreshToken,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.timeout),
		IPAddress:          ip,
		UserAgent:          userAgent,
		TwoFactorRequired:  twoFactorRequired,
		TwoFactorCompleted: !twoFactorRequired,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, s.timeout)
		pipe.SAdd(ctx, s.userKey(userID), sess.ID)
		pipe.Expire(ctx, s.userKey(userID), s.timeout)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sess, nil
}

// Get returns the session for the id, or ErrNotFound when no record exists
// or the record's absolute expiry has passed. The expiry check happens here,
// on read; the cache TTL is only a backstop sweep. Lazily-expired records are
// removed together with their index entry.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}

	if sess.Expired(s.now().UTC()) {
		_, _ = s.Delete(ctx, sessionID)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Update overwrites the session record. The cache TTL is reset to the full
// configured timeout from now; the record's absolute ExpiresAt is left as the
// caller set it.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(sess.ID), data, s.timeout).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the session and its index entry as one atomic batch.
// Returns false when no session existed; deleting twice is safe.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupt record: still remove the key so it cannot wedge the id.
		if delErr := s.rdb.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, delErr)
		}
		return true, nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.userKey(sess.UserID), sessionID)
		pipe.Del(ctx, s.codeKey(sessionID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// DeleteAllForUser removes every session for the user plus the index itself,
// atomically.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
			pipe.Del(ctx, s.codeKey(id))
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListForUser returns the user's live sessions. Expired or already-swept ids
// are skipped.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// ValidateRefreshToken reports whether the session exists, is unexpired, and
// its stored refresh token equals the supplied value (constant-time compare).
func (s *Store) ValidateRefreshToken(ctx context.Context, sessionID, token string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sess.RefreshTokenMatches(token), nil
}

// RotateRefreshToken swaps the stored refresh token for a new value.
func (s *Store) RotateRefreshToken(ctx context.Context, sessionID, token string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.RefreshToken = token
	return s.Update(ctx, sess)
}

// Complete2FA marks the session's second factor as completed. Returns false
// when the session is absent.
func (s *Store) Complete2FA(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sess.TwoFactorCompleted = true
	if err := s.Update(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyEmail clears the pending email-verification token iff it matches.
func (s *Store) VerifyEmail(ctx context.Context, sessionID, token string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.EmailVerificationToken == "" || sess.EmailVerificationToken != token {
		return false, nil
	}
	sess.EmailVerified = true
	sess.EmailVerificationToken = ""
	if err := s.Update(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

// SetPendingCode stores the expected one-time code for an email/SMS factor
// under a short TTL, overwriting any previous code for the session.
func (s *Store) SetPendingCode(ctx context.Context, sessionID, code string) error {
	if err := s.rdb.Set(ctx, s.codeKey(sessionID), code, codeTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ConsumePendingCode compares the submitted code with the stored one and
// deletes it on match. A missing or mismatched code returns false.
func (s *Store) ConsumePendingCode(ctx context.Context, sessionID, code string) (bool, error) {
	stored, err := s.rdb.Get(ctx, s.codeKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if stored != code {
		return false, nil
	}
	if err := s.rdb.Del(ctx, s.codeKey(sessionID)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}
