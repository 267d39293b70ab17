package auth

import (
	"context"
	"errors"
	"strings"
)

// verifyCredentials resolves the identity and checks the password against the
// stored bcrypt hash. Unknown identity, inactive account and hash mismatch
// are indistinguishable to the caller: all return ErrInvalidCredentials.
func (s *Service) verifyCredentials(ctx context.Context, identity, password string) (*User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByUsername(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		// Burn a hash comparison anyway so the miss is not observably faster
		// than a mismatch.
		_ = VerifyPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// dummyHash is a bcrypt digest of an unguessable throwaway value, used to
// equalize timing between unknown-identity and wrong-password failures.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
