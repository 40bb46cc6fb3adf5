// Package auth wraps the password KDF. Hashing runs behind a bounded worker
// pool so concurrent logins cannot saturate the scheduler with CPU-bound
// bcrypt work.
package auth

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor (2^12 rounds).
const Cost = 12

// ErrMismatch is returned when a password does not verify against its hash.
// Callers must not disclose whether the username or the password failed.
var ErrMismatch = errors.New("password mismatch")

// Hasher hashes and verifies passwords on a bounded pool.
type Hasher struct {
	sem chan struct{}
}

// NewHasher returns a Hasher allowing at most workers concurrent KDF
// operations. workers <= 0 defaults to GOMAXPROCS.
func NewHasher(workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{sem: make(chan struct{}, workers)}
}

func (h *Hasher) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hash derives a salted hash blob from password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer func() { <-h.sem }()

	blob, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// Verify checks password against a stored hash blob. The comparison is
// constant-time. Returns ErrMismatch on failure, including malformed blobs.
func (h *Hasher) Verify(ctx context.Context, hash, password string) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-h.sem }()

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrMismatch
	}
	return nil
}
