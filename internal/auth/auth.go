// Package auth defines the token verification contract the transport relies
// on. Real verification (JWT middleware, session service) lives outside this
// subsystem; chatd only needs token -> user id at connect time.
package auth

import (
	"errors"
	"sync"
)

var ErrInvalidToken = errors.New("auth: invalid or expired token")

type Verifier interface {
	// Verify resolves an access token to a user id, or ErrInvalidToken.
	Verify(token string) (string, error)
}

// StaticVerifier resolves tokens from a fixed map. Used in development and
// tests.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	v := &StaticVerifier{tokens: map[string]string{}}
	for token, userID := range tokens {
		v.tokens[token] = userID
	}
	return v
}

func (v *StaticVerifier) Add(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
}

func (v *StaticVerifier) Verify(token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	userID, ok := v.tokens[token]
	if !ok || token == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
