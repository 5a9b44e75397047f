package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bosworks/bos/core/pkg/kernel"
)

// Principal is the authenticated caller an API key resolves to, together
// with the tenancy it may act on.
type Principal struct {
	ActorID   string
	ActorType string

	// AllowedBusinessIDs are the businesses the principal may target.
	AllowedBusinessIDs []string

	// AllowedBranchIDs restricts branch access per business. A business
	// without an entry grants all of its branches.
	AllowedBranchIDs map[string][]string
}

// AuthProvider resolves an opaque API key into a principal.
type AuthProvider interface {
	ResolveAPIKey(ctx context.Context, key string) (Principal, error)
}

// ErrUnknownKey is returned when a credential does not resolve.
var ErrUnknownKey = errors.New("httpapi: unknown api key")

// HashKey derives the bcrypt hash a KeyStore holds for a plaintext key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("httpapi: hash key: %w", err)
	}
	return string(h), nil
}

type keyEntry struct {
	hash      []byte
	principal Principal
}

// KeyStore resolves API keys against bcrypt hashes held in memory. Keys are
// never stored in plaintext.
type KeyStore struct {
	mu      sync.RWMutex
	entries []keyEntry
}

func NewKeyStore() *KeyStore {
	return &KeyStore{}
}

// Register binds a bcrypt-hashed key to its principal.
func (s *KeyStore) Register(hashedKey string, p Principal) error {
	if p.ActorID == "" {
		return fmt.Errorf("httpapi: principal actor id must not be empty")
	}
	if _, err := bcrypt.Cost([]byte(hashedKey)); err != nil {
		return fmt.Errorf("httpapi: register key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, keyEntry{hash: []byte(hashedKey), principal: p})
	return nil
}

// ResolveAPIKey compares the key against every registered hash.
func (s *KeyStore) ResolveAPIKey(_ context.Context, key string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if bcrypt.CompareHashAndPassword(e.hash, []byte(key)) == nil {
			return e.principal, nil
		}
	}
	return Principal{}, ErrUnknownKey
}

// PrincipalClaims are the JWT claims a TokenProvider issues and validates.
// Subject carries the actor id.
type PrincipalClaims struct {
	jwt.RegisteredClaims
	ActorType   string              `json:"actor_type"`
	BusinessIDs []string            `json:"business_ids"`
	BranchIDs   map[string][]string `json:"branch_ids,omitempty"`
}

// TokenProvider accepts signed JWTs as API keys. Service-to-service callers
// present short-lived tokens instead of long-lived stored credentials.
type TokenProvider struct {
	secret []byte
	issuer string
	clock  kernel.Clock
}

func NewTokenProvider(secret []byte, issuer string, clock kernel.Clock) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("httpapi: token secret must not be empty")
	}
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	return &TokenProvider{secret: secret, issuer: issuer, clock: clock}, nil
}

// Issue signs a token for the principal, valid for ttl.
func (t *TokenProvider) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.ActorID == "" {
		return "", fmt.Errorf("httpapi: principal actor id must not be empty")
	}
	now := t.clock.Now()
	claims := PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ActorID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ActorType:   p.ActorType,
		BusinessIDs: p.AllowedBusinessIDs,
		BranchIDs:   p.AllowedBranchIDs,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ResolveAPIKey parses and validates the token, rejecting wrong signing
// methods and expired claims.
func (t *TokenProvider) ResolveAPIKey(_ context.Context, key string) (Principal, error) {
	claims := &PrincipalClaims{}
	token, err := jwt.ParseWithClaims(key, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnknownKey, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, ErrUnknownKey
	}
	return Principal{
		ActorID:            claims.Subject,
		ActorType:          claims.ActorType,
		AllowedBusinessIDs: claims.BusinessIDs,
		AllowedBranchIDs:   claims.BranchIDs,
	}, nil
}
