// Package auth verifies bearer API tokens against the store (§4.1). Keys are
// never stored or compared in plaintext: the store only ever sees the
// SHA-256 hex digest, and comparison against it is constant-time.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

const (
	keyPrefix    = "sk-gw-"
	keyRandBytes = 32
	prefixLen    = 12
	cacheTTL     = 5 * time.Minute
)

var (
	// ErrInvalidToken covers unknown, malformed, or hash-mismatched keys.
	ErrInvalidToken = errors.New("invalid api token")
	// ErrTokenDisabled is returned for a found-but-disabled token.
	ErrTokenDisabled = errors.New("api token disabled")
	// ErrTokenExpired is returned once ExpiresAt has passed.
	ErrTokenExpired = errors.New("api token expired")
	// ErrUserBanned is returned when the owning user is banned.
	ErrUserBanned = errors.New("user banned")
)

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type cachedPrincipal struct {
	principal domain.Principal
	expiresAt time.Time
}

// Verifier authenticates bearer tokens and resolves the owning Principal.
// A short TTL cache avoids a store round trip plus hash compare on every
// request; entries are keyed by the raw key's SHA-256 digest, never by the
// key itself.
type Verifier struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedPrincipal
}

func NewVerifier(s store.Store) *Verifier {
	return &Verifier{store: s, cache: make(map[string]cachedPrincipal)}
}

// Verify resolves a raw bearer token to its Principal. On success it also
// kicks off a best-effort async TouchTokenAndUser update — this must never
// block or fail the request per §4.1.
func (v *Verifier) Verify(ctx context.Context, rawKey string) (domain.Principal, error) {
	digest := hashKey(rawKey)

	v.mu.RLock()
	if c, ok := v.cache[digest]; ok && time.Now().Before(c.expiresAt) {
		v.mu.RUnlock()
		go v.touch(c.principal)
		return c.principal, nil
	}
	v.mu.RUnlock()

	if len(rawKey) < prefixLen {
		return domain.Principal{}, ErrInvalidToken
	}
	prefix := rawKey[:prefixLen]

	candidates, err := v.store.GetTokenByPrefix(ctx, prefix)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("lookup token prefix: %w", err)
	}

	for i := range candidates {
		tok := candidates[i]
		if subtle.ConstantTimeCompare([]byte(tok.KeyHash), []byte(digest)) != 1 {
			continue
		}
		if !tok.Enabled {
			return domain.Principal{}, ErrTokenDisabled
		}
		if tok.ExpiresAt != nil && time.Now().After(*tok.ExpiresAt) {
			return domain.Principal{}, ErrTokenExpired
		}

		user, err := v.store.GetUser(ctx, tok.OwnerUserID)
		if err != nil {
			return domain.Principal{}, fmt.Errorf("lookup owning user: %w", err)
		}
		if user == nil {
			return domain.Principal{}, ErrInvalidToken
		}
		if user.IsBanned {
			return domain.Principal{}, ErrUserBanned
		}

		principal := domain.Principal{Token: tok, User: *user}

		v.mu.Lock()
		v.cache[digest] = cachedPrincipal{principal: principal, expiresAt: time.Now().Add(cacheTTL)}
		v.mu.Unlock()

		go v.touch(principal)
		return principal, nil
	}

	return domain.Principal{}, ErrInvalidToken
}

// touch runs detached from the request lifecycle: a slow or failing counter
// update must never hold up the response.
func (v *Verifier) touch(p domain.Principal) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = v.store.TouchTokenAndUser(ctx, p.Token.ID, p.User.ID, time.Now().UTC())
}

// Invalidate drops any cached entry for rawKey. The admin handlers do not
// call it, so a disabled token's cached entry lasts until cacheTTL passes.
func (v *Verifier) Invalidate(rawKey string) {
	v.mu.Lock()
	delete(v.cache, hashKey(rawKey))
	v.mu.Unlock()
}

// GenerateToken mints a new raw bearer token and its persisted record. The
// plaintext is returned exactly once; only its hash and prefix are stored.
func GenerateToken(ownerUserID string, id string) (plaintext string, rec domain.ApiToken, err error) {
	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.ApiToken{}, fmt.Errorf("generate random: %w", err)
	}
	plaintext = keyPrefix + hex.EncodeToString(raw)
	rec = domain.ApiToken{
		ID:          id,
		OwnerUserID: ownerUserID,
		Prefix:      plaintext[:prefixLen],
		KeyHash:     hashKey(plaintext),
		Enabled:     true,
	}
	return plaintext, rec, nil
}
