// Package apikey provides an API key authenticator for the gateway.
// Configured keys are hashed with SHA-256 at construction and matched
// with constant-time comparison, so plaintext keys never live beyond
// startup.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/stapel-ai/stapel/pkg/auth"
)

// Key describes one accepted API key and the caller it maps to. This is
// the shape keys take in the gateway configuration.
type Key struct {
	// Secret is the plaintext key value presented as a bearer token.
	Secret string

	// Subject identifies the caller.
	Subject string

	// Tenant scopes the caller's stored runs.
	Tenant string

	// Tier selects the rate limit budget.
	Tier string

	// Scopes lists granted authorization scopes.
	Scopes []string
}

type entry struct {
	hash     [sha256.Size]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens against the configured key set.
type Authenticator struct {
	entries []entry
}

// New builds an Authenticator from configured keys, hashing each secret
// immediately.
func New(keys []Key) *Authenticator {
	a := &Authenticator{entries: make([]entry, 0, len(keys))}
	for _, k := range keys {
		a.entries = append(a.entries, entry{
			hash: sha256.Sum256([]byte(k.Secret)),
			identity: auth.Identity{
				Subject:     k.Subject,
				Tenant:      k.Tenant,
				ServiceTier: k.Tier,
				Scopes:      k.Scopes,
			},
		})
	}
	return a
}

// Name identifies this validator in logs and metrics.
func (a *Authenticator) Name() string { return "apikey" }

// Authenticate votes on the request's bearer token: Yes for a configured
// key, No for a bearer token that matches nothing, Abstain when there is
// no bearer credential to examine.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := bearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	hash := sha256.Sum256([]byte(token))

	// Every entry is compared so a miss costs the same as a hit.
	var found *auth.Identity
	for i := range a.entries {
		if subtle.ConstantTimeCompare(hash[:], a.entries[i].hash[:]) == 1 && found == nil {
			id := a.entries[i].identity
			found = &id
		}
	}
	if found == nil {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	return auth.Result{Decision: auth.Yes, Identity: found}
}

// bearerToken extracts the token from a Bearer Authorization header. The
// second return is false when the request carries no bearer credential.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
}
