package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision represents the three possible outcomes of authentication.
type Decision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes Decision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// label returns the decision as a metric/log label.
func (d Decision) label() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Identity represents an authenticated caller of the gateway.
type Identity struct {
	// Subject is the unique caller identifier (required, non-empty).
	Subject string

	// Tenant scopes the caller's stored runs. Empty means untenanted:
	// the caller sees only runs saved without a tenant.
	Tenant string

	// ServiceTier selects the rate limit budget.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string

	// Metadata carries extra validator-specific attributes.
	Metadata map[string]string
}

// AnonymousIdentity is the identity used when authentication is disabled
// or the chain's default decision admits an unauthenticated caller.
func AnonymousIdentity() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default"}
}

// Result carries the outcome of an authentication attempt. Method names
// the validator that decided, for logs and metrics.
type Result struct {
	Decision Decision
	Identity *Identity // populated only when Decision == Yes
	Method   string
	Err      error // populated only when Decision == No
}

// Authenticator examines request credentials and returns a three-outcome
// vote. Name identifies the validator in logs and metrics.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order using three-outcome voting.
type Chain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain.
	// Use Yes for development (anonymous access) or No for production.
	DefaultDecision Decision
}

// Authenticate runs the chain, stopping on the first Yes or No and
// stamping the result with the deciding validator's name. If every
// validator abstains, the default decision applies.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision == Abstain {
			continue
		}
		if result.Method == "" {
			result.Method = authn.Name()
		}
		return result
	}

	if c.DefaultDecision == Yes {
		return Result{Decision: Yes, Identity: AnonymousIdentity(), Method: "anonymous"}
	}
	return Result{Decision: No, Method: "default", Err: ErrUnauthenticated}
}
