// Package noop provides a no-op authenticator that accepts all requests.
// Used for development and as a default voter in the auth chain.
package noop

import (
	"context"
	"net/http"

	"github.com/stapel-ai/stapel/pkg/auth"
)

// Authenticator always returns Yes with the anonymous identity.
type Authenticator struct{}

// Name identifies this validator in logs and metrics.
func (a *Authenticator) Name() string { return "noop" }

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{
		Decision: auth.Yes,
		Identity: auth.AnonymousIdentity(),
	}
}
