package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/observability"
	"github.com/stapel-ai/stapel/pkg/storage"
)

// Middleware creates HTTP middleware from a Chain and optional RateLimiter.
// It checks the bypass list, runs authentication, injects the identity and
// its tenant into the request context, and optionally enforces rate limits.
// Rejections use the gateway's standard error envelope.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			observability.AuthDecisionsTotal.WithLabelValues(result.Method, result.Decision.label()).Inc()

			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"method", result.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				writeError(w, http.StatusUnauthorized, &api.APIError{
					Type:    api.ErrorTypeInvalidRequest,
					Code:    "authentication_required",
					Message: "authentication required",
				})
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject",
					"method", result.Method)
				writeError(w, http.StatusInternalServerError,
					api.NewServerError("internal authentication error"))
				return
			}

			slog.Debug("authentication succeeded",
				"method", result.Method,
				"subject", result.Identity.Subject,
				"tenant", result.Identity.Tenant,
				"path", r.URL.Path,
			)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), result.Identity); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", result.Identity.Subject,
						"tier", result.Identity.ServiceTier,
					)
					observability.RateLimitRejectedTotal.WithLabelValues(result.Identity.ServiceTier).Inc()
					writeError(w, http.StatusTooManyRequests,
						api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			ctx := SetIdentity(r.Context(), result.Identity)

			// Tenant scoping for the run store.
			if result.Identity.Tenant != "" {
				ctx = storage.SetTenant(ctx, result.Identity.Tenant)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, apiErr *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}
