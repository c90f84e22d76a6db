package jwt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/stapel-ai/stapel/pkg/auth"
)

const testSecret = "test-hmac-secret"

func signToken(t *testing.T, secret string, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func reqWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/completions/batch", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func baseClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	a := New(Config{Secret: testSecret})

	claims := baseClaims()
	claims["tenant_id"] = "tenant-1"
	claims["tier"] = "premium"
	claims["scope"] = "read write"

	result := a.Authenticate(context.Background(), reqWithToken(signToken(t, testSecret, claims)))
	if result.Decision != auth.Yes {
		t.Fatalf("decision = %v, err = %v", result.Decision, result.Err)
	}
	if result.Identity.Subject != "user-1" {
		t.Errorf("subject = %q", result.Identity.Subject)
	}
	if result.Identity.Tenant != "tenant-1" {
		t.Errorf("tenant = %q", result.Identity.Tenant)
	}
	if result.Identity.ServiceTier != "premium" {
		t.Errorf("tier = %q", result.Identity.ServiceTier)
	}
	if len(result.Identity.Scopes) != 2 || result.Identity.Scopes[0] != "read" {
		t.Errorf("scopes = %v", result.Identity.Scopes)
	}
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	a := New(Config{Secret: testSecret})

	result := a.Authenticate(context.Background(),
		reqWithToken(signToken(t, "other-secret", baseClaims())))
	if result.Decision != auth.No {
		t.Errorf("decision = %v", result.Decision)
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	a := New(Config{Secret: testSecret})

	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	result := a.Authenticate(context.Background(), reqWithToken(signToken(t, testSecret, claims)))
	if result.Decision != auth.No {
		t.Errorf("decision = %v", result.Decision)
	}
}

func TestAuthenticate_IssuerAndAudience(t *testing.T) {
	a := New(Config{Secret: testSecret, Issuer: "stapel", Audience: "api"})

	claims := baseClaims()
	claims["iss"] = "stapel"
	claims["aud"] = "api"

	result := a.Authenticate(context.Background(), reqWithToken(signToken(t, testSecret, claims)))
	if result.Decision != auth.Yes {
		t.Fatalf("decision = %v, err = %v", result.Decision, result.Err)
	}

	// Wrong issuer fails.
	claims["iss"] = "someone-else"
	result = a.Authenticate(context.Background(), reqWithToken(signToken(t, testSecret, claims)))
	if result.Decision != auth.No {
		t.Errorf("wrong issuer accepted: %v", result.Decision)
	}
}

func TestAuthenticate_MissingSubject(t *testing.T) {
	a := New(Config{Secret: testSecret})

	claims := jwtlib.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	result := a.Authenticate(context.Background(), reqWithToken(signToken(t, testSecret, claims)))
	if result.Decision != auth.No {
		t.Errorf("decision = %v", result.Decision)
	}
}

func TestAuthenticate_ScopesArray(t *testing.T) {
	a := New(Config{Secret: testSecret})

	claims := baseClaims()
	claims["scope"] = []string{"batch:run", "runs:read"}

	result := a.Authenticate(context.Background(), reqWithToken(signToken(t, testSecret, claims)))
	if result.Decision != auth.Yes {
		t.Fatalf("decision = %v, err = %v", result.Decision, result.Err)
	}
	if len(result.Identity.Scopes) != 2 || result.Identity.Scopes[1] != "runs:read" {
		t.Errorf("scopes = %v", result.Identity.Scopes)
	}
}

func TestAuthenticate_Abstains(t *testing.T) {
	a := New(Config{Secret: testSecret})

	result := a.Authenticate(context.Background(), reqWithToken(""))
	if result.Decision != auth.Abstain {
		t.Errorf("decision = %v", result.Decision)
	}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	result = a.Authenticate(context.Background(), r)
	if result.Decision != auth.Abstain {
		t.Errorf("decision = %v", result.Decision)
	}
}
