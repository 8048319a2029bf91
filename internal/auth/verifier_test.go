package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/berasid/backend-beras/internal/common"
)

var testSecret = []byte("verifier-test-secret")

func signedToken(t *testing.T, now time.Time, mutate func(b *jwt.Builder)) string {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer("accounts").
		Audience([]string{"storefront"}).
		Subject("9f4c5f1e-27f8-4f3c-9f39-24ef41aca153").
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute))
	if mutate != nil {
		mutate(b)
	}
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func testVerifier(now time.Time) Verifier {
	return Verifier{
		Secret: testSecret,
		Validator: TokenValidator{
			Issuer:    "accounts",
			Audience:  "storefront",
			ClockSkew: time.Second,
			Algorithm: jwa.HS256,
		},
		Now: func() time.Time { return now },
	}
}

func TestVerifierExtractsClaims(t *testing.T) {
	now := time.Now()
	raw := signedToken(t, now, func(b *jwt.Builder) {
		b.Claim("roles", []string{"admin", "staff"})
	})

	claims, err := testVerifier(now).Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "9f4c5f1e-27f8-4f3c-9f39-24ef41aca153" {
		t.Fatalf("unexpected subject %q", claims.UserID)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
}

func TestVerifierAcceptsSpaceSeparatedRoles(t *testing.T) {
	now := time.Now()
	raw := signedToken(t, now, func(b *jwt.Builder) {
		b.Claim("roles", "staff admin")
	})

	claims, err := testVerifier(now).Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	raw := signedToken(t, now.Add(-time.Hour), nil)

	if _, err := testVerifier(now).Verify(raw); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestVerifierRejectsWrongKey(t *testing.T) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer("accounts").
		Audience([]string{"storefront"}).
		Subject("sub").
		Expiration(now.Add(time.Minute)).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("other-secret")))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := testVerifier(now).Verify(string(signed)); err == nil {
		t.Fatal("token signed with wrong key accepted")
	}
}

func TestRequireRole(t *testing.T) {
	now := time.Now()
	mw := Middleware{Verifier: testVerifier(now)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	admin := signedToken(t, now, func(b *jwt.Builder) {
		b.Claim("roles", []string{"admin"})
	})
	customer := signedToken(t, now, nil)

	handler := mw.RequireRole("admin")(next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin token rejected: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer token should be forbidden, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request should be unauthorized, got %d", rec.Code)
	}
}

func TestAuthenticatePassesAnonymousThrough(t *testing.T) {
	now := time.Now()
	mw := Middleware{Verifier: testVerifier(now)}
	var sawUser bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawUser = common.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw.Authenticate(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous request blocked: %d", rec.Code)
	}
	if sawUser {
		t.Fatal("anonymous request should carry no user")
	}
}
