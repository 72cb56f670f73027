package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

func TestIssueAndParseAccess(t *testing.T) {
	svc := NewService("test-secret", 2*time.Minute)
	token, err := svc.IssueAccess(model.User{ID: "u1", Email: "u1@example.com", Tier: model.TierPremium})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Tier != model.TierPremium {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseAccessRejectsForeignAndExpiredTokens(t *testing.T) {
	svc := NewService("test-secret", time.Minute)
	other := NewService("other-secret", time.Minute)
	foreign, _ := other.IssueAccess(model.User{ID: "u1"})
	if _, err := svc.ParseAccess(foreign); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong signature, got %v", err)
	}
	if _, err := svc.ParseAccess("not-a-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for garbage, got %v", err)
	}

	token, _ := svc.IssueAccess(model.User{ID: "u1"})
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.ParseAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestParseAccessRejectsUnsignedTokens(t *testing.T) {
	svc := NewService("test-secret", time.Minute)
	claims := Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.ParseAccess(unsigned); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for alg none, got %v", err)
	}
}
