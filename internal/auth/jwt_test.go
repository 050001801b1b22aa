package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	signed, err := tokens.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := tokens.Validate(signed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 42 || claims.Subject != "42" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	signed, err := tokens.Issue(7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewTokens("other-secret", time.Minute)
	if _, err := other.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for wrong secret, got %v", err)
	}

	tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := tokens.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token after expiry, got %v", err)
	}

	if _, err := tokens.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for garbage, got %v", err)
	}
}

func TestIssueRejectsAnonymous(t *testing.T) {
	if _, err := NewTokens("secret", time.Minute).Issue(0); err == nil {
		t.Fatalf("expected error for user 0")
	}
}
