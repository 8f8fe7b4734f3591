package jwt

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	token, err := Issue("42", TypeAccess, "secret", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := Parse(token, "secret", TypeAccess)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "42" || claims.Type != TypeAccess {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be set")
	}
}

func TestParseRejectsWrongType(t *testing.T) {
	token, _ := Issue("42", TypeRefresh, "secret", time.Minute)
	if _, err := Parse(token, "secret", TypeAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestParseRejectsBadSignatureAndExpiry(t *testing.T) {
	token, _ := Issue("42", TypeAccess, "secret", time.Minute)
	if _, err := Parse(token, "other", TypeAccess); err == nil {
		t.Fatalf("expected signature failure")
	}
	expired, _ := Issue("42", TypeAccess, "secret", -time.Minute)
	if _, err := Parse(expired, "secret", TypeAccess); !errors.Is(err, jwtlib.ErrTokenExpired) {
		t.Fatalf("expected expiry failure, got %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	a, _ := Issue("1", TypeRefresh, "secret", time.Hour)
	b, _ := Issue("1", TypeRefresh, "secret", time.Hour)
	if a == b {
		t.Fatalf("expected distinct tokens for the same subject and second")
	}
}
