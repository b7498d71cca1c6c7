package session

import (
	"strings"
	"testing"
	"time"

	"exampro/pkg/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenIssueAndVerify(t *testing.T) {
	tokens, err := NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	token, err := tokens.Issue("ada@example.ng", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	email, role, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if email != "ada@example.ng" || role != domain.RoleAdmin {
		t.Fatalf("got %q/%q", email, role)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer, err := NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	verifier, err := NewTokens(strings.Repeat("x", 32), time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	token, err := issuer.Issue("ada@example.ng", domain.RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	tokens, err := NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	// Issue with a TTL already in the past.
	tokens.ttl = -2 * time.Minute
	token, err := tokens.Issue("ada@example.ng", domain.RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := tokens.Verify(token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestTokenRejectsShortSecret(t *testing.T) {
	if _, err := NewTokens("short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	tokens, err := NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	if _, _, err := tokens.Verify("not.a.token"); err == nil {
		t.Fatal("expected garbage token to fail")
	}
	if _, _, err := tokens.Verify(""); err == nil {
		t.Fatal("expected empty token to fail")
	}
}
