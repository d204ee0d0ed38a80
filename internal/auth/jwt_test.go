package auth

import (
	"testing"
	"time"
)

func TestJWTIssuer_IssueAndValidate(t *testing.T) {
	issuer := NewJWTIssuer("test-secret")

	token, expires, err := issuer.IssueLogToken("abc12345", 15*time.Minute)
	if err != nil {
		t.Fatalf("IssueLogToken error: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if time.Until(expires) < 14*time.Minute {
		t.Errorf("expiry too soon: %v", expires)
	}

	claims, err := issuer.ValidateLogToken(token)
	if err != nil {
		t.Fatalf("ValidateLogToken error: %v", err)
	}
	if claims.InstanceID != "abc12345" {
		t.Errorf("instance ID = %s, want abc12345", claims.InstanceID)
	}
}

func TestJWTIssuer_Expired(t *testing.T) {
	issuer := NewJWTIssuer("test-secret")

	token, _, err := issuer.IssueLogToken("abc12345", -time.Minute)
	if err != nil {
		t.Fatalf("IssueLogToken error: %v", err)
	}

	if _, err := issuer.ValidateLogToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestJWTIssuer_WrongSecret(t *testing.T) {
	token, _, err := NewJWTIssuer("secret-a").IssueLogToken("abc12345", time.Minute)
	if err != nil {
		t.Fatalf("IssueLogToken error: %v", err)
	}

	if _, err := NewJWTIssuer("secret-b").ValidateLogToken(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestJWTIssuer_Garbage(t *testing.T) {
	if _, err := NewJWTIssuer("s").ValidateLogToken("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
