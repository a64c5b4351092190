package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "pinprompt-auth",
		Audience:      "pinprompt-api",
		TokenTTL:      15 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueSessionTokenRoundTrips(t *testing.T) {
	issuer := newTestIssuer(nil)

	token, expiresIn, err := issuer.IssueSessionToken(context.Background(), "profile-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "profile-1" {
		t.Fatalf("unexpected subject: %s", subject)
	}
}

func TestIssueSessionTokenRequiresProfileID(t *testing.T) {
	issuer := newTestIssuer(nil)
	if _, _, err := issuer.IssueSessionToken(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty profile id")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	issuer := newTestIssuer(func() time.Time { return issuedAt })

	token, _, err := issuer.IssueSessionToken(context.Background(), "profile-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	lateIssuer := newTestIssuer(func() time.Time { return issuedAt.Add(16 * time.Minute) })
	if _, err := lateIssuer.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(nil)
	token, _, err := issuer.IssueSessionToken(context.Background(), "profile-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        "pinprompt-auth",
		Audience:      "pinprompt-api",
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestHashPasswordVerifiesAndRejects(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if err := CheckPassword(hash, "hunter2!"); err != nil {
		t.Fatalf("expected matching password to verify: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err != ErrPasswordMismatch {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestHashPasswordRejectsEmptyInput(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected empty password to be rejected")
	}
}
