package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newPair(t *testing.T, secret string, now time.Time) (*Signer, *Verifier) {
	t.Helper()
	signer, err := NewSigner(secret, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	signer.WithClock(func() time.Time { return now })
	verifier, err := NewVerifier(secret, time.Second)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	verifier.WithClock(func() time.Time { return now })
	return signer, verifier
}

func TestIssuedTokenVerifiesForItsTopic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer, verifier := newPair(t, "secret", now)
	token, err := signer.Issue("player-red", "flappy/room1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := verifier.Verify(token, "flappy/room1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "player-red" || claims.Topic != "flappy/room1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
	if _, err := verifier.Verify(token, "flappy/room2"); !errors.Is(err, ErrWrongTopic) {
		t.Fatalf("expected ErrWrongTopic, got %v", err)
	}
}

func TestUnscopedTokenGrantsAnyTopic(t *testing.T) {
	signer, verifier := newPair(t, "secret", time.Unix(1700000000, 0))
	token, err := signer.Issue("observer", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token, "anything"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer, verifier := newPair(t, "secret", now)
	token, err := signer.Issue("player-red", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	verifier.WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := verifier.Verify(token, ""); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsForeignSignatureAndGarbage(t *testing.T) {
	now := time.Unix(1700000000, 0)
	other, _ := newPair(t, "other-secret", now)
	_, verifier := newPair(t, "secret", now)
	token, err := other.Issue("player-red", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	for _, garbage := range []string{"", "a.b", "a.b.c", strings.Repeat(".", 4)} {
		if _, err := verifier.Verify(garbage, ""); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%q: expected ErrInvalidToken, got %v", garbage, err)
		}
	}
}

func TestSecretsAndSubjectsAreRequired(t *testing.T) {
	if _, err := NewSigner(" ", time.Minute); err == nil {
		t.Fatal("expected empty signer secret to fail")
	}
	if _, err := NewVerifier("", 0); err == nil {
		t.Fatal("expected empty verifier secret to fail")
	}
	signer, _ := newPair(t, "secret", time.Unix(0, 0))
	if _, err := signer.Issue("", "topic"); err == nil {
		t.Fatal("expected empty subject to fail")
	}
}
