package token

import (
	"testing"
	"time"
)

func TestGenerateVerify(t *testing.T) {
	secret := []byte("secret")
	tok, err := Generate("sub-1", 42, "approve", secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	p, err := Verify(tok, secret, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.SubmissionID != "sub-1" || p.ReviewerID != 42 || p.Decision != "approve" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s")
	tok, err := Generate("sub-1", 42, "reject", secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := Verify(tok, secret, time.Millisecond); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("sub-1", 42, "reject", secret)
	if _, err := Verify(tok+"x", secret, time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, _ := Generate("sub-1", 42, "approve", []byte("right"))
	if _, err := Verify(tok, []byte("wrong"), time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	for _, tok := range []string{"", "a", "a.b.c", "!!.!!"} {
		if _, err := Verify(tok, []byte("s"), time.Minute); err != ErrInvalid {
			t.Fatalf("token %q: expected invalid, got %v", tok, err)
		}
	}
}
