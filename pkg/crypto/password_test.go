package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	digest, err := HashPassword("Secret123!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword("Secret123!", digest) {
		t.Fatalf("expected password to verify")
	}
	for _, wrong := range []string{"", "secret123!", "Secret123", strings.Repeat("a", 200)} {
		if VerifyPassword(wrong, digest) {
			t.Fatalf("expected %q to be rejected", wrong)
		}
	}
	if VerifyPassword("Secret123!", "not-a-bcrypt-digest") {
		t.Fatalf("expected malformed digest to be rejected")
	}
}

func TestHashPasswordLongInputs(t *testing.T) {
	// Passwords longer than bcrypt's 72 byte limit must still be distinguished.
	a := strings.Repeat("x", 100) + "A"
	b := strings.Repeat("x", 100) + "B"
	digest, err := HashPassword(a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if VerifyPassword(b, digest) {
		t.Fatalf("expected suffix difference to matter")
	}

	if _, err := HashPassword(strings.Repeat("x", 129)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
		message  string
	}{
		{"Ab1!", false, "Password must be at least 8 characters long"},
		{strings.Repeat("Ab1!", 33), false, "Password must be shorter than 128 characters"},
		{"abcdefg1!", false, "Password must contain at least one uppercase letter"},
		{"ABCDEFG1!", false, "Password must contain at least one lowercase letter"},
		{"Abcdefgh!", false, "Password must contain at least one digit"},
		{"Abcdefgh1", false, "Password must contain at least one special character"},
		{"Abcdefg1!", true, "Password is strong"},
	}
	for _, tc := range cases {
		ok, message := ValidatePasswordStrength(tc.password)
		if ok != tc.ok || message != tc.message {
			t.Fatalf("%q: got (%v, %q), want (%v, %q)", tc.password, ok, message, tc.ok, tc.message)
		}
	}
}

func TestGenerateSecurePassword(t *testing.T) {
	pw, err := GenerateSecurePassword(24)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pw) != 24 {
		t.Fatalf("expected 24 characters, got %d", len(pw))
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatalf("expected stable digest")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("expected hex sha256 digest")
	}
}
