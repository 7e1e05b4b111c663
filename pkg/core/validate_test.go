package core

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateWalletID(t *testing.T) {
	if err := ValidateWalletID(NewWalletID()); err != nil {
		t.Fatalf("fresh id rejected: %v", err)
	}
	for _, id := range []string{"", "abc", strings.Repeat("z", 36)} {
		if err := ValidateWalletID(id); !errors.Is(err, ErrInvalidWalletID) {
			t.Fatalf("expected ErrInvalidWalletID for %q, got %v", id, err)
		}
	}
}

func TestValidateClientName(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if err := ValidateClientName("  "); !errors.Is(err, ErrInvalidClientName) {
			t.Fatalf("expected ErrInvalidClientName, got %v", err)
		}
	})
	t.Run("path separator", func(t *testing.T) {
		if err := ValidateClientName("a/b"); !errors.Is(err, ErrInvalidClientName) {
			t.Fatalf("expected ErrInvalidClientName, got %v", err)
		}
	})
	t.Run("uuid", func(t *testing.T) {
		if err := ValidateClientName(NewWalletID()); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	})
}

func TestValidateInviteCode(t *testing.T) {
	if err := ValidateInviteCode("fed11qgqzc2nhwden5te0vejkg6tdd9h8gepwvejkg6tdd9h8garhduhx"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := ValidateInviteCode("lnbc1..."); !errors.Is(err, ErrInvalidInviteCode) {
		t.Fatalf("expected ErrInvalidInviteCode, got %v", err)
	}
}

func TestValidateMnemonic(t *testing.T) {
	words := strings.Fields(strings.Repeat("abandon ", 12))
	if err := ValidateMnemonic(words); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := ValidateMnemonic(words[:11]); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
	words[3] = ""
	if err := ValidateMnemonic(words); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestTraceIDsAreMonotonic(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != 26 || a >= b {
		t.Fatalf("expected increasing ulids, got %s then %s", a, b)
	}
}
