package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidWalletID indicates an id that is not a canonical UUID.
	ErrInvalidWalletID = errors.New("invalid wallet id")
	// ErrInvalidClientName indicates an empty or malformed client name.
	ErrInvalidClientName = errors.New("invalid client name")
	// ErrInvalidInviteCode indicates an invite code that cannot be sent.
	ErrInvalidInviteCode = errors.New("invalid invite code")
	// ErrInvalidMnemonic indicates a word list of the wrong shape.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// ValidateWalletID checks that id is a 36-character UUID.
func ValidateWalletID(id string) error {
	if len(id) != 36 {
		return fmt.Errorf("%w: %q", ErrInvalidWalletID, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidWalletID, id)
	}
	return nil
}

// ValidateClientName rejects names the engine cannot key a database by.
func ValidateClientName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidClientName)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidClientName, name)
	}
	return nil
}

// ValidateInviteCode performs the syntactic checks possible without the
// engine. Federation invite codes are bech32m strings with an "fed1" prefix.
func ValidateInviteCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInviteCode)
	}
	if !strings.HasPrefix(strings.ToLower(code), "fed1") {
		return fmt.Errorf("%w: missing fed1 prefix", ErrInvalidInviteCode)
	}
	return nil
}

// ValidateMnemonic checks for a 12 or 24 word list of non-empty words.
func ValidateMnemonic(words []string) error {
	if n := len(words); n != 12 && n != 24 {
		return fmt.Errorf("%w: %d words", ErrInvalidMnemonic, n)
	}
	for i, w := range words {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("%w: word %d empty", ErrInvalidMnemonic, i)
		}
	}
	return nil
}
