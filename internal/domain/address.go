package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Address identifies a holder, depositor, creator or owner.
type Address string

var addressRegex = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// ParseAddress normalizes and validates a hex address.
func ParseAddress(s string) (Address, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if !addressRegex.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(normalized), nil
}

// Validate checks that the address is in normalized form.
func (a Address) Validate() error {
	if !addressRegex.MatchString(string(a)) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, string(a))
	}
	return nil
}

func (a Address) String() string {
	return string(a)
}
