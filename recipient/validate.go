package recipient

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xraph/herald"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
)

// NormalizePhone strips spaces, dashes, dots and parentheses.
func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize applies the kind's normalization to a destination.
func Normalize(k Kind, dest string) string {
	if k == KindEmail {
		return NormalizeEmail(dest)
	}
	return NormalizePhone(dest)
}

// ValidPhone reports whether s is digits only after an optional leading
// '+', 10 to 15 digits long.
func ValidPhone(s string) bool { return phonePattern.MatchString(s) }

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

// Validate checks a normalized destination for kind k and returns a
// herald.ErrValidation error when it is malformed.
func Validate(k Kind, dest string) error {
	switch k {
	case KindSMS:
		if !ValidPhone(dest) {
			return fmt.Errorf("%w: malformed phone number %q", herald.ErrValidation, dest)
		}
	case KindEmail:
		if !ValidEmail(dest) {
			return fmt.Errorf("%w: malformed email address %q", herald.ErrValidation, dest)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", herald.ErrValidation, k)
	}
	return nil
}
