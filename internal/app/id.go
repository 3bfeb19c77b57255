package app

import (
	"strings"

	"github.com/bunctl/bunctl/internal/bunctlerr"
)

// ID is a sanitized, stable application identifier.
//
// Sanitization is total and idempotent: lowercase, keep ASCII alphanumerics
// and '-', '_', '.', replace every other rune with '-', collapse repeated
// '-' runs, trim leading/trailing '-'. An empty result is rejected.
type ID string

func (id ID) String() string { return string(id) }

// NewID sanitizes name into an ID. It fails with bunctlerr.KindInvalidAppName
// when sanitization yields the empty string.
func NewID(name string) (ID, error) {
	s := sanitize(name)
	if s == "" {
		return "", bunctlerr.InvalidAppName(name)
	}
	return ID(s), nil
}

// MustID panics on invalid names; reserved for tests and static configuration
// known good at compile time.
func MustID(name string) ID {
	id, err := NewID(name)
	if err != nil {
		panic(err)
	}
	return id
}

func sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
			lastDash = false
		case r == '-':
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
