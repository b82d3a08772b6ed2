package ident

import (
	"errors"
	"strings"

	"golang.org/x/text/width"
)

// MaxCustomIDLen caps the length of a caller-chosen id.
const MaxCustomIDLen = 64

var (
	ErrEmptyCustomID    = errors.New("custom id is empty")
	ErrCustomIDTooLong  = errors.New("custom id is too long")
	ErrCustomIDCharset  = errors.New("custom id may only contain letters, digits, '-' and '_'")
	ErrCustomIDReserved = errors.New("custom id is reserved")
)

// reserved holds words that collide with routes served next to the redirect
// handler. Entries are stored normalized.
var reserved = func() map[string]struct{} {
	words := []string{
		"api", "admin", "health", "livez", "readyz", "metrics",
		"swagger", "docs", "openapi", "static", "assets", "favicon.ico",
		"robots.txt", "shorten", "links", "login", "logout", "auth",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[Normalize(strings.ToLower(w))] = struct{}{}
	}
	return m
}()

// Canonical is the form ids are stored and looked up under: surrounding
// space trimmed, full-width forms folded to ASCII, then Normalize. Every
// write and every lookup goes through it.
func Canonical(raw string) string {
	return Normalize(strings.TrimSpace(width.Fold.String(raw)))
}

// ParseCustomID validates a caller-chosen slug and returns its canonical form.
// Uniqueness is not checked here; the conditional insert decides who owns
// the id.
func ParseCustomID(raw string) (string, error) {
	id := Canonical(raw)
	if id == "" {
		return "", ErrEmptyCustomID
	}
	if len(id) > MaxCustomIDLen {
		return "", ErrCustomIDTooLong
	}
	// Normalize maps slug bytes to slug bytes and leaves the rest alone.
	for i := 0; i < len(id); i++ {
		if !isSlugByte(id[i]) {
			return "", ErrCustomIDCharset
		}
	}
	if IsReserved(id) {
		return "", ErrCustomIDReserved
	}
	return id, nil
}

// IsReserved reports whether id, after normalization, names a system route.
func IsReserved(id string) bool {
	_, ok := reserved[Normalize(strings.ToLower(id))]
	return ok
}

func isSlugByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
