package entrysong

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize makes s usable as a store key and a file name: after NFC normalisation
// every rune other than ASCII letters, digits, '_', '.', '-' and Hangul becomes '_'.
func Sanitize(s string) string {
	out, _, err := transform.String(transform.Chain(norm.NFC, runes.Map(replace)), s)
	if err != nil {
		return strings.Map(replace, s)
	}
	return out
}

func replace(r rune) rune {
	if keep(r) {
		return r
	}
	return '_'
}

func keep(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	}
	// precomposed Hangul syllables
	return r >= '가' && r <= '힣'
}

// Key builds the store key "username#discriminator" from raw user fields
func Key(username, discriminator string) string {
	return Sanitize(username) + "#" + Sanitize(discriminator)
}

// FallbackFile is the uploaded clip name used when no entry song is configured
func FallbackFile(username, discriminator string) string {
	return Key(username, discriminator) + ".mp3"
}
