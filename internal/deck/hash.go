package deck

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize cleans an entry's fields and joins them for hashing. Each field
// is lowercased, trimmed, and has its line endings unified before joining,
// so cosmetic edits to a deck file do not change an entry's identity.
func Normalize(e Entry) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	// Joined with a newline so adjacent fields cannot run together and
	// collide, e.g. "ab"+"c" vs "a"+"bc".
	return strings.Join([]string{normalizePart(e.Question), normalizePart(e.Answer)}, "\n")
}

// Hash returns the SHA-256 of the normalized entry as a hex string.
func Hash(e Entry) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(Normalize(e))))
}
