package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

var pdfMagic = []byte("%PDF-")

// NormalizeKey folds an identity field for comparison: surrounding
// whitespace is dropped and case is ignored.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewID returns an identifier like "doc-3f2a9c1b7e4d".
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + raw[:12]
}

func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func LooksLikePDF(content []byte) bool {
	return bytes.HasPrefix(content, pdfMagic)
}

// BearerToken extracts the token from an "Authorization: Bearer <t>" value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || strings.ToLower(header[:len(prefix)]) != prefix {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
