package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/examcards/internal/domain"
)

// Normalize concatenates the card's identity fields after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(card domain.Card) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		return p
	}

	// The exam is part of the identity so the same question in two exams
	// keeps separate review histories.
	return strings.Join([]string{
		normalizePart(card.ExamID),
		normalizePart(card.Front),
		normalizePart(card.Back),
		normalizePart(card.Topic),
	}, "\n")
}

// Hash takes a card, normalizes it, and returns its SHA-256 hash as a hex string.
// The hash is used as the card id.
func Hash(card domain.Card) string {
	normalized := Normalize(card)
	hashBytes := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hashBytes)
}
