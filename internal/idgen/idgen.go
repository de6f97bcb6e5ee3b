// Package idgen generates identifiers for notifications that are synthesized
// locally rather than received from the upstream platform.
package idgen

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random suffix.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters after the timestamp.
var Length = 9

// GenerateAt returns "<unix-millis>_<random>" anchored at t.
func GenerateAt(t time.Time) (string, error) {
	suffix, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return fmt.Sprintf("%d_%s", t.UnixMilli(), suffix), nil
}
