package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	ErrArchiveDisabled = errors.New("payload archive is disabled")
	ErrArchiveNotFound = errors.New("archived payload not found")
	ErrInvalidKey      = errors.New("invalid archive key")
)

// PayloadArchive keeps verified raw webhook bodies for later inspection
type PayloadArchive interface {
	// Store writes body under key and returns the location it was written to
	Store(ctx context.Context, key string, body []byte) (string, error)
	// Load reads a previously stored body
	Load(ctx context.Context, key string) ([]byte, error)
}

var keyRegex = regexp.MustCompile(`^webhooks/\d{4}/\d{2}/\d{2}/[A-Za-z0-9_.-]+\.json$`)

// ArchiveKey builds the date-partitioned key for one delivery
func ArchiveKey(receivedAt time.Time, requestID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, requestID)
	return path.Join("webhooks", receivedAt.UTC().Format("2006/01/02"), fmt.Sprintf("%s.json", id))
}

// ValidKey reports whether key has the shape ArchiveKey produces
func ValidKey(key string) bool {
	return keyRegex.MatchString(key) && !strings.Contains(key, "..")
}

// NoopArchive is used when archiving is turned off
type NoopArchive struct{}

func (NoopArchive) Store(context.Context, string, []byte) (string, error) { return "", nil }

func (NoopArchive) Load(context.Context, string) ([]byte, error) { return nil, ErrArchiveDisabled }
