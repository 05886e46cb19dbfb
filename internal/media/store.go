// Package media stores clip and profile media bytes behind one interface with
// interchangeable local, S3 and database backends.
package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
)

// PlaceholderThumbnail is the static asset used when an upload carries no thumbnail.
const PlaceholderThumbnail Reference = "/placeholder.jpg"

const maxObjectNameLength = 120

var (
	// ErrNotFound indicates the referenced bytes do not exist.
	ErrNotFound = errors.New("media: object not found")
	// ErrInvalidReference indicates the reference cannot belong to this store.
	ErrInvalidReference = errors.New("media: invalid reference")
	// ErrEmptyPayload indicates Put was called without bytes.
	ErrEmptyPayload = errors.New("media: empty payload")
)

// Reference locates stored bytes. Its shape depends on the backend: a relative path,
// a public URL or a row identifier.
type Reference string

// String returns the raw reference.
func (r Reference) String() string {
	return string(r)
}

// IsStored reports whether the reference points at bytes owned by a store, as opposed to
// an empty value or the static placeholder.
func (r Reference) IsStored() bool {
	trimmed := strings.TrimSpace(string(r))
	return trimmed != "" && Reference(trimmed) != PlaceholderThumbnail
}

// Store puts, gets and deletes opaque media bytes.
type Store interface {
	// Put persists data and returns its reference.
	Put(ctx context.Context, data []byte, suggestedName string) (Reference, error)
	// Get returns the bytes for ref, or ErrNotFound.
	Get(ctx context.Context, ref Reference) ([]byte, error)
	// Delete removes the bytes for ref. Missing bytes are not an error.
	Delete(ctx context.Context, ref Reference) error
	// PublicURL returns a directly fetchable URL for ref, or "" when bytes must be served by the API.
	PublicURL(ref Reference) string
}

// objectKey builds "<yyyy>/<mm>/<id>_<sanitized name>" for backends that name objects.
func objectKey(idProvider ids.Provider, now time.Time, suggestedName string) (string, error) {
	identifier, err := idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("media: id generation failed: %w", err)
	}
	utc := now.UTC()
	name := identifier + "_" + SanitizeName(suggestedName)
	return path.Join(fmt.Sprintf("%04d", utc.Year()), fmt.Sprintf("%02d", int(utc.Month())), name), nil
}

// SanitizeName reduces a client supplied file name to a safe single path segment.
// Spaces become underscores; anything outside [A-Za-z0-9._-] is replaced.
func SanitizeName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "blob"
	}
	var builder strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	sanitized := strings.TrimLeft(builder.String(), ".")
	if sanitized == "" {
		return "blob"
	}
	if len(sanitized) > maxObjectNameLength {
		sanitized = sanitized[len(sanitized)-maxObjectNameLength:]
	}
	return sanitized
}
