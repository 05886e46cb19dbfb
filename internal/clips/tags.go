package clips

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxTagsPerClip = 32
	maxTagLength   = 64
)

var (
	// ErrTooManyTags indicates more distinct tags than a clip may carry.
	ErrTooManyTags = errors.New("clips: too many tags")
	// ErrTagTooLong indicates a single tag exceeds the storage bound.
	ErrTagTooLong = errors.New("clips: tag too long")
)

// NormalizeTags splits a comma separated tag string into lowercase, trimmed, de-duplicated
// tags in first-seen order.
func NormalizeTags(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		if _, duplicate := seen[tag]; duplicate {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, fmt.Errorf("%w: %q exceeds %d characters", ErrTagTooLong, tag, maxTagLength)
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) > maxTagsPerClip {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyTags, len(tags), maxTagsPerClip)
	}
	return tags, nil
}

func buildTagRows(clipID string, tags []string) []ClipTag {
	rows := make([]ClipTag, 0, len(tags))
	for index, tag := range tags {
		rows = append(rows, ClipTag{ClipID: clipID, Tag: tag, Position: index})
	}
	return rows
}
