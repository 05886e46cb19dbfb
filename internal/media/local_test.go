package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
)

func newTestLocalStore(t *testing.T, identifiers ...string) (*LocalStore, string) {
	t.Helper()
	baseDir := t.TempDir()
	store, err := NewLocalStore(LocalStoreConfig{
		BaseDir:    baseDir,
		IDProvider: ids.NewSequence(identifiers...),
		Clock: func() time.Time {
			return time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	return store, baseDir
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, baseDir := newTestLocalStore(t, "id-1")

	ref, err := store.Put(ctx, []byte("video-bytes"), "funny cat.mp4")
	require.NoError(t, err)
	require.Equal(t, Reference("2024/06/id-1_funny_cat.mp4"), ref)

	_, statErr := os.Stat(filepath.Join(baseDir, "2024", "06", "id-1_funny_cat.mp4"))
	require.NoError(t, statErr)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte("video-bytes"), data)
	require.Empty(t, store.PublicURL(ref))

	require.NoError(t, store.Delete(ctx, ref))
	_, err = store.Get(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, ref), "deleting missing media is not an error")
}

func TestLocalStoreRejectsEmptyPayload(t *testing.T) {
	store, _ := newTestLocalStore(t, "id-1")
	_, err := store.Put(context.Background(), nil, "x.mp4")
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestLocalStoreRejectsEscapingReferences(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestLocalStore(t)

	for _, ref := range []Reference{"../outside", "/etc/passwd", "a/../../b", "..", `a\b`, ""} {
		_, err := store.Get(ctx, ref)
		require.Truef(t, errors.Is(err, ErrInvalidReference), "expected invalid reference for %q, got %v", ref, err)
		require.ErrorIs(t, store.Delete(ctx, ref), ErrInvalidReference)
	}
}
