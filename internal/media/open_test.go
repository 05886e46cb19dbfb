package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/clipshare/internal/config"
)

func TestOpenSelectsConfiguredBackend(t *testing.T) {
	ctx := context.Background()

	local, err := Open(ctx, config.StorageConfig{Backend: config.StorageBackendLocal, LocalDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.IsType(t, &LocalStore{}, local)

	database, err := Open(ctx, config.StorageConfig{Backend: config.StorageBackendDatabase}, openBlobDatabase(t))
	require.NoError(t, err)
	require.IsType(t, &DatabaseStore{}, database)

	_, err = Open(ctx, config.StorageConfig{Backend: config.StorageBackendDatabase}, nil)
	require.Error(t, err)

	_, err = Open(ctx, config.StorageConfig{Backend: "ftp"}, nil)
	require.ErrorContains(t, err, "unsupported storage backend")
}
