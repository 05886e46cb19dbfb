package media

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/config"
)

// Open constructs the Store selected by cfg.Backend. db is only used by the database backend.
func Open(ctx context.Context, cfg config.StorageConfig, db *gorm.DB) (Store, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal, "":
		return NewLocalStore(LocalStoreConfig{BaseDir: cfg.LocalDir})
	case config.StorageBackendS3:
		client, err := NewS3Client(ctx, S3ClientConfig{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Store(S3StoreConfig{
			Client:        client,
			Bucket:        cfg.S3.Bucket,
			PublicBaseURL: cfg.S3.PublicBaseURL,
		})
	case config.StorageBackendDatabase:
		return NewDatabaseStore(DatabaseStoreConfig{Database: db})
	default:
		return nil, fmt.Errorf("media: unsupported storage backend %q", cfg.Backend)
	}
}
