package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
)

// Blob stores media bytes inline in the database.
type Blob struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	ContentType string    `gorm:"column:content_type;size:128;not null"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null"`
	Data        []byte    `gorm:"column:data;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Blob) TableName() string {
	return "media_blobs"
}

// DatabaseStore keeps media in the media_blobs table. References are row identifiers.
type DatabaseStore struct {
	db         *gorm.DB
	idProvider ids.Provider
	clock      func() time.Time
}

var _ Store = (*DatabaseStore)(nil)

// DatabaseStoreConfig configures a DatabaseStore.
type DatabaseStoreConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
}

// NewDatabaseStore requires a migrated media_blobs table.
func NewDatabaseStore(cfg DatabaseStoreConfig) (*DatabaseStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("media: database connection required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DatabaseStore{db: cfg.Database, idProvider: idProvider, clock: clock}, nil
}

func (s *DatabaseStore) Put(ctx context.Context, data []byte, suggestedName string) (Reference, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	identifier, err := s.idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("media: id generation failed: %w", err)
	}
	blob := Blob{
		ID:          identifier,
		Name:        SanitizeName(suggestedName),
		ContentType: mimetype.Detect(data).String(),
		SizeBytes:   int64(len(data)),
		Data:        data,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&blob).Error; err != nil {
		return "", fmt.Errorf("media: insert blob: %w", err)
	}
	return Reference(identifier), nil
}

func (s *DatabaseStore) Get(ctx context.Context, ref Reference) ([]byte, error) {
	if !ref.IsStored() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	var blob Blob
	err := s.db.WithContext(ctx).
		Select("id", "data").
		Where("id = ?", ref.String()).
		Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media: load blob: %w", err)
	}
	return blob.Data, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, ref Reference) error {
	if !ref.IsStored() {
		return fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", ref.String()).Delete(&Blob{}).Error; err != nil {
		return fmt.Errorf("media: delete blob: %w", err)
	}
	return nil
}

func (s *DatabaseStore) PublicURL(Reference) string {
	return ""
}
