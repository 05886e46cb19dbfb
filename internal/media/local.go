package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
)

// LocalStore keeps media on the local filesystem. References are slash separated paths
// relative to the base directory.
type LocalStore struct {
	baseDir    string
	idProvider ids.Provider
	clock      func() time.Time
}

var _ Store = (*LocalStore)(nil)

// LocalStoreConfig configures a LocalStore.
type LocalStoreConfig struct {
	BaseDir    string
	IDProvider ids.Provider
	Clock      func() time.Time
}

// NewLocalStore creates the base directory when missing.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("media: local base directory required")
	}
	absolute, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("media: resolve base directory: %w", err)
	}
	if err := os.MkdirAll(absolute, 0o755); err != nil {
		return nil, fmt.Errorf("media: create base directory: %w", err)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LocalStore{baseDir: absolute, idProvider: idProvider, clock: clock}, nil
}

func (s *LocalStore) Put(_ context.Context, data []byte, suggestedName string) (Reference, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	key, err := objectKey(s.idProvider, s.clock(), suggestedName)
	if err != nil {
		return "", err
	}
	fullPath, err := s.resolve(Reference(key))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("media: create directory: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("media: create temp file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return "", fmt.Errorf("media: write file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return "", fmt.Errorf("media: close file: %w", err)
	}
	if err := os.Rename(tempName, fullPath); err != nil {
		os.Remove(tempName)
		return "", fmt.Errorf("media: finalize file: %w", err)
	}
	return Reference(key), nil
}

func (s *LocalStore) Get(_ context.Context, ref Reference) ([]byte, error) {
	fullPath, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media: read file: %w", err)
	}
	return data, nil
}

func (s *LocalStore) Delete(_ context.Context, ref Reference) error {
	fullPath, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: remove file: %w", err)
	}
	return nil
}

func (s *LocalStore) PublicURL(Reference) string {
	return ""
}

// resolve maps a reference onto the base directory, rejecting anything that escapes it.
func (s *LocalStore) resolve(ref Reference) (string, error) {
	raw := strings.TrimSpace(ref.String())
	if raw == "" || strings.HasPrefix(raw, "/") || strings.Contains(raw, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	cleaned := filepath.Clean(filepath.FromSlash(raw))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
