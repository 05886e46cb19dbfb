package clips

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
)

type stepClock struct {
	mu      sync.Mutex
	current time.Time
}

func newStepClock() *stepClock {
	return &stepClock{current: time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Minute)
	return c.current
}

type countingIDs struct {
	mu   sync.Mutex
	next int
}

func (c *countingIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return fmt.Sprintf("id-%03d", c.next), nil
}

var _ ids.Provider = (*countingIDs)(nil)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "clips.db")), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

type testEnv struct {
	service *Service
	db      *gorm.DB
	store   *media.LocalStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db := openTestDatabase(t)
	store, err := media.NewLocalStore(media.LocalStoreConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)
	clock := newStepClock()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &countingIDs{},
		Cleaner:    media.NewCleaner(store, nil, nil),
	})
	require.NoError(t, err)
	return testEnv{service: service, db: db, store: store}
}

func stringPointer(value string) *string {
	return &value
}

var (
	ownerPrincipal    = auth.Principal{UserID: "owner", Role: auth.RoleUser}
	strangerPrincipal = auth.Principal{UserID: "stranger", Role: auth.RoleUser}
	adminPrincipal    = auth.Principal{UserID: "admin", Role: auth.RoleAdmin}
)
