package uploads

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type memoryStore struct {
	mu      sync.Mutex
	objects map[media.Reference][]byte
	puts    int
	failPut int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[media.Reference][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, data []byte, name string) (media.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut == m.puts {
		return "", errors.New("disk full")
	}
	ref := media.Reference(fmt.Sprintf("%d/%s", m.puts, name))
	m.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *memoryStore) Get(_ context.Context, ref media.Reference) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, media.ErrNotFound
	}
	return data, nil
}

func (m *memoryStore) Delete(_ context.Context, ref media.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

func (m *memoryStore) PublicURL(media.Reference) string { return "" }

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type failingCreator struct{}

func (failingCreator) Create(context.Context, clips.NewClip) (clips.Clip, error) {
	return clips.Clip{}, errors.New("database unavailable")
}

type fixture struct {
	service *Service
	store   *memoryStore
	clips   *clips.Service
	metrics *metrics.Metrics
	gather  prometheus.Gatherer
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, creator ClipCreator, maxBytes int64) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "uploads.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(clips.Models()...))

	clipService, err := clips.NewService(clips.ServiceConfig{Database: db, IDProvider: ids.NewUUIDProvider()})
	require.NoError(t, err)
	if creator == nil {
		creator = clipService
	}

	store := newMemoryStore()
	registry := prometheus.NewRegistry()
	collectors := metrics.NewWithRegistry(registry)
	core, logs := observer.New(zapcore.InfoLevel)
	service, err := NewService(ServiceConfig{
		Store:          store,
		Clips:          creator,
		MaxBytes:       maxBytes,
		AllowedFormats: []string{"video/mp4"},
		Clock: func() time.Time {
			return time.UnixMilli(1717171717000)
		},
		Logger:  zap.New(core),
		Metrics: collectors,
	})
	require.NoError(t, err)
	return fixture{service: service, store: store, clips: clipService, metrics: collectors, gather: registry, logs: logs}
}

func uploadCount(t *testing.T, gatherer prometheus.Gatherer, outcome string) float64 {
	t.Helper()
	families, err := gatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "clipshare_uploads_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

var uploader = auth.Principal{UserID: "user-1", Role: auth.RoleUser}

func TestUploadStoresVideoAndCreatesClip(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	video := []byte("0123456789")

	clip, err := f.service.Upload(ctx, Request{
		Actor:     uploader,
		Video:     video,
		VideoName: "match highlights.mp4",
		Title:     "Test Goal",
		Tags:      "laliga, goal",
	})
	require.NoError(t, err)
	require.Equal(t, "Test Goal", clip.Title)
	require.EqualValues(t, len(video), clip.FileSize)
	require.Equal(t, "1717171717000_match_highlights.mp4", clip.FileName)
	require.Equal(t, media.PlaceholderThumbnail, clip.ThumbnailRef)
	require.True(t, clip.OwnedBy("user-1"))

	stored, err := f.store.Get(ctx, clip.VideoRef)
	require.NoError(t, err)
	require.Equal(t, video, stored)

	listed, err := f.clips.List(ctx, clips.ListFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.ElementsMatch(t, []string{"laliga", "goal"}, listed[0].TagList())

	require.EqualValues(t, 1, uploadCount(t, f.gather, metrics.UploadOutcomeAccepted))
	require.Equal(t, 1, f.logs.FilterMessage("upload format outside allowed list").Len(),
		"plain bytes are not video/mp4 and must be reported without rejecting")
}

func TestUploadDefaultsTitleToFileNameAndStoresThumbnail(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	clip, err := f.service.Upload(ctx, Request{
		Actor:     uploader,
		Video:     []byte("video"),
		VideoName: `C:\clips\cat.mp4`,
		Thumbnail: pngHeader,
	})
	require.NoError(t, err)
	require.Equal(t, "cat.mp4", clip.Title)
	require.NotEqual(t, media.PlaceholderThumbnail, clip.ThumbnailRef)

	thumbnail, err := f.store.Get(ctx, clip.ThumbnailRef)
	require.NoError(t, err)
	require.Equal(t, pngHeader, thumbnail)
}

func TestUploadAcceptsMultibyteTitleWithinCharacterLimit(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	title := strings.Repeat("é", 200)

	clip, err := f.service.Upload(ctx, Request{
		Actor:     uploader,
		Video:     []byte("video"),
		VideoName: "accents.mp4",
		Title:     title,
	})
	require.NoError(t, err)
	require.Equal(t, title, clip.Title)
	require.Equal(t, 1, f.store.count())

	_, err = f.service.Upload(ctx, Request{
		Actor:     uploader,
		Video:     []byte("video"),
		VideoName: "accents.mp4",
		Title:     strings.Repeat("é", clips.MaxTitleLength+1),
	})
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Equal(t, 1, f.store.count())
}

func TestUploadTruncatesLongFileNameUsedAsTitle(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	name := strings.Repeat("a", 300) + ".mp4"

	clip, err := f.service.Upload(ctx, Request{
		Actor:     uploader,
		Video:     []byte("video"),
		VideoName: name,
	})
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("a", clips.MaxTitleLength), clip.Title)

	listed, err := f.clips.List(ctx, clips.ListFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestUploadRejectsBeforeWriting(t *testing.T) {
	f := newFixture(t, nil, 16)
	ctx := context.Background()

	testCases := []struct {
		name    string
		request Request
		kind    error
	}{
		{name: "anonymous", request: Request{Video: []byte("v")}, kind: apperr.ErrUnauthorized},
		{name: "empty video", request: Request{Actor: uploader}, kind: apperr.ErrValidation},
		{name: "oversized", request: Request{Actor: uploader, Video: make([]byte, 17)}, kind: apperr.ErrPayloadTooLarge},
		{name: "declared oversized", request: Request{Actor: uploader, Video: []byte("v"), DeclaredSize: 1 << 30}, kind: apperr.ErrPayloadTooLarge},
		{name: "bad tags", request: Request{Actor: uploader, Video: []byte("v"), Tags: string(make([]byte, 100))}, kind: apperr.ErrValidation},
		{name: "non-image thumbnail", request: Request{Actor: uploader, Video: []byte("v"), Thumbnail: []byte("hello")}, kind: apperr.ErrValidation},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := f.service.Upload(ctx, testCase.request)
			require.ErrorIs(t, err, testCase.kind)
		})
	}

	require.Zero(t, f.store.count())
	listed, err := f.clips.List(ctx, clips.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, listed)
	require.EqualValues(t, len(testCases), uploadCount(t, f.gather, metrics.UploadOutcomeRejected))
}

func TestUploadCompensatesWhenThumbnailFails(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.store.failPut = 2

	_, err := f.service.Upload(context.Background(), Request{
		Actor:     uploader,
		Video:     []byte("video"),
		VideoName: "a.mp4",
		Thumbnail: pngHeader,
	})
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Zero(t, f.store.count(), "the stored video must be cleaned up")
}

func TestUploadCompensatesWhenRecordFails(t *testing.T) {
	f := newFixture(t, failingCreator{}, 0)

	_, err := f.service.Upload(context.Background(), Request{
		Actor:     uploader,
		Video:     []byte("video"),
		VideoName: "a.mp4",
		Thumbnail: pngHeader,
	})
	require.Error(t, err)
	require.Zero(t, f.store.count())
	require.EqualValues(t, 1, uploadCount(t, f.gather, metrics.UploadOutcomeFailed))
}

func TestUploadFailsWhenVideoStoreFails(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.store.failPut = 1

	_, err := f.service.Upload(context.Background(), Request{Actor: uploader, Video: []byte("video")})
	require.ErrorIs(t, err, apperr.ErrStorage)
	require.Equal(t, "uploads.upload.video_store_failed", apperr.CodeOf(err))
}
