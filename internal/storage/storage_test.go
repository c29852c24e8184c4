package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photoproc/internal/models"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "photos.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func pendingPhoto(uploaded time.Time) *models.Photo {
	id := uuid.New()
	key := AssetKey(models.AssetKindSource, id.String()+".jpg")
	return &models.Photo{
		ID:           id,
		SourceKey:    key,
		SourceDigest: "abc",
		OriginalKey:  key,
		State:        models.PhotoStatePending,
		UploadedAt:   uploaded,
		UpdatedAt:    uploaded,
	}
}

func strPtr(s string) *string { return &s }

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := pendingPhoto(time.Now().UTC().Truncate(time.Second))

	var hooked *models.Photo
	require.NoError(t, s.CreatePhoto(ctx, p, func(_ context.Context, got *models.Photo) error {
		hooked = got
		return nil
	}))
	require.NotNil(t, hooked)
	assert.Equal(t, p.ID, hooked.ID)

	got, err := s.GetPhoto(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatePending, got.State)
	assert.Equal(t, p.SourceKey, got.OriginalKey)
	assert.Nil(t, got.PreviewKey)
	assert.Empty(t, got.Tags)
	assert.Empty(t, got.Metadata)
	assert.True(t, p.UploadedAt.Equal(got.UploadedAt))

	_, err = s.GetPhoto(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteHookFailureKeepsRecord(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := pendingPhoto(time.Now().UTC())

	err := s.CreatePhoto(ctx, p, func(context.Context, *models.Photo) error {
		return errors.New("queue down")
	})
	assert.ErrorIs(t, err, ErrPostCommit)

	_, err = s.GetPhoto(ctx, p.ID)
	assert.NoError(t, err)
}

func TestSQLitePatchCommits(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := pendingPhoto(time.Now().UTC())
	require.NoError(t, s.CreatePhoto(ctx, p))

	_, err := s.AddTags(ctx, p.ID, []string{"Custom"})
	require.NoError(t, err)
	_, err = s.MarkFailed(ctx, p.ID, "earlier failure")
	require.NoError(t, err)

	n, err := s.PatchPhoto(ctx, p.ID, models.PhotoPatch{
		State:           models.PhotoStateProcessed,
		Metadata:        map[string]string{"Make": "Canon"},
		AddTags:         []string{"Landscape", "Custom", "Landscape"},
		PreviewKey:      strPtr("previews/x.jpg"),
		OriginalKey:     strPtr("watermarked/x.jpg"),
		ProcessedDigest: "abc",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetPhoto(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStateProcessed, got.State)
	assert.Equal(t, []string{"Custom", "Landscape"}, got.Tags)
	assert.Equal(t, map[string]string{"Make": "Canon"}, got.Metadata)
	assert.Equal(t, "previews/x.jpg", *got.PreviewKey)
	assert.Equal(t, "watermarked/x.jpg", got.OriginalKey)
	assert.Equal(t, p.SourceKey, got.SourceKey)
	assert.Empty(t, got.LastError)
	assert.True(t, got.AlreadyProcessed())
}

func TestSQLitePatchWithoutPreviewStaysPending(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := pendingPhoto(time.Now().UTC())
	require.NoError(t, s.CreatePhoto(ctx, p))

	_, err := s.PatchPhoto(ctx, p.ID, models.PhotoPatch{
		State:   models.PhotoStateProcessed,
		AddTags: []string{"Square"},
	})
	require.NoError(t, err)

	got, err := s.GetPhoto(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoStatePending, got.State)
	assert.Equal(t, []string{"Square"}, got.Tags)
	assert.Equal(t, p.SourceKey, got.OriginalKey)
}

func TestSQLitePatchMissingRow(t *testing.T) {
	s := newSQLite(t)
	n, err := s.PatchPhoto(context.Background(), uuid.New(), models.PhotoPatch{State: models.PhotoStateProcessed})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteConcurrentPatchesUnionTags(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := pendingPhoto(time.Now().UTC())
	require.NoError(t, s.CreatePhoto(ctx, p))

	var wg sync.WaitGroup
	for _, tags := range [][]string{{"a", "b"}, {"b", "c"}, {"d"}} {
		wg.Add(1)
		go func(tags []string) {
			defer wg.Done()
			_, err := s.PatchPhoto(ctx, p.ID, models.PhotoPatch{
				State:      models.PhotoStateProcessed,
				AddTags:    tags,
				PreviewKey: strPtr("previews/p.jpg"),
			})
			assert.NoError(t, err)
		}(tags)
	}
	wg.Wait()

	got, err := s.GetPhoto(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got.Tags)
	assert.Equal(t, models.PhotoStateProcessed, got.State)
}

func TestSQLiteMarkFailedSkipsProcessed(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := pendingPhoto(time.Now().UTC())
	require.NoError(t, s.CreatePhoto(ctx, p))
	_, err := s.PatchPhoto(ctx, p.ID, models.PhotoPatch{State: models.PhotoStateProcessed, PreviewKey: strPtr("previews/p.jpg")})
	require.NoError(t, err)

	n, err := s.MarkFailed(ctx, p.ID, "late dead letter")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteListPending(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := pendingPhoto(now.Add(-2 * time.Hour))
	fresh := pendingPhoto(now)
	done := pendingPhoto(now.Add(-3 * time.Hour))
	for _, p := range []*models.Photo{old, fresh, done} {
		require.NoError(t, s.CreatePhoto(ctx, p))
	}
	_, err := s.PatchPhoto(ctx, done.ID, models.PhotoPatch{State: models.PhotoStateProcessed, PreviewKey: strPtr("previews/d.jpg")})
	require.NoError(t, err)

	got, err := s.ListPending(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "previews/a.jpg", []byte("one"), "image/jpeg"))
	require.NoError(t, s.PutObject(ctx, "previews/a.jpg", []byte("two"), "image/jpeg"))
	data, err := s.GetObject(ctx, "previews/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	_, err = s.GetObject(ctx, "previews/missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.PutObject(ctx, "../escape.jpg", []byte("x"), ""))
	assert.NoError(t, s.Ping(ctx))
}

func TestPhotosReadsImmutableSource(t *testing.T) {
	records := newSQLite(t)
	assets, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	photos := NewPhotos(records, assets)
	ctx := context.Background()

	p := pendingPhoto(time.Now().UTC())
	require.NoError(t, assets.PutObject(ctx, p.SourceKey, []byte("source"), "image/jpeg"))
	require.NoError(t, records.CreatePhoto(ctx, p))

	key, err := photos.WriteAsset(ctx, models.AssetKindWatermarked, p.ID.String()+".jpg", []byte("marked"))
	require.NoError(t, err)
	assert.Equal(t, "watermarked/"+p.ID.String()+".jpg", key)

	_, err = photos.Patch(ctx, p.ID, models.PhotoPatch{OriginalKey: &key})
	require.NoError(t, err)

	data, err := photos.ReadOriginal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("source"), data)

	_, err = photos.ReadOriginal(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	other := pendingPhoto(time.Now().UTC())
	require.NoError(t, records.CreatePhoto(ctx, other))
	_, err = photos.ReadOriginal(ctx, other.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
