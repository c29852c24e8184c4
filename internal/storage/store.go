package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/config"
	"github.com/your-org/photoproc/internal/models"
)

var (
	// ErrNotFound is returned when a photo record or asset does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPostCommit wraps failures of hooks run after a record was durably
	// created. The record itself is in place.
	ErrPostCommit = errors.New("post-commit hook failed")
)

// PostCommitHook runs after the creating transaction has committed.
type PostCommitHook func(ctx context.Context, p *models.Photo) error

// RecordStore persists photo records.
type RecordStore interface {
	CreatePhoto(ctx context.Context, p *models.Photo, hooks ...PostCommitHook) error
	GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	// PatchPhoto applies a field-scoped update and returns rows affected.
	PatchPhoto(ctx context.Context, id uuid.UUID, patch models.PhotoPatch) (int64, error)
	AddTags(ctx context.Context, id uuid.UUID, tags []string) (int64, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (int64, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Photo, error)
	Ping(ctx context.Context) error
	Close()
}

// AssetStore holds binary assets by key.
type AssetStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// OpenRecords connects the configured record store and migrates it.
func OpenRecords(ctx context.Context, cfg config.DatabaseConfig) (RecordStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Path)
	default:
		return NewPostgresStore(ctx, cfg)
	}
}

// OpenAssets connects the configured asset store.
func OpenAssets(ctx context.Context, cfg config.StorageConfig, mc config.MinIOConfig) (AssetStore, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.LocalRoot)
	default:
		s, err := NewMinIOStore(mc)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		return s, nil
	}
}

// AssetKey is the deterministic storage key for an asset.
func AssetKey(kind models.AssetKind, filename string) string {
	return fmt.Sprintf("%s/%s", kind, filename)
}

func runHooks(ctx context.Context, p *models.Photo, hooks []PostCommitHook) error {
	var errs []error
	for _, h := range hooks {
		if err := h(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPostCommit, errors.Join(errs...))
	}
	return nil
}

func dedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
