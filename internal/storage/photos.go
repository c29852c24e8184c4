package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/models"
)

// Photos joins a record store and an asset store into the view the
// processing job works against.
type Photos struct {
	Records RecordStore
	Assets  AssetStore
}

func NewPhotos(records RecordStore, assets AssetStore) *Photos {
	return &Photos{Records: records, Assets: assets}
}

func (p *Photos) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	return p.Records.GetPhoto(ctx, id)
}

// ReadOriginal returns the uploaded bytes of a photo. It always reads the
// immutable source asset, never the served original which may already be
// a watermarked derivative.
func (p *Photos) ReadOriginal(ctx context.Context, id uuid.UUID) ([]byte, error) {
	rec, err := p.Records.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.readSource(ctx, rec)
}

func (p *Photos) readSource(ctx context.Context, rec *models.Photo) ([]byte, error) {
	data, err := p.Assets.GetObject(ctx, rec.SourceKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("source asset %s: %w", rec.SourceKey, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// WriteAsset stores data under the deterministic key for kind and filename.
// It does not touch any record.
func (p *Photos) WriteAsset(ctx context.Context, kind models.AssetKind, filename string, data []byte) (string, error) {
	key := AssetKey(kind, filename)
	if err := p.Assets.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Photos) Patch(ctx context.Context, id uuid.UUID, patch models.PhotoPatch) (int64, error) {
	return p.Records.PatchPhoto(ctx, id, patch)
}
