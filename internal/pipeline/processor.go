// Package pipeline runs the background post-processing job for one photo:
// read the uploaded original once, derive metadata, tags and images from
// that buffer, and commit everything through a single field-scoped patch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/metadata"
	"github.com/your-org/photoproc/internal/models"
	"github.com/your-org/photoproc/internal/observability"
	"github.com/your-org/photoproc/internal/render"
	"github.com/your-org/photoproc/internal/storage"
	"github.com/your-org/photoproc/internal/tagging"
	"github.com/your-org/photoproc/internal/vision"
)

// PhotoStore is the persistent state the job reads and commits to.
type PhotoStore interface {
	GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	ReadOriginal(ctx context.Context, id uuid.UUID) ([]byte, error)
	WriteAsset(ctx context.Context, kind models.AssetKind, filename string, data []byte) (string, error)
	Patch(ctx context.Context, id uuid.UUID, patch models.PhotoPatch) (int64, error)
}

// Renderer produces the preview and watermarked derivatives.
type Renderer interface {
	Render(img image.Image) render.Result
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomePartial   Outcome = "partial"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeMissing   Outcome = "missing"
	OutcomeFailed    Outcome = "failed"
)

type Options struct {
	// ReadGrace delays reading an asset uploaded less than ReadGrace ago.
	ReadGrace     time.Duration
	SkipProcessed bool
	Timeout       time.Duration
}

type Processor struct {
	store     PhotoStore
	extractor *metadata.Extractor
	renderer  Renderer
	tagger    vision.Tagger
	opts      Options
	now       func() time.Time
}

func NewProcessor(store PhotoStore, renderer Renderer, tagger vision.Tagger, opts Options) *Processor {
	if tagger == nil {
		tagger = vision.Noop{}
	}
	return &Processor{
		store:     store,
		extractor: metadata.NewExtractor(),
		renderer:  renderer,
		tagger:    tagger,
		opts:      opts,
		now:       time.Now,
	}
}

// Handle processes photo id once. A nil error means the delivery can be
// acknowledged; otherwise IsRetryable decides between retry and dead letter.
func (p *Processor) Handle(ctx context.Context, id uuid.UUID, attempt int) (Outcome, error) {
	log := slog.With("photo_id", id, "attempt", attempt)
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	outcome, err := p.run(ctx, log, id)
	if err != nil && outcome == "" {
		outcome = OutcomeFailed
	}
	observability.JobsTotal.WithLabelValues(string(outcome)).Inc()

	switch {
	case err == nil:
		log.Info("photo job done", "outcome", outcome)
	case IsRetryable(err):
		log.Warn("photo job failed", "outcome", outcome, "error", err)
	default:
		log.Error("photo job failed permanently", "outcome", outcome, "error", err)
	}
	return outcome, err
}

func (p *Processor) run(ctx context.Context, log *slog.Logger, id uuid.UUID) (Outcome, error) {
	rec, err := p.store.GetPhoto(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return OutcomeMissing, nil
		}
		return "", fmt.Errorf("%w: load record: %v", ErrTransientIO, err)
	}
	if p.opts.SkipProcessed && rec.AlreadyProcessed() {
		return OutcomeSkipped, nil
	}

	if err := p.waitForUpload(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientIO, err)
	}

	start := time.Now()
	data, err := p.store.ReadOriginal(ctx, id)
	observeStage("read", start)
	if err != nil {
		return "", fmt.Errorf("%w: read original: %v", ErrTransientIO, err)
	}

	start = time.Now()
	img, err := render.Decode(data)
	observeStage("decode", start)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssetUnreadable, err)
	}

	meta, tags := p.describe(ctx, log, data, img, id)

	start = time.Now()
	res := p.renderer.Render(img)
	observeStage("render", start)

	patch := models.PhotoPatch{
		State:     models.PhotoStateProcessed,
		Metadata:  meta,
		AddTags:   tags,
		UpdatedAt: p.now().UTC(),
	}
	filename := id.String() + ".jpg"

	start = time.Now()
	if res.PreviewErr == nil {
		key, err := p.store.WriteAsset(ctx, models.AssetKindPreview, filename, res.Preview)
		if err != nil {
			return "", fmt.Errorf("%w: write preview: %v", ErrTransientIO, err)
		}
		patch.PreviewKey = &key
		patch.ProcessedDigest = rec.SourceDigest
	}
	if res.WatermarkErr == nil {
		key, err := p.store.WriteAsset(ctx, models.AssetKindWatermarked, filename, res.Watermarked)
		if err != nil {
			return "", fmt.Errorf("%w: write watermarked original: %v", ErrTransientIO, err)
		}
		patch.OriginalKey = &key
	}
	observeStage("write", start)

	start = time.Now()
	n, err := p.store.Patch(ctx, id, patch)
	observeStage("commit", start)
	if err != nil {
		return "", fmt.Errorf("%w: commit: %v", ErrTransientIO, err)
	}
	if n == 0 {
		log.Info("photo record vanished before commit")
		return OutcomeMissing, nil
	}

	if res.PreviewErr != nil {
		return OutcomePartial, fmt.Errorf("%w: preview: %v", ErrPartialRender, res.PreviewErr)
	}
	if res.WatermarkErr != nil {
		log.Warn("watermark skipped, original left as uploaded", "error", res.WatermarkErr)
		return OutcomePartial, nil
	}
	return OutcomeProcessed, nil
}

// describe extracts the curated metadata and computes heuristic tags plus
// any tags from the external classifier.
func (p *Processor) describe(ctx context.Context, log *slog.Logger, data []byte, img image.Image, id uuid.UUID) (map[string]string, []string) {
	start := time.Now()
	curated := metadata.Curate(p.extractor.Extract(data))
	observeStage("extract", start)

	b := img.Bounds()
	heuristic := tagging.Classify(tagging.Input{Width: b.Dx(), Height: b.Dy(), Meta: curated})
	observability.TagsInferred.WithLabelValues("heuristic").Add(float64(len(heuristic)))

	start = time.Now()
	external, err := p.tagger.Tags(ctx, vision.Input{Image: img, Data: data, Filename: id.String() + ".jpg"})
	observeStage("classify", start)
	if err != nil {
		log.Warn("external classifier failed, continuing without its tags", "error", err)
		external = nil
	}
	observability.TagsInferred.WithLabelValues("external").Add(float64(len(external)))

	return curated.Strings(), tagging.Merge(heuristic, external)
}

func (p *Processor) waitForUpload(ctx context.Context, rec *models.Photo) error {
	if p.opts.ReadGrace <= 0 {
		return nil
	}
	wait := p.opts.ReadGrace - p.now().Sub(rec.UploadedAt)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func observeStage(stage string, start time.Time) {
	observability.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
