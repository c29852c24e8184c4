package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/your-org/photoproc/internal/config"
	"github.com/your-org/photoproc/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := Migrate(db, "postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const photoColumns = `id, source_key, source_digest, original_key, preview_key, state,
	metadata, tags, processed_digest, last_error, uploaded_at, updated_at`

// CreatePhoto inserts p and, once the transaction is committed, runs hooks.
func (s *PostgresStore) CreatePhoto(ctx context.Context, p *models.Photo, hooks ...PostCommitHook) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create photo: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO photos (`+photoColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.SourceKey, p.SourceDigest, p.OriginalKey, p.PreviewKey, p.State,
		p.Metadata, p.Tags, p.ProcessedDigest, p.LastError, p.UploadedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit photo: %w", err)
	}
	return runHooks(ctx, p, hooks)
}

func (s *PostgresStore) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	p := &models.Photo{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE id = $1`, id,
	).Scan(&p.ID, &p.SourceKey, &p.SourceDigest, &p.OriginalKey, &p.PreviewKey, &p.State,
		&p.Metadata, &p.Tags, &p.ProcessedDigest, &p.LastError, &p.UploadedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// PatchPhoto updates only the fields set in patch. Tags are unioned with
// the stored set inside the statement, and state becomes processed only if
// the row ends up with a preview.
func (s *PostgresStore) PatchPhoto(ctx context.Context, id uuid.UUID, patch models.PhotoPatch) (int64, error) {
	var meta any
	if patch.Metadata != nil {
		meta = patch.Metadata
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE photos SET
			metadata = COALESCE($2::jsonb, metadata),
			tags = ARRAY(SELECT DISTINCT t FROM unnest(photos.tags || $3::text[]) AS t ORDER BY t),
			preview_key = COALESCE($4::text, preview_key),
			original_key = COALESCE($5::text, original_key),
			processed_digest = COALESCE(NULLIF($6::text, ''), processed_digest),
			state = CASE
				WHEN $7::text = '' OR COALESCE($4::text, preview_key) IS NULL THEN state
				ELSE $7::text END,
			last_error = CASE
				WHEN $7::text = 'processed' AND COALESCE($4::text, preview_key) IS NOT NULL THEN ''
				ELSE last_error END,
			updated_at = $8
		WHERE id = $1`,
		id, meta, dedupTags(patch.AddTags), patch.PreviewKey, patch.OriginalKey,
		patch.ProcessedDigest, string(patch.State), patchTime(patch.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("patch photo: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) AddTags(ctx context.Context, id uuid.UUID, tags []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE photos SET
			tags = ARRAY(SELECT DISTINCT t FROM unnest(photos.tags || $2::text[]) AS t ORDER BY t),
			updated_at = now()
		WHERE id = $1`, id, dedupTags(tags))
	if err != nil {
		return 0, fmt.Errorf("add tags: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkFailed records why a photo could not be processed. Processed photos
// are left alone.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photos SET last_error = $2, updated_at = now() WHERE id = $1 AND state <> 'processed'`,
		id, reason)
	if err != nil {
		return 0, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Photo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE state = 'pending' AND uploaded_at < $1
		 ORDER BY uploaded_at LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		var p models.Photo
		if err := rows.Scan(&p.ID, &p.SourceKey, &p.SourceDigest, &p.OriginalKey, &p.PreviewKey, &p.State,
			&p.Metadata, &p.Tags, &p.ProcessedDigest, &p.LastError, &p.UploadedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func patchTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
