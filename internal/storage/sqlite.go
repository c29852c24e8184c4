package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/your-org/photoproc/internal/models"
)

// SQLiteStore is a single-node record store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open failed for %s: %w", path, err)
	}
	// One shared connection serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s failed for %s: %w", pragma, path, err)
		}
	}

	if err := Migrate(db, "sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreatePhoto(ctx context.Context, p *models.Photo, hooks ...PostCommitHook) error {
	meta, tags, err := encodeJSONColumns(p.Metadata, p.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create photo: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO photos (`+photoColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.SourceKey, p.SourceDigest, p.OriginalKey, p.PreviewKey, string(p.State),
		meta, tags, p.ProcessedDigest, p.LastError, p.UploadedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit photo: %w", err)
	}
	return runHooks(ctx, p, hooks)
}

func (s *SQLiteStore) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id.String())
	p, err := scanSQLitePhoto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// tagUnionSQL replaces the stored tag array with its sorted union with the
// JSON array bound at ?3.
const tagUnionSQL = `(SELECT json_group_array(value) FROM (
		SELECT value FROM json_each(photos.tags)
		UNION
		SELECT value FROM json_each(?3)
		ORDER BY value))`

func (s *SQLiteStore) PatchPhoto(ctx context.Context, id uuid.UUID, patch models.PhotoPatch) (int64, error) {
	var meta any
	if patch.Metadata != nil {
		b, err := json.Marshal(patch.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}
	add, err := json.Marshal(dedupTags(patch.AddTags))
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE photos SET
			metadata = COALESCE(?2, metadata),
			tags = `+tagUnionSQL+`,
			preview_key = COALESCE(?4, preview_key),
			original_key = COALESCE(?5, original_key),
			processed_digest = COALESCE(NULLIF(?6, ''), processed_digest),
			state = CASE
				WHEN ?7 = '' OR COALESCE(?4, preview_key) IS NULL THEN state
				ELSE ?7 END,
			last_error = CASE
				WHEN ?7 = 'processed' AND COALESCE(?4, preview_key) IS NOT NULL THEN ''
				ELSE last_error END,
			updated_at = ?8
		WHERE id = ?1`,
		id.String(), meta, string(add), patch.PreviewKey, patch.OriginalKey,
		patch.ProcessedDigest, string(patch.State), patchTime(patch.UpdatedAt).UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("patch photo: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) AddTags(ctx context.Context, id uuid.UUID, tags []string) (int64, error) {
	add, err := json.Marshal(dedupTags(tags))
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE photos SET tags = `+tagUnionSQL+`, updated_at = ?2 WHERE id = ?1`,
		id.String(), time.Now().UTC(), string(add))
	if err != nil {
		return 0, fmt.Errorf("add tags: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE photos SET last_error = ?, updated_at = ? WHERE id = ? AND state <> 'processed'`,
		reason, time.Now().UTC(), id.String())
	if err != nil {
		return 0, fmt.Errorf("mark failed: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Photo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE state = 'pending' AND uploaded_at < ?
		 ORDER BY uploaded_at LIMIT ?`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		p, err := scanSQLitePhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *p)
	}
	return photos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePhoto(row rowScanner) (*models.Photo, error) {
	var (
		p          models.Photo
		id         string
		state      string
		meta, tags string
	)
	if err := row.Scan(&id, &p.SourceKey, &p.SourceDigest, &p.OriginalKey, &p.PreviewKey, &state,
		&meta, &tags, &p.ProcessedDigest, &p.LastError, &p.UploadedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	p.State = models.PhotoState(state)
	if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &p, nil
}

func encodeJSONColumns(meta map[string]string, tags []string) (string, string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	if tags == nil {
		tags = []string{}
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	return string(m), string(t), nil
}
