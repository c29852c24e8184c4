package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/models"
	"github.com/your-org/photoproc/internal/queue"
	"github.com/your-org/photoproc/internal/storage"
	"github.com/your-org/photoproc/pkg/dto"
)

var allowedExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tif",
}

// detectContentType extends http.DetectContentType, which has no TIFF
// signature, with both TIFF byte orders.
func detectContentType(data []byte) string {
	if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
		return "image/tiff"
	}
	return http.DetectContentType(data)
}

type PhotoHandler struct {
	records   storage.RecordStore
	assets    storage.AssetStore
	producer  queue.Producer
	maxUpload int64
}

func NewPhotoHandler(records storage.RecordStore, assets storage.AssetStore, producer queue.Producer, maxUpload int64) *PhotoHandler {
	return &PhotoHandler{records: records, assets: assets, producer: producer, maxUpload: maxUpload}
}

// Upload stores the raw bytes, creates a pending record and enqueues a
// processing job once the record is committed.
func (h *PhotoHandler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		if c.Request.ContentLength > h.maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty image"})
		return
	}

	contentType := detectContentType(data)
	ext, ok := allowedExt[contentType]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type " + contentType})
		return
	}
	if e := strings.ToLower(filepath.Ext(header.Filename)); e == ".jpeg" || e == ".jpg" {
		ext = ".jpg"
	}

	id := uuid.New()
	sum := sha256.Sum256(data)
	key := storage.AssetKey(models.AssetKindSource, id.String()+ext)

	ctx := c.Request.Context()
	if err := h.assets.PutObject(ctx, key, data, contentType); err != nil {
		slog.Error("store uploaded photo", "photo_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	now := time.Now().UTC()
	photo := &models.Photo{
		ID:           id,
		SourceKey:    key,
		SourceDigest: hex.EncodeToString(sum[:]),
		OriginalKey:  key,
		State:        models.PhotoStatePending,
		Metadata:     map[string]string{},
		Tags:         []string{},
		UploadedAt:   now,
		UpdatedAt:    now,
	}

	err = h.records.CreatePhoto(ctx, photo, h.enqueue)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPostCommit):
		// The record exists; the reprocess sweep picks it up later.
		slog.Warn("photo stored but job not enqueued", "photo_id", id, "error", err)
	default:
		slog.Error("create photo record", "photo_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create photo"})
		return
	}

	slog.Info("photo uploaded", "photo_id", id, "bytes", len(data), "content_type", contentType)
	c.JSON(http.StatusAccepted, dto.NewPhotoResponse(photo))
}

func (h *PhotoHandler) enqueue(ctx context.Context, p *models.Photo) error {
	return h.producer.Enqueue(ctx, p.ID)
}

func (h *PhotoHandler) Get(c *gin.Context) {
	photo, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewPhotoResponse(photo))
}

// Preview serves the JPEG thumbnail once it has been rendered.
func (h *PhotoHandler) Preview(c *gin.Context) {
	photo, ok := h.lookup(c)
	if !ok {
		return
	}
	if photo.PreviewKey == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not ready"})
		return
	}
	h.serveAsset(c, *photo.PreviewKey)
}

// Original serves the watermarked copy once processed, the upload before.
func (h *PhotoHandler) Original(c *gin.Context) {
	photo, ok := h.lookup(c)
	if !ok {
		return
	}
	h.serveAsset(c, photo.OriginalKey)
}

func (h *PhotoHandler) AddTags(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	var req dto.AddTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no tags given"})
		return
	}

	ctx := c.Request.Context()
	n, err := h.records.AddTags(ctx, id, tags)
	if err != nil {
		slog.Error("add tags", "photo_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add tags"})
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	photo, err := h.records.GetPhoto(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load photo"})
		return
	}
	c.JSON(http.StatusOK, dto.NewPhotoResponse(photo))
}

func (h *PhotoHandler) lookup(c *gin.Context) (*models.Photo, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return nil, false
	}
	photo, err := h.records.GetPhoto(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("get photo", "photo_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load photo"})
		return nil, false
	}
	return photo, true
}

func (h *PhotoHandler) serveAsset(c *gin.Context, key string) {
	data, err := h.assets.GetObject(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	if err != nil {
		slog.Error("read asset", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read asset"})
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, detectContentType(data), data)
}
