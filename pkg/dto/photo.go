package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/models"
)

type PhotoResponse struct {
	ID          uuid.UUID         `json:"id"`
	State       string            `json:"state"`
	Metadata    map[string]string `json:"metadata"`
	Tags        []string          `json:"tags"`
	OriginalURL string            `json:"original_url"`
	PreviewURL  string            `json:"preview_url,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	UploadedAt  string            `json:"uploaded_at"`
	UpdatedAt   string            `json:"updated_at"`
}

func NewPhotoResponse(p *models.Photo) PhotoResponse {
	resp := PhotoResponse{
		ID:          p.ID,
		State:       string(p.State),
		Metadata:    p.Metadata,
		Tags:        p.Tags,
		OriginalURL: "/v1/photos/" + p.ID.String() + "/original",
		LastError:   p.LastError,
		UploadedAt:  p.UploadedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]string{}
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if p.PreviewKey != nil {
		resp.PreviewURL = "/v1/photos/" + p.ID.String() + "/preview"
	}
	return resp
}

type AddTagsRequest struct {
	Tags []string `json:"tags" binding:"required,min=1"`
}

// OpsEvent is pushed to ops WebSocket clients.
type OpsEvent struct {
	Type     string    `json:"type"`
	PhotoID  uuid.UUID `json:"photo_id"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       string    `json:"at"`
}
