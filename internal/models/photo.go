package models

import (
	"time"

	"github.com/google/uuid"
)

type PhotoState string

const (
	PhotoStatePending   PhotoState = "pending"
	PhotoStateProcessed PhotoState = "processed"
)

// AssetKind selects the key prefix a binary asset is stored under.
type AssetKind string

const (
	AssetKindSource      AssetKind = "originals"
	AssetKindPreview     AssetKind = "previews"
	AssetKindWatermarked AssetKind = "watermarked"
)

// Photo is the persisted record for one uploaded photograph.
//
// SourceKey points at the bytes exactly as uploaded and is never rewritten.
// OriginalKey is what readers are served: it equals SourceKey until a job
// commits and then points at the watermarked copy.
type Photo struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	SourceKey       string            `json:"source_key" db:"source_key"`
	SourceDigest    string            `json:"source_digest" db:"source_digest"`
	OriginalKey     string            `json:"original_key" db:"original_key"`
	PreviewKey      *string           `json:"preview_key,omitempty" db:"preview_key"`
	State           PhotoState        `json:"state" db:"state"`
	Metadata        map[string]string `json:"metadata" db:"metadata"`
	Tags            []string          `json:"tags" db:"tags"`
	ProcessedDigest string            `json:"processed_digest" db:"processed_digest"`
	LastError       string            `json:"last_error,omitempty" db:"last_error"`
	UploadedAt      time.Time         `json:"uploaded_at" db:"uploaded_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// AlreadyProcessed reports whether the record reflects its current source
// bytes and can be skipped by a duplicate delivery.
func (p *Photo) AlreadyProcessed() bool {
	return p.State == PhotoStateProcessed &&
		p.PreviewKey != nil &&
		p.SourceDigest != "" &&
		p.ProcessedDigest == p.SourceDigest
}

// PhotoPatch is a field-scoped update applied atomically by the store.
// Nil key pointers leave the stored reference untouched; AddTags is unioned
// with the stored tag set rather than replacing it.
type PhotoPatch struct {
	State           PhotoState
	Metadata        map[string]string
	AddTags         []string
	PreviewKey      *string
	OriginalKey     *string
	ProcessedDigest string
	UpdatedAt       time.Time
}
