package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"
)

// Autotagger posts the original to a remote tagging service that answers
// with [{"tags": {"label": confidence}}].
type Autotagger struct {
	url       string
	threshold float64
	client    *http.Client
}

func NewAutotagger(url string, timeout time.Duration, threshold float64) *Autotagger {
	return &Autotagger{
		url:       url,
		threshold: threshold,
		client:    &http.Client{Timeout: timeout},
	}
}

func (a *Autotagger) Tags(ctx context.Context, in Input) ([]string, error) {
	if a.url == "" {
		return nil, fmt.Errorf("autotagger url not configured")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	name := in.Filename
	if name == "" {
		name = "photo.jpg"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, err
	}
	if err := writer.WriteField("format", "json"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build autotagger request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("autotagger request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("autotagger response status=%d", resp.StatusCode)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read autotagger response: %w", err)
	}

	var parsed []struct {
		Tags map[string]float64 `json:"tags"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode autotagger response: %w", err)
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	type scored struct {
		tag  string
		conf float64
	}
	var kept []scored
	for tag, conf := range parsed[0].Tags {
		if conf > a.threshold {
			kept = append(kept, scored{tag, conf})
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].conf != kept[j].conf {
			return kept[i].conf > kept[j].conf
		}
		return kept[i].tag < kept[j].tag
	})
	tags := make([]string, len(kept))
	for i, s := range kept {
		tags[i] = s.tag
	}
	return tags, nil
}

func (a *Autotagger) Close() {}
