// Package vision provides optional content-based taggers backed by an
// image classification model.
package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/your-org/photoproc/internal/config"
)

// Nucleus selection parameters for classifier output.
const (
	TopP          = 0.90
	MaxTags       = 10
	MinConfidence = 0.02
)

// Input carries both forms of a photo so each backend can use the one it
// needs.
type Input struct {
	Image    image.Image
	Data     []byte
	Filename string
}

// Tagger returns content tags for a photo. Implementations must be safe
// for concurrent use.
type Tagger interface {
	Tags(ctx context.Context, in Input) ([]string, error)
	Close()
}

// New builds the tagger selected by cfg.Kind. Model-backed taggers are
// loaded on first use.
func New(cfg config.ClassifierConfig) Tagger {
	switch cfg.Kind {
	case "onnx":
		return NewLazy("onnx", func() (Tagger, error) { return NewClassifier(cfg) })
	case "http":
		return NewAutotagger(cfg.URL, cfg.Timeout, cfg.MinConfidence)
	default:
		return Noop{}
	}
}

// Noop never produces tags.
type Noop struct{}

func (Noop) Tags(context.Context, Input) ([]string, error) { return nil, nil }
func (Noop) Close()                                        {}

// Lazy defers construction of an expensive tagger until the first call and
// shares the result across goroutines. A failed load is remembered.
type Lazy struct {
	name string
	load func() (Tagger, error)

	once   sync.Once
	tagger Tagger
	err    error
}

func NewLazy(name string, load func() (Tagger, error)) *Lazy {
	return &Lazy{name: name, load: load}
}

func (l *Lazy) Tags(ctx context.Context, in Input) ([]string, error) {
	l.once.Do(func() {
		slog.Info("loading classifier", "kind", l.name)
		l.tagger, l.err = l.load()
		if l.err != nil {
			slog.Error("load classifier", "kind", l.name, "error", l.err)
		}
	})
	if l.err != nil {
		return nil, fmt.Errorf("classifier %s unavailable: %w", l.name, l.err)
	}
	return l.tagger.Tags(ctx, in)
}

func (l *Lazy) Close() {
	if l.err == nil && l.tagger != nil {
		l.tagger.Close()
	}
}

// SelectTopP picks labels from a probability vector: sort descending, keep
// the smallest prefix whose cumulative mass exceeds topP (capped at
// maxTags), then drop entries below minConf.
func SelectTopP(probs []float32, labels []string, topP float64, maxTags int, minConf float64) []string {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	k := len(idx)
	var cum float64
	for i, j := range idx {
		cum += float64(probs[j])
		if cum > topP {
			k = i + 1
			break
		}
	}
	k = min(k, maxTags)

	var tags []string
	for _, j := range idx[:k] {
		if float64(probs[j]) < minConf {
			continue
		}
		tags = append(tags, labelFor(labels, j))
	}
	return tags
}

func labelFor(labels []string, i int) string {
	if i < len(labels) {
		return strings.ReplaceAll(labels[i], "_", " ")
	}
	return fmt.Sprintf("class %d", i)
}
