// Package embedding turns text into fixed-dimension vectors. The backing
// model is expensive to initialize and cheap to reuse, so providers are
// built once at startup and shared; the Lazy wrapper makes initialization
// idempotent under concurrent first use.
package embedding

import (
	"context"
	"sync"

	"github.com/engramhq/engram/pkg/memory"
)

// Provider generates vector embeddings. Dimension is fixed for the lifetime
// of one provider instance.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Factory constructs the underlying provider on first use.
type Factory func() (Provider, error)

// Lazy defers provider construction until the first call, and guarantees it
// happens exactly once even when pre-warming races a real request. There is
// no package-level singleton; the owner constructs one Lazy and passes it
// to whoever needs it.
type Lazy struct {
	factory   Factory
	dimension int

	once     sync.Once
	provider Provider
	initErr  error
}

// NewLazy wraps a factory. The dimension must be known up front so the
// index schema can be created before the model is loaded.
func NewLazy(dimension int, factory Factory) *Lazy {
	return &Lazy{factory: factory, dimension: dimension}
}

// Prewarm eagerly initializes the provider so later latency-sensitive calls
// never pay the startup cost. Safe to call concurrently with real use.
func (l *Lazy) Prewarm(ctx context.Context) error {
	_, err := l.get()
	return err
}

func (l *Lazy) get() (Provider, error) {
	l.once.Do(func() {
		l.provider, l.initErr = l.factory()
	})
	if l.initErr != nil {
		return nil, memory.NewEmbeddingError("embedding.init",
			"check API credentials, disk space, and the model cache directory", l.initErr)
	}
	return l.provider, nil
}

// Embed implements Provider.
func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, text)
}

// EmbedBatch implements Provider.
func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.EmbedBatch(ctx, texts)
}

// Dimension implements Provider.
func (l *Lazy) Dimension() int { return l.dimension }
