package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/logger"
	"github.com/engramhq/engram/pkg/capture"
	"github.com/engramhq/engram/pkg/embedding"
	"github.com/engramhq/engram/pkg/gitlog"
	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/recall"
	"github.com/engramhq/engram/pkg/reconcile"
	"github.com/engramhq/engram/pkg/searchopt"
)

// app owns the wired service graph for one command invocation. Services are
// constructed explicitly here and passed down; there are no hidden
// singletons beyond the process logger.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	log       *gitlog.Store
	idx       *index.Store
	embedder  *embedding.Lazy
	capture   *capture.Service
	reconcile *reconcile.Service
	recall    *recall.Service
	optimizer *searchopt.Optimizer

	closers []func() error
}

// newApp loads config and wires every service.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	zl, closeLog, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: zl}
	a.closers = append(a.closers, closeLog)

	a.log, err = gitlog.NewStore(gitlog.Config{
		RepoPath: cfg.RepoPath,
		Timeout:  cfg.GitTimeout(),
		Logger:   zl.With().Str("component", "gitlog").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.embedder = embedding.NewLazy(cfg.Embedding.Dimension, func() (embedding.Provider, error) {
		switch cfg.Embedding.Provider {
		case "mock":
			return embedding.NewMockProvider(cfg.Embedding.Dimension), nil
		default:
			return embedding.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model), nil
		}
	})

	a.idx, err = index.NewStore(index.Config{
		Path:      cfg.IndexPath,
		Dimension: cfg.Embedding.Dimension,
		Logger:    zl.With().Str("component", "index").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.idx.Close)

	lock := capture.NewLock(cfg.LockPath(), cfg.LockTimeout(), zl)
	a.capture, err = capture.NewService(capture.Config{
		Log:             a.log,
		Index:           a.idx,
		Embedder:        a.embedder,
		Lock:            lock,
		MaxContentBytes: cfg.MaxContentBytes,
		Logger:          zl.With().Str("component", "capture").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.reconcile, err = reconcile.NewService(reconcile.Config{
		Log:      a.log,
		Index:    a.idx,
		Embedder: a.embedder,
		Logger:   zl.With().Str("component", "reconcile").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.recall, err = recall.NewService(recall.Config{
		Log:      a.log,
		Index:    a.idx,
		Embedder: a.embedder,
		Logger:   zl.With().Str("component", "recall").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	weights := searchopt.RerankWeights{
		Recency:    cfg.Search.RecencyWeight,
		Namespace:  cfg.Search.NamespaceWeight,
		SpecMatch:  cfg.Search.SpecMatchWeight,
		TagOverlap: cfg.Search.TagOverlapWeight,
		HalfLife:   cfg.HalfLife(),
	}
	a.optimizer = searchopt.New(searchopt.Config{
		Recall:    a.recall,
		Embedder:  a.embedder,
		CacheSize: cfg.Search.CacheSize,
		CacheTTL:  cfg.CacheTTL(),
		Weights:   &weights,
		Logger:    zl.With().Str("component", "searchopt").Logger(),
	})

	return a, nil
}

// Close releases everything the app holds, last-constructed first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Println("close error:", err)
		}
	}
}
