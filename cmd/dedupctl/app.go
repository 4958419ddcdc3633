package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"gorm.io/gorm"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/repository"
	"github.com/timmy/storydedup/internal/service"
	"github.com/timmy/storydedup/internal/vectorindex"
)

const (
	backendLocal  = "local"
	backendQdrant = "qdrant"
)

// app holds the collaborators a command needs. Build it with openApp and release it with Close.
type app struct {
	db       *gorm.DB
	records  *repository.DedupRecordRepository
	index    vectorindex.Store
	local    *vectorindex.Index // nil unless the local backend is in use
	qdrant   *repository.QdrantIndex
	embedder service.TextEmbedder
}

type appOptions struct {
	embedder bool
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	db, err := repository.InitDB(&cfg.Database, appLogger)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, records: repository.NewDedupRecordRepository(db)}

	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if opts.embedder {
		a.embedder = openEmbedder()
	}
	return a, nil
}

func (a *app) openIndex(ctx context.Context) error {
	switch cfg.VectorIndex.Backend {
	case backendLocal, "":
		idx := vectorindex.New(cfg.VectorIndex.Dir,
			vectorindex.WithLogger(appLogger),
			vectorindex.WithLockTimeout(cfg.VectorIndex.LockTimeout),
		)
		// Load logs and resets on failure; a missing pair just means a fresh index.
		if err := idx.Load(ctx); err != nil && !errors.Is(err, fs.ErrNotExist) {
			appLogger.WithError(err).Warn("Continuing with an empty vector index")
		}
		a.local = idx
		a.index = idx
	case backendQdrant:
		q, err := repository.NewQdrantIndex(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		}, appLogger)
		if err != nil {
			return fmt.Errorf("failed to initialize Qdrant index: %w", err)
		}
		if err := q.Load(ctx); err != nil {
			_ = q.Close()
			return fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		a.qdrant = q
		a.index = q
	default:
		return &domain.ConfigurationError{Key: "VECTOR_INDEX_BACKEND", Value: cfg.VectorIndex.Backend, Reason: "must be local or qdrant"}
	}
	return nil
}

// openEmbedder returns nil when no embedder is configured; checks then run signature-only.
func openEmbedder() service.TextEmbedder {
	if cfg.Embedding.APIKey == "" {
		appLogger.Warn("No embedding API key configured, semantic checks will be degraded")
		return nil
	}
	svc, err := service.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		appLogger.WithError(err).Warn("Embedding service unavailable, semantic checks will be degraded")
		return nil
	}
	appLogger.WithFields(logger.Fields{
		"provider": cfg.Embedding.Provider,
		"model":    svc.GetModel(),
	}).Debug("Embedding service ready")
	return svc
}

func (a *app) session() (*service.DedupSession, error) {
	return service.NewDedupSessionFromConfig(a.records, a.index, cfg.Dedup, appLogger)
}

func (a *app) Close() {
	if a.qdrant != nil {
		if err := a.qdrant.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to close Qdrant connection")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
