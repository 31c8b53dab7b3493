package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schemadex/schemadex/internal/builder"
	"github.com/schemadex/schemadex/internal/config"
	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/search"
	"github.com/schemadex/schemadex/internal/store"
)

// metadataFileName is the SQLite metadata store inside the index directory.
const metadataFileName = "metadata.db"

// loadConfig loads layered configuration rooted at the --docs directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagDocsDir)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

func metadataPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.IndexDir, metadataFileName)
}

func progressPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.IndexDir, builder.ProgressFileName)
}

func vectorPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.IndexDir, builder.VectorIndexFileName)
}

// openBM25 opens the keyword index, preferring the backend an existing
// index was built with over the configured default.
func openBM25(cfg *config.Config) (store.BM25Index, error) {
	base := filepath.Join(cfg.Paths.IndexDir, "bm25")
	backend := string(store.DetectBM25Backend(base))
	if backend == "" {
		backend = cfg.Search.BM25Backend
	}
	return store.NewBM25Index(base, store.DefaultBM25Config(), backend)
}

// newEmbedder builds the configured embedding provider wrapped in the
// query-embedding LRU cache.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "static":
		inner = embed.NewStaticEmbedder(cfg.Embeddings.Dimensions)
	default:
		e, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:       cfg.Embeddings.Host,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			Timeout:    cfg.Embeddings.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	}
	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

// openVectors opens the vector index. dims <= 0 reads the dimension from an
// existing index; if none exists either, there is no vector path and the
// result is nil. An unreadable index is cleared and rebuilt empty rather
// than blocking all search.
func openVectors(cfg *config.Config, dims int) (store.VectorStore, error) {
	path := vectorPath(cfg)
	if dims <= 0 {
		stored, err := store.ReadVectorIndexDimensions(path)
		if err != nil {
			return nil, err
		}
		if stored == 0 {
			return nil, nil
		}
		dims = stored
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if err := vectors.Load(path); err != nil {
			slog.Warn("vector_index_unreadable",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return vectors, nil
}

func generatorConfig(cfg *config.Config) embed.GeneratorConfig {
	gen := embed.DefaultGeneratorConfig()
	gen.BatchSize = cfg.Embeddings.BatchSize
	gen.CharsPerToken = cfg.Embeddings.CharsPerToken
	gen.ContextLimitTokens = cfg.Embeddings.ContextLimitTokens
	gen.Retry.MaxRetries = cfg.Embeddings.MaxRetries
	if cfg.Embeddings.InitialBackoff > 0 {
		gen.Retry.InitialDelay = cfg.Embeddings.InitialBackoff
	}
	return gen
}

func builderConfig(cfg *config.Config) builder.Config {
	return builder.Config{
		DocsDir:            cfg.Paths.DocsDir,
		IndexDir:           cfg.Paths.IndexDir,
		CheckpointInterval: cfg.Indexing.CheckpointInterval,
		WorkUnitWorkers:    cfg.Indexing.WorkUnitWorkers,
		ColumnWorkers:      cfg.Indexing.ColumnWorkers,
	}
}

func engineConfig(cfg *config.Config) search.EngineConfig {
	ec := search.DefaultEngineConfig()
	ec.RRFConstant = cfg.Search.RRFConstant
	ec.MaxLimit = cfg.Search.MaxResults
	ec.TypeWeights = search.TypeWeights{
		docmodel.DocTypeTable:        cfg.Search.TableWeight,
		docmodel.DocTypeRelationship: cfg.Search.RelationshipWeight,
		docmodel.DocTypeColumn:       cfg.Search.ColumnWeight,
		docmodel.DocTypeDomain:       cfg.Search.ColumnWeight,
		docmodel.DocTypeOverview:     cfg.Search.ColumnWeight,
	}
	ec.Budget = search.BudgetConfig{
		NarrowTokens:   cfg.Budget.NarrowTokens,
		StandardTokens: cfg.Budget.StandardTokens,
		WideTokens:     cfg.Budget.WideTokens,
		WideTriggers:   cfg.Budget.WideTriggers,
		CharsPerToken:  cfg.Embeddings.CharsPerToken,
	}
	return ec
}

// indexExists reports whether a metadata store is present on disk.
func indexExists(cfg *config.Config) bool {
	_, err := os.Stat(metadataPath(cfg))
	return err == nil
}

// requireIndex fails with a hint when no index has been built yet.
func requireIndex(cfg *config.Config) error {
	if !indexExists(cfg) {
		return fmt.Errorf("no index found in %s (run 'schemadex index' first)", cfg.Paths.IndexDir)
	}
	return nil
}
