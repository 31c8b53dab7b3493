// Package config loads and validates Schemadex configuration.
// Configuration is layered: hardcoded defaults, then .schemadex.yaml in the
// documentation root, then SCHEMADEX_* environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version this binary understands.
const CurrentVersion = 1

// Config represents the complete Schemadex configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Budget     BudgetConfig     `yaml:"budget"`
	LogLevel   string           `yaml:"log_level"`
}

// PathsConfig locates the documentation root and the index directory.
type PathsConfig struct {
	// DocsDir is the root directory of generated documentation files.
	DocsDir string `yaml:"docs_dir"`
	// IndexDir is where the index store lives (default: <docs_dir>/.index).
	IndexDir string `yaml:"index_dir"`
}

// SearchConfig configures hybrid search and rank fusion.
// The reference constants here are defaults, not tuned values.
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter k (default: 60,
	// the value used by Azure AI Search and OpenSearch).
	RRFConstant int `yaml:"rrf_constant"`

	// TableWeight, RelationshipWeight, ColumnWeight multiply fused scores
	// per document type. A whole-table match is usually more useful than a
	// single-column match at equal textual relevance.
	TableWeight        float64 `yaml:"table_weight"`
	RelationshipWeight float64 `yaml:"relationship_weight"`
	ColumnWeight       float64 `yaml:"column_weight"`

	// BM25Backend selects the keyword index backend: "sqlite" (FTS5,
	// default) or "bleve".
	BM25Backend string `yaml:"bm25_backend"`

	// MaxResults is the maximum allowed result limit (default: 50).
	MaxResults int `yaml:"max_results"`

	// SearchTimeout bounds a single query (default: 5s).
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static" (deterministic offline vectors).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimensions 0 means auto-detect from the provider.
	Dimensions int    `yaml:"dimensions"`
	Host       string `yaml:"host"`

	// BatchSize is texts per provider call (default: 50).
	BatchSize int `yaml:"batch_size"`

	// CharsPerToken is the conservative token estimation ratio (default: 4).
	CharsPerToken int `yaml:"chars_per_token"`

	// ContextLimitTokens is the provider's hard input limit; longer texts
	// are split at sentence boundaries and mean-pooled (default: 2048).
	ContextLimitTokens int `yaml:"context_limit_tokens"`

	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// CacheSize is the query-embedding LRU cache size (default: 1000).
	CacheSize int `yaml:"cache_size"`
}

// IndexingConfig configures the incremental build pipeline.
type IndexingConfig struct {
	// CheckpointInterval is documents between checkpoint flushes
	// (default: 100).
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// WorkUnitWorkers bounds concurrent work units (default: 3). The bound
	// caps concurrent calls to the embedding provider, not correctness.
	WorkUnitWorkers int `yaml:"work_unit_workers"`

	// ColumnWorkers bounds concurrent column-level parsing tasks
	// within one work unit (default: 5).
	ColumnWorkers int `yaml:"column_workers"`
}

// BudgetConfig configures context-budget compression tiers.
type BudgetConfig struct {
	NarrowTokens   int `yaml:"narrow_tokens"`
	StandardTokens int `yaml:"standard_tokens"`
	WideTokens     int `yaml:"wide_tokens"`

	// WideTriggers are query words implying breadth; their presence selects
	// the wide tier.
	WideTriggers []string `yaml:"wide_triggers"`
}

// defaultWideTriggers select the wide budget tier.
var defaultWideTriggers = []string{"compare", "across", "all", "every", "list", "versus", "between"}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Paths:   PathsConfig{},
		Search: SearchConfig{
			RRFConstant:        60,
			TableWeight:        1.5,
			RelationshipWeight: 1.2,
			ColumnWeight:       1.0,
			BM25Backend:        "sqlite",
			MaxResults:         50,
			SearchTimeout:      5 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:           "ollama",
			Model:              "nomic-embed-text",
			Dimensions:         0,
			Host:               "",
			BatchSize:          50,
			CharsPerToken:      4,
			ContextLimitTokens: 2048,
			MaxRetries:         3,
			InitialBackoff:     time.Second,
			RequestTimeout:     60 * time.Second,
			CacheSize:          1000,
		},
		Indexing: IndexingConfig{
			CheckpointInterval: 100,
			WorkUnitWorkers:    3,
			ColumnWorkers:      5,
		},
		Budget: BudgetConfig{
			NarrowTokens:   2000,
			StandardTokens: 4000,
			WideTokens:     8000,
			WideTriggers:   defaultWideTriggers,
		},
		LogLevel: "info",
	}
}

// Load loads configuration for the given documentation root, applying in
// order of increasing precedence: defaults, .schemadex.yaml, SCHEMADEX_*
// environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.Paths.DocsDir = dir

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if cfg.Paths.IndexDir == "" {
		cfg.Paths.IndexDir = filepath.Join(cfg.Paths.DocsDir, ".index")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load .schemadex.yaml or .schemadex.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".schemadex.yaml", ".schemadex.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine - use defaults.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if parsed.Version != 0 && parsed.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d in %s (expected %d)", parsed.Version, path, CurrentVersion)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Paths.DocsDir != "" {
		c.Paths.DocsDir = other.Paths.DocsDir
	}
	if other.Paths.IndexDir != "" {
		c.Paths.IndexDir = other.Paths.IndexDir
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.TableWeight != 0 {
		c.Search.TableWeight = other.Search.TableWeight
	}
	if other.Search.RelationshipWeight != 0 {
		c.Search.RelationshipWeight = other.Search.RelationshipWeight
	}
	if other.Search.ColumnWeight != 0 {
		c.Search.ColumnWeight = other.Search.ColumnWeight
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.SearchTimeout != 0 {
		c.Search.SearchTimeout = other.Search.SearchTimeout
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.Host != "" {
		c.Embeddings.Host = other.Embeddings.Host
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CharsPerToken != 0 {
		c.Embeddings.CharsPerToken = other.Embeddings.CharsPerToken
	}
	if other.Embeddings.ContextLimitTokens != 0 {
		c.Embeddings.ContextLimitTokens = other.Embeddings.ContextLimitTokens
	}
	if other.Embeddings.MaxRetries != 0 {
		c.Embeddings.MaxRetries = other.Embeddings.MaxRetries
	}
	if other.Embeddings.InitialBackoff != 0 {
		c.Embeddings.InitialBackoff = other.Embeddings.InitialBackoff
	}
	if other.Embeddings.RequestTimeout != 0 {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Indexing.CheckpointInterval != 0 {
		c.Indexing.CheckpointInterval = other.Indexing.CheckpointInterval
	}
	if other.Indexing.WorkUnitWorkers != 0 {
		c.Indexing.WorkUnitWorkers = other.Indexing.WorkUnitWorkers
	}
	if other.Indexing.ColumnWorkers != 0 {
		c.Indexing.ColumnWorkers = other.Indexing.ColumnWorkers
	}

	if other.Budget.NarrowTokens != 0 {
		c.Budget.NarrowTokens = other.Budget.NarrowTokens
	}
	if other.Budget.StandardTokens != 0 {
		c.Budget.StandardTokens = other.Budget.StandardTokens
	}
	if other.Budget.WideTokens != 0 {
		c.Budget.WideTokens = other.Budget.WideTokens
	}
	if len(other.Budget.WideTriggers) > 0 {
		c.Budget.WideTriggers = other.Budget.WideTriggers
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies SCHEMADEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCHEMADEX_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("SCHEMADEX_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
	if v := os.Getenv("SCHEMADEX_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("SCHEMADEX_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("SCHEMADEX_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("SCHEMADEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SCHEMADEX_INDEX_DIR"); v != "" {
		c.Paths.IndexDir = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	for name, w := range map[string]float64{
		"table_weight":        c.Search.TableWeight,
		"relationship_weight": c.Search.RelationshipWeight,
		"column_weight":       c.Search.ColumnWeight,
	} {
		if w <= 0 || math.IsNaN(w) {
			return fmt.Errorf("search.%s must be positive, got %f", name, w)
		}
	}

	switch strings.ToLower(c.Search.BM25Backend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Search.BM25Backend)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}

	if c.Embeddings.CharsPerToken < 1 {
		return fmt.Errorf("embeddings.chars_per_token must be at least 1, got %d", c.Embeddings.CharsPerToken)
	}
	if c.Embeddings.BatchSize < 1 {
		return fmt.Errorf("embeddings.batch_size must be at least 1, got %d", c.Embeddings.BatchSize)
	}
	if c.Indexing.CheckpointInterval < 1 {
		return fmt.Errorf("indexing.checkpoint_interval must be at least 1, got %d", c.Indexing.CheckpointInterval)
	}
	if c.Indexing.WorkUnitWorkers < 1 || c.Indexing.ColumnWorkers < 1 {
		return fmt.Errorf("indexing worker counts must be at least 1")
	}

	if !(c.Budget.NarrowTokens > 0 && c.Budget.StandardTokens >= c.Budget.NarrowTokens && c.Budget.WideTokens >= c.Budget.StandardTokens) {
		return fmt.Errorf("budget tiers must satisfy 0 < narrow <= standard <= wide")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
