package goreason

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the matter-analysis engine.
type Config struct {
	// StorageBackend selects the MetaStore/SearchIndex implementation:
	// "sqlite" (default, single-node) or "postgres" (multi-node).
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`

	// DBPath is the full path to the SQLite database file, used when
	// StorageBackend is "sqlite". If empty, defaults to
	// ~/.ldip/<DBName>.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. "home" (default) uses ~/.ldip/, "local" uses
	// the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// PostgresDSN configures the Postgres connection, used when
	// StorageBackend is "postgres".
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn"`

	// RedisAddr configures the KV/broker backend (query cache, session
	// memory, job queues, evaluation queue, progress pub/sub).
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`

	// LLM providers
	Chat        LLMConfig `json:"chat" yaml:"chat"`
	Embedding   LLMConfig `json:"embedding" yaml:"embedding"`
	Vision      LLMConfig `json:"vision" yaml:"vision"`
	Translation LLMConfig `json:"translation" yaml:"translation"` // optional; not read by the engine, and no default is applied

	// Retrieval weights for RRF fusion (BM25 + semantic). Not passed to
	// the retrieval engine, which fuses with retrieval.DefaultWeights.
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Ingestion extraction toggles — skip for faster, cheaper ingestion.
	SkipEntityExtraction   bool `json:"skip_entity_extraction" yaml:"skip_entity_extraction"`
	SkipTimelineExtraction bool `json:"skip_timeline_extraction" yaml:"skip_timeline_extraction"`
	ExtractionConcurrency  int  `json:"extraction_concurrency" yaml:"extraction_concurrency"` // max parallel LLM calls per document, default 10

	// Conversational query orchestrator (C11)
	TokenDelay   time.Duration `json:"token_delay" yaml:"token_delay"`     // pacing delay between TOKEN events, default 5ms
	EvalQueue    string        `json:"eval_queue" yaml:"eval_queue"`       // broker queue name for async evaluation enqueue
	RetrieveTopK int           `json:"retrieve_top_k" yaml:"retrieve_top_k"`

	// Image captioning
	CaptionImages bool `json:"caption_images" yaml:"caption_images"` // Opt-in: caption extracted images via vision LLM

	// External parsing
	LlamaParse *LlamaParseConfig `json:"llamaparse,omitempty" yaml:"llamaparse,omitempty"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// LlamaParseConfig configures the LlamaParse external parsing service.
type LlamaParseConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// DefaultConfig returns a Config with sensible defaults for local
// single-node inference: SQLite storage, local Redis, Ollama models.
func DefaultConfig() Config {
	return Config{
		StorageBackend: "sqlite",
		DBName:         "ldip",
		StorageDir:     "home",
		RedisAddr:      "localhost:6379",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:          1.0,
		WeightFTS:             1.0,
		MaxChunkTokens:        1024,
		ChunkOverlap:          128,
		ExtractionConcurrency: 10,
		TokenDelay:            5 * time.Millisecond,
		EvalQueue:             "evaluation",
		RetrieveTopK:          10,
		EmbeddingDim:          768,
	}
}

// resolveDBPath computes the final SQLite database path from config
// fields. Unused when StorageBackend is "postgres".
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "ldip"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".ldip")
		return filepath.Join(dir, name+".db")
	}
}
