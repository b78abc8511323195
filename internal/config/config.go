// Package config loads the recognized options of the RAG pipeline from YAML
// into concrete structs. Unknown top-level keys are ignored with a warning,
// never a fatal error.
package config

import "time"

// ServerTransport is the wire transport a tool adapter is reached over.
type ServerTransport string

const (
	TransportStdio   ServerTransport = "stdio"
	TransportHTTPSSE ServerTransport = "http_sse"
)

// MCPServer describes one tool adapter endpoint.
type MCPServer struct {
	Name        string            `yaml:"name"`
	Transport   ServerTransport   `yaml:"transport"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	AuthHeaders map[string]string `yaml:"auth_headers,omitempty"`
}

// TenantConfig describes the tools a tenant (and its users) may invoke.
type TenantConfig struct {
	AllowedTools []string                `yaml:"allowed_tools"`
	Users        map[string]UserConfig   `yaml:"users,omitempty"`
}

// UserConfig narrows a tenant's allow-list for one user.
type UserConfig struct {
	AllowedTools []string `yaml:"allowed_tools"`
}

// MCPConfig is the §6 `mcp.*` configuration surface.
type MCPConfig struct {
	Servers []MCPServer             `yaml:"servers"`
	Tenants map[string]TenantConfig `yaml:"tenants"`
}

// IngestionConfig is the §6 `ingestion.*` configuration surface.
type IngestionConfig struct {
	MaxRetries    int     `yaml:"max_retries"`
	RetryDelay    float64 `yaml:"retry_delay"`
	RetryBackoff  float64 `yaml:"retry_backoff"`
	RetryJitter   float64 `yaml:"retry_jitter"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// ChunkingConfig is the §6 `chunking.*` configuration surface.
type ChunkingConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	ChunkSizes   []int   `yaml:"chunk_sizes,omitempty"`
	OverlapRatio float64 `yaml:"overlap_ratio,omitempty"`
}

// EmbeddingConfig stamps chunks with model identity.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Version   string `yaml:"version"`
	BatchSize int    `yaml:"batch_size"`
}

// RetrievalConfig is the §6 `retrieval.*` configuration surface.
type RetrievalConfig struct {
	RRFK         int     `yaml:"rrf_k"`
	VectorWeight float64 `yaml:"vector_weight"`
	BM25Weight   float64 `yaml:"bm25_weight"`
	TopK         int     `yaml:"top_k"`
}

// RerankerConfig is the §6 `reranker.*` configuration surface.
type RerankerConfig struct {
	ModelName       string        `yaml:"model_name"`
	BatchSize       int           `yaml:"batch_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	EntityWeight    float64       `yaml:"entity_weight"`
	QualityThresh   float64       `yaml:"quality_threshold"`
	TopK            int           `yaml:"top_k"`
}

// GroundingConfig is the §6 `grounding.*` configuration surface.
type GroundingConfig struct {
	MinEvidenceScore float64 `yaml:"min_evidence_score"`
}

// StoreBackend picks a concrete implementation for one storage contract.
// Dimensions/Metric apply only to the vector backend; other backends ignore
// them.
type StoreBackend struct {
	Backend    string `yaml:"backend"` // "memory", or a real backend name
	DSN        string `yaml:"dsn,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	Metric     string `yaml:"metric,omitempty"`
}

// StoresConfig is the §6 `stores.*` configuration surface.
type StoresConfig struct {
	Vector     StoreBackend `yaml:"vector"`
	Text       StoreBackend `yaml:"text"`
	Graph      StoreBackend `yaml:"graph"`
	Cache      StoreBackend `yaml:"cache"`
	Checkpoint StoreBackend `yaml:"checkpoint"`
	Queue      StoreBackend `yaml:"queue"`
}

// Config is the full recognized configuration surface of the pipeline.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogPath   string          `yaml:"log_path,omitempty"`
	MCP       MCPConfig       `yaml:"mcp"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Grounding GroundingConfig `yaml:"grounding"`
	Stores    StoresConfig    `yaml:"stores"`
}

// Defaults returns the spec's documented defaults. Load applies these before
// a YAML document overrides them, so a config file only needs to set what it
// wants to change.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Ingestion: IngestionConfig{
			MaxRetries:    3,
			RetryDelay:    1.0,
			RetryBackoff:  2.0,
			RetryJitter:   0.10,
			MaxConcurrent: 5,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 64,
		},
		Embedding: EmbeddingConfig{
			BatchSize: 16,
			Version:   "v1",
		},
		Retrieval: RetrievalConfig{
			RRFK:         60,
			VectorWeight: 0.5,
			BM25Weight:   0.5,
			TopK:         50,
		},
		Reranker: RerankerConfig{
			BatchSize:     16,
			CacheTTL:      3600 * time.Second,
			RecencyWeight: 0.1,
			EntityWeight:  0.2,
			TopK:          5,
		},
		Grounding: GroundingConfig{
			MinEvidenceScore: 0.7,
		},
		Stores: StoresConfig{
			Vector:     StoreBackend{Backend: "memory"},
			Text:       StoreBackend{Backend: "memory"},
			Graph:      StoreBackend{Backend: "memory"},
			Cache:      StoreBackend{Backend: "memory"},
			Checkpoint: StoreBackend{Backend: "memory"},
			Queue:      StoreBackend{Backend: "memory"},
		},
	}
}
