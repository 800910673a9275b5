package config

const (
	ContextFileEnvVar         = "GCDRSYNC_CONTEXTS_FILE"
	DefaultContextCatalogPath = "~/.gcdr-sync/contexts.yaml"

	DefaultFetchConcurrency = 5
)

// Catalog is the persisted set of named sync contexts.
type Catalog struct {
	Contexts   []Context `yaml:"contexts"`
	CurrentCtx string    `yaml:"current-ctx,omitempty"`
}

// Context pairs one source platform with one downstream registry.
type Context struct {
	Name   string         `yaml:"name"`
	Source SourcePlatform `yaml:"source"`
	GCDR   Registry       `yaml:"gcdr"`
	Sync   Sync           `yaml:"sync,omitempty"`
}

// SourcePlatform is the ThingsBoard-style platform that owns the canonical
// Customer/Asset/Device hierarchy.
type SourcePlatform struct {
	BaseURL  string `yaml:"base-url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Registry is the downstream catalog service being kept in sync.
type Registry struct {
	BaseURL  string `yaml:"base-url"`
	APIKey   string `yaml:"api-key"`
	TenantID string `yaml:"tenant-id"`
	// ListJQ optionally overrides list-response envelope extraction with a jq
	// expression, for registries whose list shape the default decoding does
	// not recognize.
	ListJQ string `yaml:"list-jq,omitempty"`
}

type Sync struct {
	// FetchConcurrency bounds the fan-out of source fetches and downstream
	// existence checks during the plan-building phase.
	FetchConcurrency int `yaml:"fetch-concurrency,omitempty"`
	// RequestsPerSecond throttles downstream API calls; zero means no limit.
	RequestsPerSecond float64 `yaml:"requests-per-second,omitempty"`
	// HistoryPath points at the local SQLite run-history database; empty
	// disables history recording.
	HistoryPath string `yaml:"history-path,omitempty"`
}
