// Package config defines the ELF configuration shape and a fail-fast
// loader. There are no code-level defaults for required fields: a missing
// or zero-value required field produces a *ConfigError naming the exact
// YAML path. Optional sections may ship defaults, applied only after the
// required-field walk.
package config

// Config is the root configuration object, loaded from a single YAML file
// passed by path at startup.
type Config struct {
	Service   ServiceConfig      `yaml:"service"`
	Store     StoreConfig        `yaml:"store"`
	Derived   DerivedIndexConfig `yaml:"derived_index"`
	Providers ProvidersConfig    `yaml:"providers"`
	Scopes    ScopesConfig       `yaml:"scopes"`
	Memory    MemoryConfig       `yaml:"memory"`
	Chunking  ChunkingConfig     `yaml:"chunking"`
	Search    SearchConfig       `yaml:"search"`
	Ranking   RankingConfig      `yaml:"ranking"`
	Lifecycle LifecycleConfig    `yaml:"lifecycle"`
	Security  SecurityConfig     `yaml:"security"`
	Cache     CacheConfig        `yaml:"cache"`
}

// ServiceConfig carries process-level binds and logging.
type ServiceConfig struct {
	Bind      string `yaml:"bind"`
	AdminBind string `yaml:"admin_bind"`
	LogLevel  string `yaml:"log_level"`
}

// StoreConfig is the authoritative relational store.
type StoreConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int    `yaml:"max_conns"`
	MinConns    int    `yaml:"min_conns"`
}

// DerivedIndexConfig is the rebuildable vector collection.
type DerivedIndexConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	VectorDim  int    `yaml:"vector_dim"`
	Distance   string `yaml:"distance"` // cosine|dot|euclid
}

// ProvidersConfig groups the three uniform HTTP-style LLM capabilities.
type ProvidersConfig struct {
	Embedding ProviderConfig `yaml:"embedding"`
	Rerank    ProviderConfig `yaml:"rerank"`
	Extractor ProviderConfig `yaml:"extractor"`
}

// ProviderConfig is the uniform shape of an embedding/rerank/extractor
// endpoint: base URL, auth, path, model, timeout, and default headers.
type ProviderConfig struct {
	APIBase        string            `yaml:"api_base"`
	APIKey         string            `yaml:"api_key"`
	Path           string            `yaml:"path"`
	Model          string            `yaml:"model"`
	Dimensions     int               `yaml:"dimensions,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	MaxRetries     int               `yaml:"max_retries"`
}

// ScopesConfig governs read/write visibility.
type ScopesConfig struct {
	Allowed            []string            `yaml:"allowed"`
	ReadProfiles       map[string][]string `yaml:"read_profiles"`
	OrgSentinelProject string              `yaml:"org_sentinel_project"`
	WritableScopes     []string            `yaml:"writable_scopes"`
}

// MemoryConfig holds per-note caps, resolver thresholds, and the stage-2
// policy-decision floors applied by the ingest pipeline.
type MemoryConfig struct {
	MaxNoteChars        int     `yaml:"max_note_chars"`
	DupSimThreshold     float64 `yaml:"dup_sim_threshold"`
	UpdateSimThreshold  float64 `yaml:"update_sim_threshold"`
	MaxNotesPerAddEvent int     `yaml:"max_notes_per_add_event"`
	MinConfidence       float64 `yaml:"min_confidence"`
	MinImportance       float64 `yaml:"min_importance"`
}

// ChunkingConfig governs the chunker.
type ChunkingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	TokenizerID   string `yaml:"tokenizer_id,omitempty"`
}

// SearchConfig governs the search pipeline's optional stages.
type SearchConfig struct {
	Expansion     ExpansionConfig `yaml:"expansion"`
	CandidateK    int             `yaml:"candidate_k"`
	MaxCandidates int             `yaml:"max_candidates"`
	RerankCache   CacheTTLConfig  `yaml:"rerank_cache"`
	ExplainRaw    bool            `yaml:"explain_raw"`
	RRFK          int             `yaml:"rrf_k"`

	// ProjectContexts optionally maps a project id to a short description
	// appended to the dense-embedding input for queries in that project.
	// The lexical (sparse) input is never augmented.
	ProjectContexts map[string]string `yaml:"project_contexts,omitempty"`

	// TraceRetentionDays bounds how long persisted traces live.
	TraceRetentionDays int `yaml:"trace_retention_days"`
}

// ExpansionConfig governs query expansion mode and its cache.
type ExpansionConfig struct {
	Mode            string         `yaml:"mode"` // off|always|dynamic
	MaxQueries      int            `yaml:"max_queries"`
	IncludeOriginal bool           `yaml:"include_original"`
	MinCandidates   int            `yaml:"min_candidates"`
	MinTopScore     float64        `yaml:"min_top_score"`
	Cache           CacheTTLConfig `yaml:"cache"`
}

// CacheTTLConfig is a reusable TTL setting for LLM cache rows.
type CacheTTLConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// RankingConfig governs the additive ranking blend.
type RankingConfig struct {
	RetrievalWeightBands []WeightBand `yaml:"retrieval_weight_bands"`
	RerankWeightBands    []WeightBand `yaml:"rerank_weight_bands"`
	RecencyTauDays       float64      `yaml:"recency_tau_days"`
	TieBreakerWeight     float64      `yaml:"tie_breaker_weight"`
	ScopeBoostWeight     float64      `yaml:"scope_boost_weight"`
	ScopeDescriptions    map[string]string `yaml:"scope_descriptions,omitempty"`
}

// WeightBand assigns a weight to a contiguous rank band [From, To).
type WeightBand struct {
	From   int     `yaml:"from"`
	To     int     `yaml:"to"`
	Weight float64 `yaml:"weight"`
}

// LifecycleConfig governs GC timing.
type LifecycleConfig struct {
	PurgeDeletedAfterDays    int `yaml:"purge_deleted_after_days"`
	PurgeDeprecatedAfterDays int `yaml:"purge_deprecated_after_days"`
}

// SecurityConfig governs gating and redaction.
type SecurityConfig struct {
	LocalhostOnlyAdmin bool `yaml:"localhost_only_admin"`
	RejectNonEnglish   bool `yaml:"reject_non_english"`
	EvidenceMinQuotes  int  `yaml:"evidence_min_quotes"`
	EvidenceMaxQuotes  int  `yaml:"evidence_max_quotes"`
	EvidenceMaxQuoteLen int `yaml:"evidence_max_quote_len"`
	RedactionEnabled   bool `yaml:"redaction_enabled"`
	AuthMode           string `yaml:"auth_mode"` // static_keys|off
	AdminKeys          []string `yaml:"admin_keys,omitempty"`
}

// CacheConfig is the Redis-backed LLM cache connection.
type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}
