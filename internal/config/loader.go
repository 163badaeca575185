package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// ConfigError names the exact YAML path of a missing or invalid required
// field. It is the only error type Load returns for validation failures.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Path, e.Reason)
}

func missing(path string) error { return &ConfigError{Path: path, Reason: "required field is missing"} }

func invalid(path, reason string) error { return &ConfigError{Path: path, Reason: reason} }

// Load reads the file at path, unmarshals it into Config, then walks every
// required field with explicit checks. There are no code-level defaults
// for required fields; optional sections receive defaults only after this
// walk succeeds.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := validateRequired(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func validateRequired(cfg *Config) error {
	if cfg.Service.Bind == "" {
		return missing("service.bind")
	}
	if cfg.Service.LogLevel == "" {
		return missing("service.log_level")
	}
	if cfg.Store.DSN == "" {
		return missing("store.dsn")
	}
	if cfg.Derived.URL == "" {
		return missing("derived_index.url")
	}
	if cfg.Derived.Collection == "" {
		return missing("derived_index.collection")
	}
	if cfg.Derived.VectorDim <= 0 {
		return missing("derived_index.vector_dim")
	}
	if err := validateProvider("providers.embedding", cfg.Providers.Embedding); err != nil {
		return err
	}
	if err := validateProvider("providers.rerank", cfg.Providers.Rerank); err != nil {
		return err
	}
	if err := validateProvider("providers.extractor", cfg.Providers.Extractor); err != nil {
		return err
	}
	if cfg.Providers.Embedding.Dimensions <= 0 {
		return missing("providers.embedding.dimensions")
	}
	if cfg.Providers.Embedding.Dimensions != cfg.Derived.VectorDim {
		return invalid("providers.embedding.dimensions",
			fmt.Sprintf("must equal storage.derived_index.vector_dim (%d != %d)",
				cfg.Providers.Embedding.Dimensions, cfg.Derived.VectorDim))
	}
	if len(cfg.Scopes.Allowed) == 0 {
		return missing("scopes.allowed")
	}
	if len(cfg.Scopes.ReadProfiles) == 0 {
		return missing("scopes.read_profiles")
	}
	if cfg.Memory.MaxNoteChars <= 0 {
		return missing("memory.max_note_chars")
	}
	if cfg.Memory.DupSimThreshold <= 0 {
		return missing("memory.dup_sim_threshold")
	}
	if cfg.Memory.UpdateSimThreshold <= 0 {
		return missing("memory.update_sim_threshold")
	}
	if cfg.Memory.UpdateSimThreshold > cfg.Memory.DupSimThreshold {
		return invalid("memory.update_sim_threshold", "must be <= memory.dup_sim_threshold")
	}
	if cfg.Chunking.Enabled {
		if cfg.Chunking.MaxTokens <= 0 {
			return missing("chunking.max_tokens")
		}
		if cfg.Chunking.OverlapTokens >= cfg.Chunking.MaxTokens {
			return invalid("chunking.overlap_tokens", "must be less than chunking.max_tokens")
		}
	}
	if cfg.Search.Expansion.Mode == "" {
		return missing("search.expansion.mode")
	}
	switch cfg.Search.Expansion.Mode {
	case "off", "always", "dynamic":
	default:
		return invalid("search.expansion.mode", "must be one of off, always, dynamic")
	}
	if cfg.Search.CandidateK <= 0 {
		return missing("search.candidate_k")
	}
	if len(cfg.Ranking.RetrievalWeightBands) == 0 {
		return missing("ranking.retrieval_weight_bands")
	}
	if len(cfg.Ranking.RerankWeightBands) == 0 {
		return missing("ranking.rerank_weight_bands")
	}
	if cfg.Ranking.RecencyTauDays <= 0 {
		return missing("ranking.recency_tau_days")
	}
	if cfg.Lifecycle.PurgeDeletedAfterDays <= 0 {
		return missing("lifecycle.purge_deleted_after_days")
	}
	switch cfg.Security.AuthMode {
	case "static_keys", "off":
	default:
		return invalid("security.auth_mode", "must be one of static_keys, off")
	}
	if cfg.Security.AuthMode == "static_keys" && len(cfg.Security.AdminKeys) == 0 {
		return missing("security.admin_keys")
	}
	if cfg.Security.EvidenceMinQuotes <= 0 {
		return missing("security.evidence_min_quotes")
	}
	if cfg.Security.EvidenceMaxQuotes < cfg.Security.EvidenceMinQuotes {
		return invalid("security.evidence_max_quotes", "must be >= security.evidence_min_quotes")
	}
	if cfg.Security.EvidenceMaxQuoteLen <= 0 {
		return missing("security.evidence_max_quote_len")
	}
	if cfg.Cache.Addr == "" {
		return missing("cache.addr")
	}
	return nil
}

func validateProvider(pathPrefix string, p ProviderConfig) error {
	if p.APIBase == "" {
		return missing(pathPrefix + ".api_base")
	}
	if p.Path == "" {
		return missing(pathPrefix + ".path")
	}
	if p.Model == "" {
		return missing(pathPrefix + ".model")
	}
	if p.TimeoutSeconds <= 0 {
		return missing(pathPrefix + ".timeout_seconds")
	}
	return nil
}

// applyDefaults fills optional, non-required fields. Never called before
// validateRequired has already succeeded.
func applyDefaults(cfg *Config) {
	if cfg.Derived.Distance == "" {
		cfg.Derived.Distance = "cosine"
	}
	if cfg.Scopes.OrgSentinelProject == "" {
		cfg.Scopes.OrgSentinelProject = "__org_shared__"
	}
	if cfg.Memory.MaxNotesPerAddEvent <= 0 {
		cfg.Memory.MaxNotesPerAddEvent = 5
	}
	if cfg.Search.Expansion.MaxQueries <= 0 {
		cfg.Search.Expansion.MaxQueries = 4
	}
	if cfg.Search.RRFK <= 0 {
		cfg.Search.RRFK = 60
	}
	if cfg.Search.Expansion.Cache.TTLSeconds <= 0 {
		cfg.Search.Expansion.Cache.TTLSeconds = 3600
	}
	if cfg.Search.RerankCache.TTLSeconds <= 0 {
		cfg.Search.RerankCache.TTLSeconds = 3600
	}
	if cfg.Ranking.TieBreakerWeight <= 0 {
		cfg.Ranking.TieBreakerWeight = 1.0
	}
	if cfg.Lifecycle.PurgeDeprecatedAfterDays <= 0 {
		cfg.Lifecycle.PurgeDeprecatedAfterDays = cfg.Lifecycle.PurgeDeletedAfterDays
	}
	for _, p := range []*ProviderConfig{&cfg.Providers.Embedding, &cfg.Providers.Rerank, &cfg.Providers.Extractor} {
		if p.MaxRetries <= 0 {
			p.MaxRetries = 3
		}
	}
}
