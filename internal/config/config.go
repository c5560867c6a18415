package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port string `toml:"port"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type S3Config struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

type CacheConfig struct {
	Driver string   `toml:"driver"` // fs | s3 | memory
	Dir    string   `toml:"dir"`
	S3     S3Config `toml:"s3"`
}

type MappingConfig struct {
	Enabled   bool   `toml:"enabled"`
	CacheDir  string `toml:"cache_dir"` // empty keeps the mapping cache in memory
	CacheDays int    `toml:"cache_days"`
	BaseURL   string `toml:"base_url"`
	TimeoutS  int    `toml:"timeout_seconds"`
}

type ProviderConfig struct {
	BaseURL  string `toml:"base_url"`
	TimeoutS int    `toml:"timeout_seconds"`
}

type ORAConfig struct {
	PCutoff    float64 `toml:"p_cutoff"`
	MinOverlap int     `toml:"min_overlap"`
	FDRMethod  string  `toml:"fdr_method"`
	MinSetSize int     `toml:"min_set_size"`
	MaxSetSize int     `toml:"max_set_size"`
}

type GSEAConfig struct {
	MinSize        int     `toml:"min_size"`
	MaxSize        int     `toml:"max_size"`
	PermutationNum int     `toml:"permutation_num"`
	Seed           uint64  `toml:"seed"`
	TopN           int     `toml:"top_n"`
	Weight         float64 `toml:"weight"`
}

type DedupeConfig struct {
	Threshold float64 `toml:"threshold"`
}

type FusionConfig struct {
	Sources []string `toml:"sources"`
}

type ConcurrencyConfig struct {
	Batch int `toml:"batch"`
}

type GraphConfig struct {
	Enabled  bool   `toml:"enabled"`
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type ArchiveConfig struct {
	Driver string `toml:"driver"` // sqlite | postgres | none
	DSN    string `toml:"dsn"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

type Config struct {
	SoftwareVersion string            `toml:"software_version"`
	Server          ServerConfig      `toml:"server"`
	Log             LogConfig         `toml:"log"`
	Cache           CacheConfig       `toml:"cache"`
	Mapping         MappingConfig     `toml:"mapping"`
	Provider        ProviderConfig    `toml:"provider"`
	ORA             ORAConfig         `toml:"ora"`
	GSEA            GSEAConfig        `toml:"gsea"`
	Dedupe          DedupeConfig      `toml:"dedupe"`
	Fusion          FusionConfig      `toml:"fusion"`
	Concurrency     ConcurrencyConfig `toml:"concurrency"`
	Graph           GraphConfig       `toml:"graph"`
	Archive         ArchiveConfig     `toml:"archive"`
	Metrics         MetricsConfig     `toml:"metrics"`
}

func Default() *Config {
	return &Config{
		SoftwareVersion: "0.3.0",
		Server:          ServerConfig{Port: "8080"},
		Log:             LogConfig{Level: "info", Format: "text"},
		Cache:           CacheConfig{Driver: "fs", Dir: "data/genesets"},
		Mapping: MappingConfig{
			Enabled:   true,
			CacheDays: 30,
			BaseURL:   "https://mygene.info/v3",
			TimeoutS:  30,
		},
		Provider: ProviderConfig{
			BaseURL:  "https://maayanlab.cloud/Enrichr",
			TimeoutS: 60,
		},
		ORA: ORAConfig{PCutoff: 0.05, MinOverlap: 3, FDRMethod: "fdr_bh", MinSetSize: 5, MaxSetSize: 500},
		GSEA: GSEAConfig{
			MinSize:        5,
			MaxSize:        500,
			PermutationNum: 1000,
			Seed:           42,
			TopN:           20,
			Weight:         1,
		},
		Dedupe:      DedupeConfig{Threshold: 0.45},
		Fusion:      FusionConfig{Sources: []string{"reactome", "kegg", "wikipathways"}},
		Concurrency: ConcurrencyConfig{Batch: 4},
		Graph:       GraphConfig{URI: "bolt://localhost:7687"},
		Archive:     ArchiveConfig{Driver: "sqlite", DSN: "data/runs.db"},
		Metrics:     MetricsConfig{Enabled: true},
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("GENEFUSE_CACHE_DRIVER", &c.Cache.Driver)
	str("GENEFUSE_CACHE_DIR", &c.Cache.Dir)
	str("GENEFUSE_CACHE_S3_BUCKET", &c.Cache.S3.Bucket)
	str("GENEFUSE_CACHE_S3_REGION", &c.Cache.S3.Region)
	str("GENEFUSE_CACHE_S3_ENDPOINT", &c.Cache.S3.Endpoint)
	boolean("GENEFUSE_CACHE_S3_PATH_STYLE", &c.Cache.S3.PathStyle)

	boolean("GENEFUSE_MAPPING_ENABLED", &c.Mapping.Enabled)
	str("GENEFUSE_MAPPING_CACHE_DIR", &c.Mapping.CacheDir)
	str("GENEFUSE_MAPPING_URL", &c.Mapping.BaseURL)
	str("GENEFUSE_PROVIDER_URL", &c.Provider.BaseURL)

	integer("GENEFUSE_BATCH_CONCURRENCY", &c.Concurrency.Batch)
	if v, ok := lookup("GENEFUSE_FUSION_SOURCES"); ok && v != "" {
		var sources []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
		c.Fusion.Sources = sources
	}

	boolean("GENEFUSE_GRAPH_ENABLED", &c.Graph.Enabled)
	str("MEMGRAPH_URI", &c.Graph.URI)
	str("MEMGRAPH_USER", &c.Graph.User)
	str("MEMGRAPH_PASSWORD", &c.Graph.Password)

	str("GENEFUSE_ARCHIVE_DRIVER", &c.Archive.Driver)
	str("GENEFUSE_ARCHIVE_DSN", &c.Archive.DSN)
	boolean("GENEFUSE_METRICS_ENABLED", &c.Metrics.Enabled)
}

func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unsupported cache driver '%s'", c.Cache.Driver)
	}
	if c.Cache.Driver == "s3" && c.Cache.S3.Bucket == "" {
		return fmt.Errorf("cache.s3.bucket required for s3 cache driver")
	}
	switch c.Archive.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		return fmt.Errorf("unsupported archive driver '%s'", c.Archive.Driver)
	}
	if c.Dedupe.Threshold < 0 || c.Dedupe.Threshold > 1 {
		return fmt.Errorf("dedupe.threshold must be within [0, 1], got %v", c.Dedupe.Threshold)
	}
	if c.ORA.PCutoff <= 0 || c.ORA.PCutoff > 1 {
		return fmt.Errorf("ora.p_cutoff must be within (0, 1], got %v", c.ORA.PCutoff)
	}
	if c.GSEA.PermutationNum < 1 {
		return fmt.Errorf("gsea.permutation_num must be at least 1, got %d", c.GSEA.PermutationNum)
	}
	if c.Concurrency.Batch < 1 {
		return fmt.Errorf("concurrency.batch must be at least 1, got %d", c.Concurrency.Batch)
	}
	return nil
}
