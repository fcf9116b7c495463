package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajitpratap0/statline/pkg/logger"
)

// Tier names an environment tier.
type Tier string

const (
	TierDev  Tier = "dev"
	TierTest Tier = "test"
	TierProd Tier = "prod"
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierDev, TierTest, TierProd:
		return t, nil
	default:
		return "", fmt.Errorf("unknown environment tier %q, expected one of dev, test, prod", s)
	}
}

// DefaultSource is the agency's own data source. Any other source name marks
// a third-party hosted dataset.
const DefaultSource = "cbs"

// rootPathKey is reserved in [paths] for the local output root.
const rootPathKey = "root"

// Config is the complete, validated statline configuration.
type Config struct {
	// GCP holds one cloud target per environment tier
	GCP GCPConfig `mapstructure:"gcp"`
	// Paths maps a source name to its local subdirectory; "root" sets the parent directory
	Paths map[string]string `mapstructure:"paths"`
	// OData tunes the upstream API client
	OData ODataConfig `mapstructure:"odata"`
	// Pipeline tunes a single dataset run
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Logging configures the process logger
	Logging LoggingConfig `mapstructure:"logging"`
}

// GCPConfig lists the per-tier cloud targets.
type GCPConfig struct {
	Dev  Environment `mapstructure:"dev"`
	Test Environment `mapstructure:"test"`
	Prod Environment `mapstructure:"prod"`
}

// Environment is one tier's default target plus optional per-source overrides.
type Environment struct {
	ProjectID string                   `mapstructure:"project_id"`
	Bucket    string                   `mapstructure:"bucket"`
	Location  string                   `mapstructure:"location"`
	Sources   map[string]ProjectTarget `mapstructure:"sources"`
}

// ProjectTarget is the {catalog project, storage bucket, region} triple a run publishes to.
type ProjectTarget struct {
	ProjectID string `mapstructure:"project_id"`
	Bucket    string `mapstructure:"bucket"`
	Location  string `mapstructure:"location"`
}

func (p ProjectTarget) complete() bool {
	return p.ProjectID != "" && p.Bucket != "" && p.Location != ""
}

func (p ProjectTarget) empty() bool {
	return p.ProjectID == "" && p.Bucket == "" && p.Location == ""
}

// ODataConfig tunes the OData HTTP client.
type ODataConfig struct {
	// V3URL is the v3 host for the agency's own datasets
	V3URL string `mapstructure:"v3_url"`
	// V3ThirdPartyURL is the v3 host for externally hosted datasets
	V3ThirdPartyURL string `mapstructure:"v3_third_party_url"`
	// V4URL is the v4 host
	V4URL string `mapstructure:"v4_url"`
	// RateLimit is the sustained request rate per second
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the token bucket size
	RateBurst int `mapstructure:"rate_burst"`
	// RequestTimeout bounds a single HTTP request
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// PageConcurrency bounds concurrent page fetches within one table
	PageConcurrency int `mapstructure:"page_concurrency"`
	// UserAgent is sent on every request
	UserAgent string `mapstructure:"user_agent"`
}

// PipelineConfig tunes one dataset run.
type PipelineConfig struct {
	// TableWorkers bounds tables fetched and converted concurrently
	TableWorkers int `mapstructure:"table_workers"`
	// DatasetTimeout bounds a full dataset run, zero disables the deadline
	DatasetTimeout time.Duration `mapstructure:"dataset_timeout"`
	// BatchSize is the number of rows per Parquet record batch
	BatchSize int `mapstructure:"batch_size"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Default returns a configuration with every tunable set. GCP targets are
// left empty since they have no meaningful default.
func Default() *Config {
	return &Config{
		Paths: map[string]string{DefaultSource: DefaultSource},
		OData: ODataConfig{
			V3URL:           "https://opendata.cbs.nl",
			V3ThirdPartyURL: "https://dataderden.cbs.nl",
			V4URL:           "https://odata4.cbs.nl",
			RateLimit:       10,
			RateBurst:       5,
			RequestTimeout:  90 * time.Second,
			PageConcurrency: 4,
			UserAgent:       "statline",
		},
		Pipeline: PipelineConfig{
			TableWorkers:   4,
			DatasetTimeout: 2 * time.Hour,
			BatchSize:      10000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks the configuration once, at load time.
func (c *Config) Validate() error {
	configured := 0
	for _, tier := range []Tier{TierDev, TierTest, TierProd} {
		env := c.environment(tier)
		base := ProjectTarget{ProjectID: env.ProjectID, Bucket: env.Bucket, Location: env.Location}
		if base.empty() && len(env.Sources) == 0 {
			continue
		}
		configured++
		if !base.complete() {
			return fmt.Errorf("gcp.%s: project_id, bucket and location are all required", tier)
		}
		for source, target := range env.Sources {
			if !target.complete() {
				return fmt.Errorf("gcp.%s.sources.%s: project_id, bucket and location are all required", tier, source)
			}
		}
	}
	if configured == 0 {
		return fmt.Errorf("no gcp environment tier configured")
	}

	if c.OData.V3URL == "" || c.OData.V3ThirdPartyURL == "" || c.OData.V4URL == "" {
		return fmt.Errorf("odata: v3_url, v3_third_party_url and v4_url must be set")
	}
	if c.OData.RateLimit <= 0 {
		return fmt.Errorf("odata.rate_limit must be positive")
	}
	if c.OData.RateBurst < 1 {
		return fmt.Errorf("odata.rate_burst must be at least 1")
	}
	if c.OData.RequestTimeout <= 0 {
		return fmt.Errorf("odata.request_timeout must be positive")
	}
	if c.OData.PageConcurrency < 1 {
		return fmt.Errorf("odata.page_concurrency must be at least 1")
	}
	if c.Pipeline.TableWorkers < 1 {
		return fmt.Errorf("pipeline.table_workers must be at least 1")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1")
	}
	if c.Pipeline.DatasetTimeout < 0 {
		return fmt.Errorf("pipeline.dataset_timeout must not be negative")
	}
	return nil
}

func (c *Config) environment(tier Tier) Environment {
	switch tier {
	case TierTest:
		return c.GCP.Test
	case TierProd:
		return c.GCP.Prod
	default:
		return c.GCP.Dev
	}
}

// ResolveEnvironment returns the cloud target for a tier and data source.
// A source-specific override takes precedence over the tier's default.
func (c *Config) ResolveEnvironment(tier Tier, source string) (ProjectTarget, error) {
	if _, err := ParseTier(string(tier)); err != nil {
		return ProjectTarget{}, err
	}

	env := c.environment(tier)
	if target, ok := env.Sources[strings.ToLower(source)]; ok {
		return target, nil
	}

	target := ProjectTarget{ProjectID: env.ProjectID, Bucket: env.Bucket, Location: env.Location}
	if !target.complete() {
		return ProjectTarget{}, fmt.Errorf("gcp.%s is not configured", tier)
	}
	return target, nil
}

// OutputRoot is the parent directory of every run's local output.
func (c *Config) OutputRoot() string {
	if root := c.Paths[rootPathKey]; root != "" {
		return root
	}
	return filepath.Join(os.TempDir(), "statline")
}

// ResolveOutputPath returns the local directory a run writes its files to:
// {root}/{source dir}/{version}/{dataset id}/{YYYYMMDD}.
func (c *Config) ResolveOutputPath(datasetID, version, source string, runDate time.Time) string {
	dir := c.Paths[strings.ToLower(source)]
	if dir == "" || strings.ToLower(source) == rootPathKey {
		dir = strings.ToLower(source)
	}
	return filepath.Join(c.OutputRoot(), dir, version, datasetID, runDate.Format("20060102"))
}

// LoggerConfig converts the logging section for logger.New.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Logging.Level,
		Encoding:    c.Logging.Encoding,
		Development: c.Logging.Development,
	}
}
