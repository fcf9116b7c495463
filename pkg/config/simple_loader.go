package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "STATLINE"

// Load reads the configuration file at filePath, applies defaults and
// environment overrides, and validates the result. An empty filePath yields
// the defaults, which only pass validation if the environment supplies a tier.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		v.SetConfigType(configType(filePath))
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	for _, tier := range []Tier{TierDev, TierTest, TierProd} {
		key := "gcp." + string(tier)
		v.SetDefault(key+".project_id", "")
		v.SetDefault(key+".bucket", "")
		v.SetDefault(key+".location", "")
	}

	v.SetDefault("odata.v3_url", d.OData.V3URL)
	v.SetDefault("odata.v3_third_party_url", d.OData.V3ThirdPartyURL)
	v.SetDefault("odata.v4_url", d.OData.V4URL)
	v.SetDefault("odata.rate_limit", d.OData.RateLimit)
	v.SetDefault("odata.rate_burst", d.OData.RateBurst)
	v.SetDefault("odata.request_timeout", d.OData.RequestTimeout)
	v.SetDefault("odata.page_concurrency", d.OData.PageConcurrency)
	v.SetDefault("odata.user_agent", d.OData.UserAgent)

	v.SetDefault("pipeline.table_workers", d.Pipeline.TableWorkers)
	v.SetDefault("pipeline.dataset_timeout", d.Pipeline.DatasetTimeout)
	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)
}

func configType(filePath string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	switch ext {
	case "yml":
		return "yaml"
	case "":
		return "toml"
	default:
		return ext
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}

// datasetsFile accepts both a top-level ids array and a [datasets] table.
type datasetsFile struct {
	IDs      []string `toml:"ids"`
	Datasets struct {
		IDs []string `toml:"ids"`
	} `toml:"datasets"`
}

// LoadDatasets reads the list of dataset ids for a batch run. Blank and
// repeated ids are dropped; order is preserved.
func LoadDatasets(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read datasets file: %w", err)
	}

	var doc datasetsFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse datasets file %s: %w", filePath, err)
	}

	raw := append(doc.IDs, doc.Datasets.IDs...)
	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("datasets file %s lists no ids", filePath)
	}
	return ids, nil
}
