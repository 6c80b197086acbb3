// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_REDIS_ADDRESS
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, e.g. config.production.yaml
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root.
func loadEnvFile() {
	candidates := []string{".env"}
	if root := findProjectRoot(); root != "" {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Walk up directories looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "tpr-pipeline"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if cfg.Pipeline.UrbanTPRThreshold == 0 {
		cfg.Pipeline.UrbanTPRThreshold = 0.50
	}
	if cfg.Pipeline.ZonalStatistic == "" {
		cfg.Pipeline.ZonalStatistic = "mean"
	}
	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = "./output"
	}
	if cfg.Pipeline.SessionTTL == 0 {
		cfg.Pipeline.SessionTTL = 86400
	}
	if cfg.Pipeline.ExtractWorkers == 0 {
		cfg.Pipeline.ExtractWorkers = 4
	}

	if cfg.Boundaries.Source == "" {
		cfg.Boundaries.Source = "file"
	}
	if cfg.Boundaries.Table == "" {
		cfg.Boundaries.Table = "ward_boundaries"
	}
	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "tpr-run-manifests"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Pipeline.ZonalStatistic {
	case "mean", "area_weighted_mean":
	default:
		return fmt.Errorf("pipeline.zonal_statistic must be \"mean\" or \"area_weighted_mean\", got %q", cfg.Pipeline.ZonalStatistic)
	}

	if cfg.Pipeline.UrbanTPRThreshold <= 0 || cfg.Pipeline.UrbanTPRThreshold > 1 {
		return fmt.Errorf("pipeline.urban_tpr_threshold must be in (0,1], got %f", cfg.Pipeline.UrbanTPRThreshold)
	}

	switch cfg.Boundaries.Source {
	case "postgres", "file":
	default:
		return fmt.Errorf("boundaries.source must be \"postgres\" or \"file\", got %q", cfg.Boundaries.Source)
	}

	if cfg.Boundaries.Source == "postgres" && cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("boundaries.source is postgres but database.postgres.host is empty")
	}

	if cfg.Notifications.Email.Enabled && cfg.Notifications.Email.FromEmail == "" {
		return fmt.Errorf("notifications.email.enabled requires notifications.email.from_email")
	}

	return nil
}
