// internal/common/config/loader_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, "tpr-pipeline", cfg.App.Name)
	assert.Equal(t, 0.50, cfg.Pipeline.UrbanTPRThreshold)
	assert.Equal(t, "mean", cfg.Pipeline.ZonalStatistic)
	assert.Equal(t, 86400, cfg.Pipeline.SessionTTL)
	assert.Equal(t, 4, cfg.Pipeline.ExtractWorkers)
	assert.Equal(t, "file", cfg.Boundaries.Source)
	assert.Equal(t, "tpr-run-manifests", cfg.Audit.Index)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Pipeline.UrbanTPRThreshold = 0.7
	cfg.Pipeline.ZonalStatistic = "area_weighted_mean"
	applyDefaults(cfg)

	assert.Equal(t, 0.7, cfg.Pipeline.UrbanTPRThreshold)
	assert.Equal(t, "area_weighted_mean", cfg.Pipeline.ZonalStatistic)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad zonal statistic",
			mutate:  func(c *Config) { c.Pipeline.ZonalStatistic = "median" },
			wantErr: "zonal_statistic",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Pipeline.UrbanTPRThreshold = 1.5 },
			wantErr: "urban_tpr_threshold",
		},
		{
			name:    "threshold negative",
			mutate:  func(c *Config) { c.Pipeline.UrbanTPRThreshold = -0.1 },
			wantErr: "urban_tpr_threshold",
		},
		{
			name:    "unknown boundary source",
			mutate:  func(c *Config) { c.Boundaries.Source = "shapefile" },
			wantErr: "boundaries.source",
		},
		{
			name:    "postgres source requires host",
			mutate:  func(c *Config) { c.Boundaries.Source = "postgres" },
			wantErr: "postgres.host",
		},
		{
			name: "postgres source with host is fine",
			mutate: func(c *Config) {
				c.Boundaries.Source = "postgres"
				c.Database.Postgres.Host = "localhost"
			},
		},
		{
			name:    "email notifications require a sender",
			mutate:  func(c *Config) { c.Notifications.Email.Enabled = true },
			wantErr: "from_email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresConfig_GetDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host: "db.internal", Port: 5432, Database: "tpr",
		User: "svc", Password: "secret", SSLMode: "disable",
	}
	dsn := cfg.GetDSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "dbname=tpr")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestElasticsearchConfig_GetURL(t *testing.T) {
	cfg := ElasticsearchConfig{Addresses: []string{"http://es:9200"}}
	assert.Equal(t, "http://es:9200", cfg.GetURL())

	cfg = ElasticsearchConfig{URL: "http://single:9200"}
	assert.Equal(t, "http://single:9200", cfg.GetURL())
}
