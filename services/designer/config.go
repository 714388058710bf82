// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package designer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/DesignAgent/pkg/logging"
	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/imagestore"
	"github.com/AleutianAI/DesignAgent/services/designer/middleware"
	"github.com/AleutianAI/DesignAgent/services/designer/session"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
	"github.com/AleutianAI/DesignAgent/services/designer/telemetry"
	"github.com/AleutianAI/DesignAgent/services/designer/ttl"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the design agent configuration.
//
// # Description
//
// Loaded from YAML by LoadConfig, then overridden from the environment.
// Zero values are filled in by applyConfigDefaults, so Config{} is a
// working offline configuration: memory sessions, local uploads, the
// static vision provider and the built-in furniture catalog.
//
// # Examples
//
//	server:
//	  port: 8000
//	providers:
//	  vision: openai
//	  openai:
//	    model: gpt-4.1-mini
//	pipeline:
//	  retry:
//	    max_attempts: 3
//	    initial_backoff: 1s
//	  stage_timeouts:
//	    design: 10m
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Store     StoreConfig      `yaml:"store"`
	Uploads   UploadsConfig    `yaml:"uploads"`
	Providers ProvidersConfig  `yaml:"providers"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	TTL       TTLConfig        `yaml:"ttl"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Port is the HTTP port. Default: 8000
	Port int `yaml:"port"`

	// GinMode is debug, release or test. Default: GIN_MODE or release.
	GinMode string `yaml:"gin_mode"`

	// CORSOrigins lists allowed origins. Default: ["*"]
	CORSOrigins []string `yaml:"cors_origins"`

	// MaxUploadBytes limits uploads. Default: 20MB
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// MessageLimit is how many messages a status carries. Default: 50
	MessageLimit int `yaml:"message_limit"`

	// UploadRateLimit paces uploads per client IP.
	UploadRateLimit middleware.RateLimitConfig `yaml:"upload_rate_limit"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	// Backend is "memory" or "badger". Default: memory
	Backend string              `yaml:"backend"`
	Badger  session.BadgerConfig `yaml:"badger"`
}

// UploadsConfig selects the image store.
type UploadsConfig struct {
	// Backend is "local" or "gcs". Default: local
	Backend string `yaml:"backend"`

	// Dir is the local upload directory. Default: ./uploads
	Dir string `yaml:"dir"`

	GCS imagestore.GCSConfig `yaml:"gcs"`
}

// ProvidersConfig selects the external collaborators of the stages.
type ProvidersConfig struct {
	// Vision is "openai", "static" or "auto" (openai when a key is set).
	// Default: auto
	Vision string `yaml:"vision"`

	OpenAI   OpenAIConfig   `yaml:"openai"`
	Shopping ShoppingConfig `yaml:"shopping"`
}

// OpenAIConfig configures the OpenAI provider. The key only comes from
// OPENAI_API_KEY.
type OpenAIConfig struct {
	APIKey     string `yaml:"-"`
	Model      string `yaml:"model"`
	ImageModel string `yaml:"image_model"`
	ImageSize  string `yaml:"image_size"`
	BaseURL    string `yaml:"base_url"`
}

// ShoppingConfig configures product search. Without a URL only the
// built-in catalog is used.
type ShoppingConfig struct {
	URL               string  `yaml:"url"`
	APIKey            string  `yaml:"-"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// CatalogFallback answers from the built-in catalog when the search
	// fails or finds nothing. Default: true
	CatalogFallback *bool `yaml:"catalog_fallback"`
}

// PipelineConfig configures retries and deadlines of the stages.
type PipelineConfig struct {
	Retry         stages.RetryPolicy                     `yaml:"retry"`
	StageTimeouts map[datatypes.StageName]time.Duration `yaml:"stage_timeouts"`
	Shop          stages.ShopConfig                      `yaml:"shop"`

	// StopTimeout bounds how long a delete waits for its task.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// TTLConfig configures session expiry.
type TTLConfig struct {
	// Enabled runs the sweeper. Default: true
	Enabled *bool `yaml:"enabled"`

	ttl.Config `yaml:",inline"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() Config {
	return applyConfigDefaults(Config{})
}

// LoadConfig reads path, applies environment overrides and defaults.
//
// # Description
//
// A missing file is not an error: the defaults plus the environment are
// used. An empty path skips the file.
//
// # Outputs
//
//   - Config: Ready to pass to New.
//   - error: Unreadable or malformed file, or a Validate failure.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies the environment variables on top of the file.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DESIGNER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: DESIGNER_PORT=%q", ErrInvalidConfig, v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.Server.GinMode = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Providers.OpenAI.Model = v
	}
	if v := os.Getenv("SHOPPING_API_URL"); v != "" {
		cfg.Providers.Shopping.URL = v
	}
	if v := os.Getenv("SHOPPING_API_KEY"); v != "" {
		cfg.Providers.Shopping.APIKey = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// applyConfigDefaults fills in zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.GinMode == "" {
		cfg.Server.GinMode = "release"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = datatypes.DefaultMaxUploadBytes
	}
	if cfg.Server.MessageLimit == 0 {
		cfg.Server.MessageLimit = datatypes.DefaultMessageLimit
	}
	rl := middleware.DefaultRateLimitConfig()
	if cfg.Server.UploadRateLimit.RequestsPerSecond == 0 {
		cfg.Server.UploadRateLimit.RequestsPerSecond = rl.RequestsPerSecond
	}
	if cfg.Server.UploadRateLimit.Burst == 0 {
		cfg.Server.UploadRateLimit.Burst = rl.Burst
	}
	if cfg.Server.UploadRateLimit.IdleTTL == 0 {
		cfg.Server.UploadRateLimit.IdleTTL = rl.IdleTTL
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	bd := session.DefaultBadgerConfig()
	if cfg.Store.Badger.Path == "" {
		cfg.Store.Badger.Path = bd.Path
	}
	if cfg.Store.Badger.GCInterval == 0 {
		cfg.Store.Badger.GCInterval = bd.GCInterval
	}
	if cfg.Store.Badger.GCDiscardRatio == 0 {
		cfg.Store.Badger.GCDiscardRatio = bd.GCDiscardRatio
	}

	if cfg.Uploads.Backend == "" {
		cfg.Uploads.Backend = "local"
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = "./uploads"
	}

	if cfg.Providers.Vision == "" {
		cfg.Providers.Vision = "auto"
	}
	if cfg.Providers.Shopping.CatalogFallback == nil {
		cfg.Providers.Shopping.CatalogFallback = boolPtr(true)
	}

	if cfg.Pipeline.Retry.MaxAttempts == 0 {
		sleep := cfg.Pipeline.Retry.Sleep
		cfg.Pipeline.Retry = stages.DefaultRetryPolicy()
		cfg.Pipeline.Retry.Sleep = sleep
	}
	cfg.Pipeline.Shop = cfg.Pipeline.Shop.WithDefaults()

	if cfg.TTL.Enabled == nil {
		cfg.TTL.Enabled = boolPtr(true)
	}
	cfg.TTL.Config = cfg.TTL.Config.WithDefaults()

	td := telemetry.DefaultConfig()
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = td.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = td.ServiceVersion
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = td.Environment
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = td.TraceExporter
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = td.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = td.OTLPEndpoint
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg
}

// Validate checks a defaulted Config.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.gin_mode %q must be debug, release or test", c.Server.GinMode))
	}
	if err := middleware.CORSConfig(c.Server.CORSOrigins).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.cors_origins: %w", err))
	}
	if c.Server.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	switch c.Store.Backend {
	case "memory", "badger":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory or badger", c.Store.Backend))
	}
	switch c.Uploads.Backend {
	case "local":
	case "gcs":
		if c.Uploads.GCS.Bucket == "" {
			errs = append(errs, errors.New("uploads.gcs.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("uploads.backend %q must be local or gcs", c.Uploads.Backend))
	}
	switch c.Providers.Vision {
	case "auto", "static":
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("providers.vision openai requires OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("providers.vision %q must be auto, openai or static", c.Providers.Vision))
	}
	if err := c.Pipeline.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, d := range c.Pipeline.StageTimeouts {
		if !validStage(name) {
			errs = append(errs, fmt.Errorf("pipeline.stage_timeouts: unknown stage %q", name))
		} else if d < 0 {
			errs = append(errs, fmt.Errorf("pipeline.stage_timeouts.%s must not be negative", name))
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// TTLEnabled reports whether the sweeper runs.
func (c Config) TTLEnabled() bool {
	return c.TTL.Enabled == nil || *c.TTL.Enabled
}

// CatalogFallback reports whether the built-in catalog backs searches.
func (c Config) CatalogFallback() bool {
	return c.Providers.Shopping.CatalogFallback == nil || *c.Providers.Shopping.CatalogFallback
}

func validStage(name datatypes.StageName) bool {
	for _, s := range datatypes.Stages() {
		if s == name {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
