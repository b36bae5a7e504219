// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/crew"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/history"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/intent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/memory"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/routing"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/sqlpath"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/synthesis"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
	"github.com/AleutianAI/AleutianQuery/services/policy_engine"
)

// EnvPrefix prefixes every environment override, e.g.
// ALEUTIAN_SERVER_PORT or ALEUTIAN_LLM_BACKEND.
const EnvPrefix = "ALEUTIAN"

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the service. It is loaded from a
// YAML file and ALEUTIAN_* environment variables by LoadConfig, or built
// programmatically for tests. A section left at its zero value takes its
// defaults in New.
//
// # Examples
//
//	server:
//	  port: 12210
//	llm:
//	  backend: openai
//	  model: gpt-4o-mini
//	routing:
//	  sql_confidence: 0.75
//	storage:
//	  history:
//	    path: /var/lib/aleutian/history
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	LLM       llm.Config           `mapstructure:"llm"`
	Intent    intent.Config        `mapstructure:"intent"`
	Routing   routing.Config       `mapstructure:"routing"`
	SQL       sqlpath.Config       `mapstructure:"sql"`
	Crew      crew.Config          `mapstructure:"crew"`
	Synthesis synthesis.Config     `mapstructure:"synthesis"`
	Workflow  workflow.Config      `mapstructure:"workflow"`
	Memory    memory.Config        `mapstructure:"memory"`
	Prompts   PromptsConfig        `mapstructure:"prompts"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Policy    policy_engine.Config `mapstructure:"policy"`
	Telemetry TelemetryConfig      `mapstructure:"telemetry"`
	Auth      AuthConfig           `mapstructure:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the HTTP server port. Default: 12210
	Port int `mapstructure:"port" validate:"gte=1,lte=65535"`

	// GinMode is "debug", "release" or "test". Empty keeps GIN_MODE.
	GinMode string `mapstructure:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// ReadHeaderTimeout bounds reading request headers. Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`

	// MCPEnabled serves the MCP tools under MCPBasePath. Default: true
	MCPEnabled  bool   `mapstructure:"mcp_enabled"`
	MCPBasePath string `mapstructure:"mcp_base_path"`

	// Version is reported by the MCP server.
	Version string `mapstructure:"version"`
}

// LoggingConfig configures pkg/logging for the server binary.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`

	// Format is "auto" (text on a terminal, JSON otherwise), "text" or "json".
	Format string `mapstructure:"format" validate:"omitempty,oneof=auto text json"`

	// Dir enables the daily JSON log file.
	Dir string `mapstructure:"dir"`
}

// PromptsConfig configures the prompt tiers.
type PromptsConfig struct {
	// Dir holds {agent}_prompts.yaml overrides of the embedded templates.
	Dir string `mapstructure:"dir"`

	// Watch reloads Dir when a file changes.
	Watch bool `mapstructure:"watch"`

	// DynamicURL enables the hosted prompt tier, GET {url}/prompts/{agent}/{key}.
	DynamicURL     string        `mapstructure:"dynamic_url" validate:"omitempty,url"`
	DynamicTTL     time.Duration `mapstructure:"dynamic_ttl"`
	DynamicTimeout time.Duration `mapstructure:"dynamic_timeout"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	History history.Config `mapstructure:"history"`

	// UploadsPath is the SQLite file holding uploaded CSVs. Empty keeps
	// them in memory.
	UploadsPath string `mapstructure:"uploads_path"`

	// MaxUploadBytes bounds one CSV upload. Default: 50 MiB
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"gte=0"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Exporter is "otlp", "stdout" or "none". Default: otlp
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string `mapstructure:"otel_endpoint"`

	// ServiceName is the resource service.name. Default: "aleutian-query"
	ServiceName string `mapstructure:"service_name"`
}

// AuthConfig selects the auth provider when none is injected.
type AuthConfig struct {
	// Mode is "none" (every caller is the local user) or "apikey".
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=none apikey"`

	// APIKeys are "user:key" entries for Mode "apikey".
	APIKeys []string `mapstructure:"api_keys" validate:"required_if=Mode apikey"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:              12210,
			ShutdownTimeout:   15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MCPEnabled:        true,
			MCPBasePath:       "/mcp",
			Version:           "dev",
		},
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		LLM:       llm.DefaultConfig(),
		Intent:    intent.DefaultConfig(),
		Routing:   routing.DefaultConfig(),
		SQL:       sqlpath.DefaultConfig(),
		Crew:      crew.DefaultConfig(),
		Synthesis: synthesis.DefaultConfig(),
		Workflow:  workflow.DefaultConfig(),
		Memory:    memory.DefaultConfig(),
		Prompts: PromptsConfig{
			DynamicTTL:     time.Hour,
			DynamicTimeout: 2 * time.Second,
		},
		Storage: StorageConfig{
			History:        history.DefaultConfig(),
			MaxUploadBytes: 50 << 20,
		},
		Policy: policy_engine.DefaultConfig(),
		Telemetry: TelemetryConfig{
			Exporter:     "otlp",
			OTelEndpoint: "aleutian-otel-collector:4317",
			ServiceName:  "aleutian-query",
		},
		Auth: AuthConfig{Mode: "none"},
	}
}

// =============================================================================
// Loading
// =============================================================================

// LoadConfig reads the configuration.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path (if non-empty)
// and then the environment: every key maps to ALEUTIAN_<SECTION>_<KEY>,
// e.g. ALEUTIAN_LLM_BACKEND or ALEUTIAN_STORAGE_HISTORY_PATH. Durations use
// Go syntax ("30s"); lists are comma-separated. The result is validated.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file.
//
// # Outputs
//
//   - Config: Loaded configuration.
//   - error: Read, decode or validation failure.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, "", reflect.TypeOf(Config{}))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindEnvs registers every mapstructure key of t with v. AutomaticEnv only
// resolves keys viper already knows, and Unmarshal only visits known keys.
func bindEnvs(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		ft := f.Type
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, key, ft)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Validate checks struct tags and cross-field rules, joining every problem
// into one error.
func (c Config) Validate() error {
	var errs []error
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("config %s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if err := c.Routing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Workflow.PathTimeout <= 0 {
		errs = append(errs, errors.New("config workflow.path_timeout must be positive"))
	}
	if c.Memory.Enabled && c.Memory.URL == "" {
		errs = append(errs, errors.New("config memory.url is required when memory is enabled"))
	}
	if c.Storage.History.Path == "" && !c.Storage.History.InMemory {
		errs = append(errs, errors.New("config storage.history.path is required unless in_memory is set"))
	}
	return errors.Join(errs...)
}

// applyConfigDefaults fills in missing configuration values.
//
// # Description
//
// Scalar fields of Server and Telemetry are defaulted one by one. Component
// sections are defaulted as a whole when they are entirely zero, so a
// partially set section keeps its explicit zeros.
func applyConfigDefaults(cfg Config) Config {
	def := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = def.Server.ReadHeaderTimeout
	}
	if cfg.Server.MCPBasePath == "" {
		cfg.Server.MCPBasePath = def.Server.MCPBasePath
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = def.Server.Version
	}
	if cfg.Logging == (LoggingConfig{}) {
		cfg.Logging = def.Logging
	}
	if cfg.LLM == (llm.Config{}) {
		cfg.LLM = def.LLM
	}
	if cfg.Intent == (intent.Config{}) {
		cfg.Intent = def.Intent
	}
	if cfg.Routing == (routing.Config{}) {
		cfg.Routing = def.Routing
	}
	if cfg.SQL == (sqlpath.Config{}) {
		cfg.SQL = def.SQL
	}
	if cfg.Crew == (crew.Config{}) {
		cfg.Crew = def.Crew
	}
	if cfg.Synthesis == (synthesis.Config{}) {
		cfg.Synthesis = def.Synthesis
	}
	if cfg.Workflow == (workflow.Config{}) {
		cfg.Workflow = def.Workflow
	}
	if cfg.Memory == (memory.Config{}) {
		cfg.Memory = def.Memory
	}
	if cfg.Prompts.DynamicTTL == 0 {
		cfg.Prompts.DynamicTTL = def.Prompts.DynamicTTL
	}
	if cfg.Prompts.DynamicTimeout == 0 {
		cfg.Prompts.DynamicTimeout = def.Prompts.DynamicTimeout
	}
	if cfg.Storage.History == (history.Config{}) {
		cfg.Storage.History = def.Storage.History
	}
	if cfg.Storage.MaxUploadBytes == 0 {
		cfg.Storage.MaxUploadBytes = def.Storage.MaxUploadBytes
	}
	if cfg.Policy.Mode == "" {
		cfg.Policy.Mode = def.Policy.Mode
	}
	if cfg.Policy.Block == nil {
		cfg.Policy.Block = def.Policy.Block
	}
	if cfg.Policy.MinConfidence == "" {
		cfg.Policy.MinConfidence = def.Policy.MinConfidence
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = def.Telemetry.Exporter
	}
	if cfg.Telemetry.OTelEndpoint == "" {
		cfg.Telemetry.OTelEndpoint = def.Telemetry.OTelEndpoint
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = def.Auth.Mode
	}
	return cfg
}
