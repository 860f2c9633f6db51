package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidVoices lists the output voices known to the realtime API. Used by
// [Validate] to warn about likely typos; an unknown name is not an error
// because providers add voices faster than this list is updated.
var ValidVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Upstream
	if cfg.Upstream.APIKeyEnv == "" {
		errs = append(errs, errors.New("upstream.api_key_env is required"))
	} else if os.Getenv(cfg.Upstream.APIKeyEnv) == "" {
		slog.Warn("upstream API key environment variable is not set", "env", cfg.Upstream.APIKeyEnv)
	}

	// Assistant
	if cfg.Assistant.TurnDetection != "" && !cfg.Assistant.TurnDetection.IsValid() {
		errs = append(errs, fmt.Errorf("assistant.turn_detection %q is invalid; valid values: server_vad, none", cfg.Assistant.TurnDetection))
	}
	if cfg.Assistant.Temperature < 0 || cfg.Assistant.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", cfg.Assistant.Temperature))
	}
	if cfg.Assistant.MaxResponseTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_response_tokens %d must not be negative", cfg.Assistant.MaxResponseTokens))
	}
	if cfg.Assistant.Voice != "" && !slices.Contains(ValidVoices, cfg.Assistant.Voice) {
		slog.Warn("unknown assistant voice; may be a typo or a newly added voice",
			"voice", cfg.Assistant.Voice,
			"known", ValidVoices,
		)
	}
	if cfg.Assistant.Instructions == "" {
		slog.Warn("assistant.instructions is empty; the assistant will use the provider's default persona")
	}

	// Relay
	if cfg.Relay.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("relay.tool_timeout %s must not be negative", cfg.Relay.ToolTimeout))
	}

	// Catalog
	if cfg.Catalog.PostgresDSN == "" {
		slog.Warn("catalog.postgres_dsn is empty; product search tools will fail until a catalog store is configured")
	}
	if cfg.Catalog.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("catalog.embedding_dimensions %d must not be negative", cfg.Catalog.EmbeddingDimensions))
	}
	if cfg.Embeddings.Model != "" && cfg.Catalog.EmbeddingDimensions == 0 {
		slog.Warn("embeddings.model is configured but catalog.embedding_dimensions is not set; defaulting to 1536")
	}

	// Try-on
	if cfg.TryOn.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("tryon.max_failures %d must not be negative", cfg.TryOn.MaxFailures))
	}
	if cfg.TryOn.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("tryon.cooldown %s must not be negative", cfg.TryOn.Cooldown))
	}
	if cfg.TryOn.BaseURL == "" {
		slog.Warn("tryon.base_url is empty; the virtual_try_on tool will report failures instead of images")
	}

	return errors.Join(errs...)
}
