package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/moalsayed95/zalanko/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
upstream:
  model: gpt-4o-realtime-preview
  api_key_env: OPENAI_API_KEY
assistant:
  instructions: "You are a helpful shopping assistant."
  voice: alloy
  turn_detection: server_vad
  temperature: 0.8
  max_response_tokens: 4096
relay:
  tool_timeout: 30s
catalog:
  postgres_dsn: "postgres://localhost/zalanko"
  embedding_dimensions: 1536
embeddings:
  model: text-embedding-3-small
tryon:
  base_url: "http://localhost:9100"
  max_failures: 5
  cooldown: 30s
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Relay.ToolTimeout != 30*time.Second {
		t.Errorf("tool_timeout = %s", cfg.Relay.ToolTimeout)
	}
	if cfg.Assistant.TurnDetection != config.TurnDetectionServerVAD {
		t.Errorf("turn_detection = %q", cfg.Assistant.TurnDetection)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
upstream:
  api_key_env: OPENAI_API_KEY
  api_secret: oops
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingAPIKeyEnv(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing upstream.api_key_env, got nil")
	}
	if !strings.Contains(err.Error(), "api_key_env") {
		t.Errorf("error should mention api_key_env, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
upstream:
  api_key_env: OPENAI_API_KEY
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidTurnDetection(t *testing.T) {
	t.Parallel()
	yaml := `
upstream:
  api_key_env: OPENAI_API_KEY
assistant:
  turn_detection: client_vad
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid turn_detection, got nil")
	}
	if !strings.Contains(err.Error(), "turn_detection") {
		t.Errorf("error should mention turn_detection, got: %v", err)
	}
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
upstream:
  api_key_env: OPENAI_API_KEY
assistant:
  temperature: 3.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for temperature out of range, got nil")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should mention temperature, got: %v", err)
	}
}

func TestValidate_IncompleteTLS(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/tls/server.crt
upstream:
  api_key_env: OPENAI_API_KEY
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
assistant:
  turn_detection: client_vad
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "turn_detection") {
		t.Errorf("error should report all failures, got: %v", err)
	}
}

func TestSessionConfig_MapsAssistantSettings(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sc := cfg.SessionConfig()
	if sc.Instructions != "You are a helpful shopping assistant." {
		t.Errorf("instructions = %q", sc.Instructions)
	}
	if sc.Voice != "alloy" || sc.TurnDetection != "server_vad" {
		t.Errorf("voice = %q, turn_detection = %q", sc.Voice, sc.TurnDetection)
	}
	if sc.Temperature != 0.8 || sc.MaxTokens != 4096 {
		t.Errorf("temperature = %v, max tokens = %d", sc.Temperature, sc.MaxTokens)
	}
	if len(sc.Tools) != 0 {
		t.Errorf("tools = %v, want none (attached by the relay)", sc.Tools)
	}
}
