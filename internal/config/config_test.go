package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "DB_PATH",
		"WHISPER_MODEL", "OPENAI_MODEL", "GEMINI_MODEL",
		"TRANSCRIBE_TIMEOUT", "SUMMARIZE_TIMEOUT", "SESSION_TTL",
		"RETENTION_SWEEP_INTERVAL",
		"MIC_SAMPLE_RATE", "MIC_SAMPLE_RATES",
		"MAIL_FROM_NAME", "MAIL_FROM_ADDRESS",
		"SENDGRID_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "data/automeet.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.WhisperModel != "whisper-1" {
		t.Fatalf("expected default whisper_model, got %q", cfg.WhisperModel)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("expected default openai_model, got %q", cfg.OpenAIModel)
	}
	if cfg.GeminiModel != "gemini-1.5-flash" {
		t.Fatalf("expected default gemini_model, got %q", cfg.GeminiModel)
	}
	if cfg.ParsedTranscribeTimeout() != 120*time.Second {
		t.Fatalf("expected default transcribe timeout 120s, got %s", cfg.ParsedTranscribeTimeout())
	}
	if cfg.ParsedSummarizeTimeout() != 60*time.Second {
		t.Fatalf("expected default summarize timeout 60s, got %s", cfg.ParsedSummarizeTimeout())
	}
	if cfg.MicSampleRate != 16000 {
		t.Fatalf("expected default mic_sample_rate 16000, got %d", cfg.MicSampleRate)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
listen_addr: 127.0.0.1:9090
db_path: /custom/automeet.sqlite
whisper_model: whisper-large
openai_model: gpt-4o
gemini_model: gemini-2.0-flash
transcribe_timeout: 90s
summarize_timeout: 45s
session_ttl: 24h
retention_sweep_interval: 30m
mic_sample_rate: 48000
mic_sample_rates: [44100, 32000]
mail_from_name: Meetings
mail_from_address: meetings@example.com
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("expected yaml listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "/custom/automeet.sqlite" {
		t.Fatalf("expected yaml db_path, got %q", cfg.DBPath)
	}
	if cfg.WhisperModel != "whisper-large" {
		t.Fatalf("expected yaml whisper_model, got %q", cfg.WhisperModel)
	}
	if cfg.ParsedTranscribeTimeout() != 90*time.Second {
		t.Fatalf("expected yaml transcribe timeout 90s, got %s", cfg.ParsedTranscribeTimeout())
	}
	if cfg.ParsedSummarizeTimeout() != 45*time.Second {
		t.Fatalf("expected yaml summarize timeout 45s, got %s", cfg.ParsedSummarizeTimeout())
	}
	if cfg.ParsedSessionTTL() != 24*time.Hour {
		t.Fatalf("expected yaml session ttl 24h, got %s", cfg.ParsedSessionTTL())
	}
	if cfg.ParsedRetentionSweepInterval() != 30*time.Minute {
		t.Fatalf("expected yaml sweep interval 30m, got %s", cfg.ParsedRetentionSweepInterval())
	}
	if !reflect.DeepEqual(cfg.MicSampleRates, []int{44100, 32000}) {
		t.Fatalf("expected yaml mic_sample_rates, got %v", cfg.MicSampleRates)
	}
	if cfg.MailFromAddress != "meetings@example.com" {
		t.Fatalf("expected yaml mail_from_address, got %q", cfg.MailFromAddress)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("db_path: /from/yaml.db\nopenai_model: gpt-4o\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvPrefix+"DB_PATH", "/from/env.db")
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATES", "22050, 8000, 22050")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env.db" {
		t.Fatalf("expected env db_path to win, got %q", cfg.DBPath)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Fatalf("expected yaml openai_model to survive, got %q", cfg.OpenAIModel)
	}
	if !reflect.DeepEqual(cfg.MicSampleRates, []int{22050, 8000}) {
		t.Fatalf("expected deduplicated env sample rates, got %v", cfg.MicSampleRates)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"SENDGRID_API_KEY", "sg-secret")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SendGridAPIKey != "sg-secret" {
		t.Fatalf("expected secret from env, got %q", cfg.SendGridAPIKey)
	}
	for _, w := range warnings {
		if strings.Contains(w, "SendGrid") {
			t.Fatalf("unexpected SendGrid warning with key set: %q", w)
		}
	}
}

func TestValidateWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"TRANSCRIBE_TIMEOUT", "soon")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var sawMail, sawTimeout bool
	for _, w := range warnings {
		if strings.Contains(w, "SendGrid") {
			sawMail = true
		}
		if strings.Contains(w, "transcribe_timeout") {
			sawTimeout = true
		}
	}
	if !sawMail {
		t.Fatal("expected warning about missing SendGrid key")
	}
	if !sawTimeout {
		t.Fatal("expected warning about invalid transcribe_timeout")
	}
}

func TestSampleRateCandidates(t *testing.T) {
	cfg := defaults()
	cfg.MicSampleRate = 44100
	cfg.MicSampleRates = []int{8000, 44100}

	got := cfg.SampleRateCandidates()
	want := []int{44100, 8000, 16000, 48000, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected candidates %v, got %v", want, got)
	}
}
