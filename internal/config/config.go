package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all AutoMeet environment variables.
const EnvPrefix = "AUTOMEET_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
// Per-user transcription/summarization keys live in the database, not here.
type Config struct {
	ListenAddr             string `yaml:"listen_addr"`
	DBPath                 string `yaml:"db_path"`
	WhisperModel           string `yaml:"whisper_model"`
	OpenAIModel            string `yaml:"openai_model"`
	GeminiModel            string `yaml:"gemini_model"`
	TranscribeTimeout      string `yaml:"transcribe_timeout"`
	SummarizeTimeout       string `yaml:"summarize_timeout"`
	SessionTTL             string `yaml:"session_ttl"`
	RetentionSweepInterval string `yaml:"retention_sweep_interval"`
	MicSampleRate          int    `yaml:"mic_sample_rate"`
	MicSampleRates         []int  `yaml:"mic_sample_rates"`
	MailFromName           string `yaml:"mail_from_name"`
	MailFromAddress        string `yaml:"mail_from_address"`

	// Secrets come from env vars only, never serialized to YAML.
	SendGridAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:             ":8080",
		DBPath:                 "data/automeet.db",
		WhisperModel:           "whisper-1",
		OpenAIModel:            "gpt-4o-mini",
		GeminiModel:            "gemini-1.5-flash",
		TranscribeTimeout:      "120s",
		SummarizeTimeout:       "60s",
		SessionTTL:             "720h",
		RetentionSweepInterval: "1h",
		MicSampleRate:          16000,
		MicSampleRates:         []int{48000, 44100, 32000, 24000},
		MailFromName:           "AutoMeet",
		MailFromAddress:        "no-reply@automeet.local",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedTranscribeTimeout returns TranscribeTimeout as a time.Duration,
// falling back to 120s if the value is invalid.
func (c *Config) ParsedTranscribeTimeout() time.Duration {
	return parsedDuration(c.TranscribeTimeout, 120*time.Second)
}

// ParsedSummarizeTimeout returns SummarizeTimeout as a time.Duration,
// falling back to 60s if the value is invalid.
func (c *Config) ParsedSummarizeTimeout() time.Duration {
	return parsedDuration(c.SummarizeTimeout, 60*time.Second)
}

// ParsedSessionTTL returns SessionTTL as a time.Duration, falling back to
// 30 days if the value is invalid.
func (c *Config) ParsedSessionTTL() time.Duration {
	return parsedDuration(c.SessionTTL, 720*time.Hour)
}

// ParsedRetentionSweepInterval returns RetentionSweepInterval as a
// time.Duration, falling back to 1h if the value is invalid.
func (c *Config) ParsedRetentionSweepInterval() time.Duration {
	return parsedDuration(c.RetentionSweepInterval, time.Hour)
}

func parsedDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "WHISPER_MODEL"); v != "" {
		cfg.WhisperModel = v
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv(EnvPrefix + "GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIBE_TIMEOUT"); v != "" {
		cfg.TranscribeTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARIZE_TIMEOUT"); v != "" {
		cfg.SummarizeTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv(EnvPrefix + "RETENTION_SWEEP_INTERVAL"); v != "" {
		cfg.RetentionSweepInterval = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "MAIL_FROM_NAME"); v != "" {
		cfg.MailFromName = v
	}
	if v := os.Getenv(EnvPrefix + "MAIL_FROM_ADDRESS"); v != "" {
		cfg.MailFromAddress = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.SendGridAPIKey = os.Getenv(EnvPrefix + "SENDGRID_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.SendGridAPIKey == "" {
		warnings = append(warnings, "SendGrid API key not configured: meeting summary email is disabled. Set "+EnvPrefix+"SENDGRID_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.TranscribeTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid transcribe_timeout %q, using default 120s.", cfg.TranscribeTimeout))
	}
	if _, err := time.ParseDuration(cfg.SummarizeTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid summarize_timeout %q, using default 60s.", cfg.SummarizeTimeout))
	}
	if _, err := time.ParseDuration(cfg.SessionTTL); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid session_ttl %q, using default 720h.", cfg.SessionTTL))
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
