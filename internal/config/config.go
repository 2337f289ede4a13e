package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all callsync environment variables.
const EnvPrefix = "CALLSYNC_"

// Config holds all application configuration. Secrets (API keys, CRM token)
// are loaded exclusively from environment variables and never appear in the
// config file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	// Models use the provider/model_name form understood by llm.ParseModel.
	ExtractionModel  string `yaml:"extraction_model"`
	SuggestionsModel string `yaml:"suggestions_model"`

	SuggestionInterval string `yaml:"suggestion_interval"`
	SweepInterval      string `yaml:"sweep_interval"`
	SweepBatchSize     int    `yaml:"sweep_batch_size"`
	RetryConcurrency   int    `yaml:"retry_concurrency"`

	HubSpotBaseURL string `yaml:"hubspot_base_url"`

	// SelfSpeaker is the caption speaker label of the user; their own
	// turns never request suggestions.
	SelfSpeaker string `yaml:"self_speaker"`
	ArchiveDir  string `yaml:"archive_dir"`

	Extraction ExtractionContext `yaml:"extraction"`

	// Copilot-only settings.
	IngestURL      string `yaml:"ingest_url"`
	UserID         string `yaml:"user_id"`
	MicSampleRate  int    `yaml:"mic_sample_rate"`
	MicSampleRates []int  `yaml:"mic_sample_rates"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets come from env vars only and are never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	HubSpotToken    string `yaml:"-"`
}

// ExtractionContext is optional business context handed to the entity
// extractor alongside every transcript.
type ExtractionContext struct {
	SystemPrompt string `yaml:"system_prompt"`
	SalesScript  string `yaml:"sales_script"`
	CompanyDocs  string `yaml:"company_docs"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/callsync.db",
		ExtractionModel:       "openai/gpt-4o-mini",
		SuggestionsModel:      "openai/gpt-4o-mini",
		SuggestionInterval:    "5s",
		SweepInterval:         "5m",
		SweepBatchSize:        10,
		RetryConcurrency:      4,
		HubSpotBaseURL:        "https://api.hubapi.com",
		ArchiveDir:            "data/archive",
		IngestURL:             "http://127.0.0.1:8080",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		GoogleCredentialsFile: "./service-account.json",
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

// ParsedSuggestionInterval returns SuggestionInterval as a time.Duration,
// falling back to 5s if the value is invalid.
func (c *Config) ParsedSuggestionInterval() time.Duration {
	return parseDurationOr(c.SuggestionInterval, 5*time.Second)
}

// ParsedSweepInterval returns SweepInterval as a time.Duration, falling back
// to 5m if the value is invalid.
func (c *Config) ParsedSweepInterval() time.Duration {
	return parseDurationOr(c.SweepInterval, 5*time.Minute)
}

// APIKeyFor returns the secret for an LLM provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
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
	stringOverrides := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"DB_PATH":                 &cfg.DBPath,
		"EXTRACTION_MODEL":        &cfg.ExtractionModel,
		"SUGGESTIONS_MODEL":       &cfg.SuggestionsModel,
		"SUGGESTION_INTERVAL":     &cfg.SuggestionInterval,
		"SWEEP_INTERVAL":          &cfg.SweepInterval,
		"HUBSPOT_BASE_URL":        &cfg.HubSpotBaseURL,
		"SELF_SPEAKER":            &cfg.SelfSpeaker,
		"ARCHIVE_DIR":             &cfg.ArchiveDir,
		"INGEST_URL":              &cfg.IngestURL,
		"USER_ID":                 &cfg.UserID,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for key, dst := range stringOverrides {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	intOverrides := map[string]*int{
		"SWEEP_BATCH_SIZE":  &cfg.SweepBatchSize,
		"RETRY_CONCURRENCY": &cfg.RetryConcurrency,
		"MIC_SAMPLE_RATE":   &cfg.MicSampleRate,
	}
	for key, dst := range intOverrides {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.HubSpotToken = os.Getenv(EnvPrefix + "HUBSPOT_TOKEN")
}

func validate(cfg *Config) []string {
	var warnings []string

	if provider, _, ok := strings.Cut(cfg.ExtractionModel, "/"); ok && cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for extraction provider %q. Calls will be stored but not processed.", provider))
	}
	if provider, _, ok := strings.Cut(cfg.SuggestionsModel, "/"); ok && cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for suggestions provider %q. Live suggestions are disabled.", provider))
	}
	if cfg.HubSpotToken == "" {
		warnings = append(warnings, "HubSpot token not configured. CRM sync is disabled. Set "+EnvPrefix+"HUBSPOT_TOKEN.")
	}
	if _, err := time.ParseDuration(cfg.SuggestionInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid suggestion_interval %q, using default 5s.", cfg.SuggestionInterval))
	}
	if _, err := time.ParseDuration(cfg.SweepInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid sweep_interval %q, using default 5m.", cfg.SweepInterval))
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 10
	}
	if cfg.RetryConcurrency <= 0 {
		cfg.RetryConcurrency = 4
	}

	return warnings
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
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
