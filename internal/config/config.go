package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/avermeer/fieldwork/internal/llm"
)

// EnvPrefix is the namespace prefix for all Fieldwork environment variables.
const EnvPrefix = "FIELDWORK_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	DBPath    string `yaml:"db_path"`
	ExportDir string `yaml:"export_dir"`

	// Models are provider/model_name strings, one per generation role.
	PlanModel     string `yaml:"plan_model"`
	ChatModel     string `yaml:"chat_model"`
	AnalysisModel string `yaml:"analysis_model"`

	VoiceBaseURL string `yaml:"voice_base_url"`
	VoiceAgentID string `yaml:"voice_agent_id"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets come from env vars only, never from the YAML file.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	VoiceAPIKey     string `yaml:"-"`
}

func defaults() Config {
	return Config{
		HTTPAddr:              "127.0.0.1:8080",
		DBPath:                "data/fieldwork.db",
		ExportDir:             "data/transcripts",
		PlanModel:             "openai/gpt-4o-mini",
		ChatModel:             "openai/gpt-4o-mini",
		AnalysisModel:         "openai/gpt-4o",
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

// APIKeyFor returns the configured secret for an LLM provider.
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

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv(EnvPrefix + "PLAN_MODEL"); v != "" {
		cfg.PlanModel = v
	}
	if v := os.Getenv(EnvPrefix + "CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv(EnvPrefix + "ANALYSIS_MODEL"); v != "" {
		cfg.AnalysisModel = v
	}
	if v := os.Getenv(EnvPrefix + "VOICE_BASE_URL"); v != "" {
		cfg.VoiceBaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "VOICE_AGENT_ID"); v != "" {
		cfg.VoiceAgentID = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.VoiceAPIKey = os.Getenv(EnvPrefix + "VOICE_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	for _, field := range []struct {
		name  string
		value string
	}{
		{"plan_model", cfg.PlanModel},
		{"chat_model", cfg.ChatModel},
		{"analysis_model", cfg.AnalysisModel},
	} {
		provider, _, err := llm.ParseModel(field.value)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — the role using it is disabled.", field.name, field.value))
			continue
		}
		if cfg.APIKeyFor(provider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key configured for %s provider %q — set %s%s_API_KEY.", field.name, provider, EnvPrefix, envSuffix(provider)))
		}
	}

	if cfg.VoiceBaseURL != "" && cfg.VoiceAPIKey == "" {
		warnings = append(warnings, "Voice vendor configured without an API key — set "+EnvPrefix+"VOICE_API_KEY.")
	}
	if cfg.VoiceBaseURL == "" {
		warnings = append(warnings, "Voice vendor not configured — voice interviews are disabled.")
	}

	return warnings
}

func envSuffix(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI"
	case "anthropic":
		return "ANTHROPIC"
	case "gemini":
		return "GEMINI"
	default:
		return "LLM"
	}
}
