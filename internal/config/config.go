package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Retrieval RetrievalConfig
	Tuning    TuningConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	Token   string
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
	EmbedDims  int
}

type RetrievalConfig struct {
	Policy      string
	TopK        int
	MaxDistance float64
}

type TuningConfig struct {
	BatchSize    int
	BaseModel    string
	Epochs       int
	Suffix       string
	SystemPrompt string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o",
			EmbedModel: "text-embedding-3-small",
			EmbedDims:  1536,
		},
		Retrieval: RetrievalConfig{
			Policy:      "top_k",
			TopK:        5,
			MaxDistance: 0.25,
		},
		Tuning: TuningConfig{
			BatchSize:    10,
			BaseModel:    "gpt-4o-mini-2024-07-18",
			Epochs:       3,
			Suffix:       "recall",
			SystemPrompt: "You are a polite customer support assistant.",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.recall.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/recall/config.json
// and secrets live in a secrets file or environment variables.
//
// Environment variables (RECALL_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for secrets still empty.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get("recall", "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}
	if cfg.Server.Token == "" {
		if token, err := kc.Get("recall", "server_token"); err == nil && token != "" {
			cfg.Server.Token = token
		}
	}

	if cfg.OpenAI.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable RECALL_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
