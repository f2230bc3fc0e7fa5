package config

import (
	"errors"
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *mapBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *mapBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain is a test double for the keychain reader.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.values[service+"/"+account]; ok {
		return v, nil
	}
	return "", errors.New("item not found")
}

// clearEnv blanks every RECALL_* override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_OPENAI_API_KEY", "test-key")

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4001 {
		t.Errorf("Server.MCPPort = %d, want 4001", cfg.Server.MCPPort)
	}
	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o" {
		t.Errorf("OpenAI.ChatModel = %q", cfg.OpenAI.ChatModel)
	}
	if cfg.OpenAI.EmbedModel != "text-embedding-3-small" {
		t.Errorf("OpenAI.EmbedModel = %q", cfg.OpenAI.EmbedModel)
	}
	if cfg.OpenAI.EmbedDims != 1536 {
		t.Errorf("OpenAI.EmbedDims = %d, want 1536", cfg.OpenAI.EmbedDims)
	}
	if cfg.Retrieval.Policy != "top_k" || cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.MaxDistance != 0.25 {
		t.Errorf("Retrieval.MaxDistance = %f, want 0.25", cfg.Retrieval.MaxDistance)
	}
	if cfg.Tuning.BatchSize != 10 || cfg.Tuning.Epochs != 3 {
		t.Errorf("Tuning = %+v", cfg.Tuning)
	}
	if cfg.Tuning.BaseModel != "gpt-4o-mini-2024-07-18" {
		t.Errorf("Tuning.BaseModel = %q", cfg.Tuning.BaseModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValuesApplied(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_OPENAI_API_KEY", "test-key")

	b := newMapBackend()
	b.ints["server.port"] = 9000
	b.strings["openai.chat_model"] = "gpt-4o-mini"
	b.strings["retrieval.max_distance"] = "0.4"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" {
		t.Errorf("OpenAI.ChatModel = %q", cfg.OpenAI.ChatModel)
	}
	if cfg.Retrieval.MaxDistance != 0.4 {
		t.Errorf("Retrieval.MaxDistance = %f, want 0.4", cfg.Retrieval.MaxDistance)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_OPENAI_API_KEY", "test-key")
	t.Setenv("RECALL_SERVER_PORT", "5000")
	t.Setenv("RECALL_RETRIEVAL_POLICY", "threshold")

	b := newMapBackend()
	b.ints["server.port"] = 9000
	b.strings["retrieval.policy"] = "top_k"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want env override 5000", cfg.Server.Port)
	}
	if cfg.Retrieval.Policy != "threshold" {
		t.Errorf("Retrieval.Policy = %q, want threshold", cfg.Retrieval.Policy)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{
		"recall/openai_api_key": "chain-key",
		"recall/server_token":   "chain-token",
	}}
	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.OpenAI.APIKey != "chain-key" {
		t.Errorf("OpenAI.APIKey = %q, want keychain value", cfg.OpenAI.APIKey)
	}
	if cfg.Server.Token != "chain-token" {
		t.Errorf("Server.Token = %q, want keychain value", cfg.Server.Token)
	}
}

func TestMissingAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMapBackend(), mockKeychain{})
	if err == nil {
		t.Fatal("got nil error with no API key anywhere")
	}
	if !strings.Contains(err.Error(), "RECALL_OPENAI_API_KEY") {
		t.Errorf("error does not name the env var: %v", err)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"
	cfg.Server.Token = "tok-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "openai.api_key" || info.Key == "server.token" {
			t.Errorf("secret key %q exposed by ShowAll", info.Key)
		}
		if info.Value == "sk-secret" || info.Value == "tok-secret" {
			t.Errorf("secret value leaked under key %q", info.Key)
		}
	}
}

func TestSecretAndValidKeys(t *testing.T) {
	secrets := SecretKeys()
	if len(secrets) != 2 {
		t.Fatalf("SecretKeys = %v, want the token and the API key", secrets)
	}
	for _, k := range secrets {
		for _, v := range ValidKeys() {
			if k == v {
				t.Errorf("key %q is both secret and settable", k)
			}
		}
	}
}
