package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RECALL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "RECALL_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.token", typ: kString, env: "RECALL_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "openai.api_key", typ: kString, env: "RECALL_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "RECALL_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "RECALL_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.embed_model", typ: kString, env: "RECALL_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.embed_dims", typ: kInt, env: "RECALL_OPENAI_EMBED_DIMS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedDims = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedDims },
	},
	{
		key: "retrieval.policy", typ: kString, env: "RECALL_RETRIEVAL_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Policy = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Policy },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "RECALL_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.max_distance", typ: kFloat, env: "RECALL_RETRIEVAL_MAX_DISTANCE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxDistance = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxDistance },
	},
	{
		key: "tuning.batch_size", typ: kInt, env: "RECALL_TUNING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Tuning.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Tuning.BatchSize },
	},
	{
		key: "tuning.base_model", typ: kString, env: "RECALL_TUNING_BASE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Tuning.BaseModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Tuning.BaseModel },
	},
	{
		key: "tuning.epochs", typ: kInt, env: "RECALL_TUNING_EPOCHS",
		apply:   func(cfg *Config, v any) { cfg.Tuning.Epochs = v.(int) },
		extract: func(cfg Config) any { return cfg.Tuning.Epochs },
	},
	{
		key: "tuning.suffix", typ: kString, env: "RECALL_TUNING_SUFFIX",
		apply:   func(cfg *Config, v any) { cfg.Tuning.Suffix = v.(string) },
		extract: func(cfg Config) any { return cfg.Tuning.Suffix },
	},
	{
		key: "tuning.system_prompt", typ: kString, env: "RECALL_TUNING_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Tuning.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Tuning.SystemPrompt },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RECALL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "RECALL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
