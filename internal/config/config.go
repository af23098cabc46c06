package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration marks missing credentials or invalid settings. It is fatal
// at startup and never produced per request.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	DefaultProvider  string                    `yaml:"default_provider" mapstructure:"default_provider"`
	FallbackProvider string                    `yaml:"fallback_provider" mapstructure:"fallback_provider"`
	DefaultModel     string                    `yaml:"default_model" mapstructure:"default_model"`
	Providers        map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Routing          RoutingConfig             `yaml:"routing" mapstructure:"routing"`
	Retrieval        RetrievalConfig           `yaml:"retrieval" mapstructure:"retrieval"`
	Memory           MemoryConfig              `yaml:"memory" mapstructure:"memory"`
	Embedding        EmbeddingConfig           `yaml:"embedding" mapstructure:"embedding"`
	Server           ServerConfig              `yaml:"server" mapstructure:"server"`
	Storage          StorageConfig             `yaml:"storage" mapstructure:"storage"`
	Redis            RedisConfig               `yaml:"redis" mapstructure:"redis"`
	Log              LogConfig                 `yaml:"log" mapstructure:"log"`
	TemplatesDir     string                    `yaml:"templates_dir" mapstructure:"templates_dir"`
	RequestTimeout   time.Duration             `yaml:"request_timeout" mapstructure:"request_timeout"`
}

type ProviderConfig struct {
	Type    string `yaml:"type" mapstructure:"type"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// PrefixRule maps model identifiers starting with Prefix to Provider.
type PrefixRule struct {
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Provider string `yaml:"provider" mapstructure:"provider"`
}

type RoutingConfig struct {
	PrefixRules []PrefixRule      `yaml:"prefix_rules" mapstructure:"prefix_rules"`
	Models      map[string]string `yaml:"models" mapstructure:"models"`
}

type RetrievalConfig struct {
	Backend             string        `yaml:"backend" mapstructure:"backend"` // "memory" | "sqlite"
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
	TokenBudget         int           `yaml:"token_budget" mapstructure:"token_budget"`
	SearchLimit         int           `yaml:"search_limit" mapstructure:"search_limit"`
	Overfetch           int           `yaml:"overfetch" mapstructure:"overfetch"`
	MinSimilarity       float64       `yaml:"min_similarity" mapstructure:"min_similarity"`
	RedundancyThreshold float64       `yaml:"redundancy_threshold" mapstructure:"redundancy_threshold"`
	IsolationThreshold  float64       `yaml:"isolation_threshold" mapstructure:"isolation_threshold"`
	MaxSentences        int           `yaml:"max_sentences" mapstructure:"max_sentences"`
}

type MemoryConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"` // "memory" | "redis"
	MaxInsights     int           `yaml:"max_insights" mapstructure:"max_insights"`
	MaxInsightRunes int           `yaml:"max_insight_runes" mapstructure:"max_insight_runes"`
	MaxSummaryRunes int           `yaml:"max_summary_runes" mapstructure:"max_summary_runes"`
	DedupThreshold  float64       `yaml:"dedup_threshold" mapstructure:"dedup_threshold"`
	SessionTTL      time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "hash" | "ollama" | "openai"
	Model    string `yaml:"model" mapstructure:"model"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	Dims     int    `yaml:"dims" mapstructure:"dims"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
	File   string `yaml:"file" mapstructure:"file"`
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// DefaultPrefixRules is the family routing table used when the config file
// does not define its own.
func DefaultPrefixRules() []PrefixRule {
	return []PrefixRule{
		{Prefix: "claude", Provider: "anthropic"},
		{Prefix: "gpt-", Provider: "openai"},
		{Prefix: "chatgpt", Provider: "openai"},
		{Prefix: "o1", Provider: "openai"},
		{Prefix: "o3", Provider: "openai"},
		{Prefix: "o4", Provider: "openai"},
		{Prefix: "gemini", Provider: "google"},
		{Prefix: "llama", Provider: "ollama"},
		{Prefix: "qwen", Provider: "ollama"},
		{Prefix: "mistral", Provider: "ollama"},
		{Prefix: "phi", Provider: "ollama"},
		{Prefix: "deepseek", Provider: "ollama"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		DefaultProvider:  "ollama",
		FallbackProvider: "ollama",
		DefaultModel:     "qwen2.5:7b",
		Providers: map[string]ProviderConfig{
			"ollama":    {Type: "ollama", BaseURL: "http://localhost:11434"},
			"openai":    {Type: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "$OPENAI_API_KEY", Model: "gpt-4o-mini"},
			"anthropic": {Type: "anthropic", APIKey: "$ANTHROPIC_API_KEY", Model: "claude-3-5-sonnet-20241022"},
			"google":    {Type: "google", APIKey: "$GEMINI_API_KEY", Model: "gemini-1.5-flash"},
		},
		Routing: RoutingConfig{
			PrefixRules: DefaultPrefixRules(),
			Models:      map[string]string{},
		},
		Retrieval: RetrievalConfig{
			Backend:             "memory",
			Timeout:             5 * time.Second,
			TokenBudget:         1500,
			SearchLimit:         5,
			Overfetch:           4,
			MinSimilarity:       0.05,
			RedundancyThreshold: 0.8,
			IsolationThreshold:  0.35,
			MaxSentences:        4,
		},
		Memory: MemoryConfig{
			Backend:         "memory",
			MaxInsights:     20,
			MaxInsightRunes: 240,
			MaxSummaryRunes: 800,
			DedupThreshold:  0.75,
			SessionTTL:      24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			Provider: "hash",
			Dims:     256,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Path: defaultDataPath("tutor.db")},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Log:     LogConfig{Level: "info", Pretty: true},

		RequestTimeout: 60 * time.Second,
	}
}

func defaultDataPath(name string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tutor", name)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tutor", name)
}

// Load reads the config file (explicit path first, then the search paths),
// overlays TUTOR_* environment variables and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "tutor"))
		}
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "tutor"))
	}

	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("%w: read config: %v", ErrConfiguration, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", ErrConfiguration, err)
	}

	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		p.BaseURL = expandEnv(p.BaseURL)
		cfg.Providers[name] = p
	}
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ProviderFor(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// Usable reports whether a provider has the credentials its type needs.
// Unexpanded $VARS count as missing.
func (p ProviderConfig) Usable() bool {
	switch p.Type {
	case "anthropic", "google":
		return p.APIKey != "" && !strings.HasPrefix(p.APIKey, "$")
	case "openai", "ollama":
		return p.BaseURL != ""
	}
	return false
}

// Validate checks the configuration for errors and fills zero values.
func (c *Config) Validate() error {
	if c.DefaultProvider == "" {
		return fmt.Errorf("%w: default_provider is required", ErrConfiguration)
	}
	def, ok := c.Providers[c.DefaultProvider]
	if !ok {
		return fmt.Errorf("%w: default_provider %q not found in providers", ErrConfiguration, c.DefaultProvider)
	}
	if !def.Usable() {
		return fmt.Errorf("%w: default_provider %q is missing credentials", ErrConfiguration, c.DefaultProvider)
	}
	if c.FallbackProvider == "" {
		c.FallbackProvider = c.DefaultProvider
	}
	if _, ok := c.Providers[c.FallbackProvider]; !ok {
		return fmt.Errorf("%w: fallback_provider %q not found in providers", ErrConfiguration, c.FallbackProvider)
	}

	validTypes := map[string]bool{"openai": true, "anthropic": true, "google": true, "ollama": true}
	for name, p := range c.Providers {
		if !validTypes[p.Type] {
			return fmt.Errorf("%w: provider %q has invalid type %q (must be openai, anthropic, google or ollama)", ErrConfiguration, name, p.Type)
		}
		if (p.Type == "openai" || p.Type == "ollama") && p.BaseURL == "" {
			return fmt.Errorf("%w: provider %q (type %s) requires base_url", ErrConfiguration, name, p.Type)
		}
	}
	for _, r := range c.Routing.PrefixRules {
		if _, ok := c.Providers[r.Provider]; !ok {
			return fmt.Errorf("%w: prefix rule %q points to unknown provider %q", ErrConfiguration, r.Prefix, r.Provider)
		}
	}
	for model, prov := range c.Routing.Models {
		if _, ok := c.Providers[prov]; !ok {
			return fmt.Errorf("%w: model %q points to unknown provider %q", ErrConfiguration, model, prov)
		}
	}

	switch c.Retrieval.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("%w: retrieval.backend %q (must be memory or sqlite)", ErrConfiguration, c.Retrieval.Backend)
	}
	switch c.Memory.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("%w: memory.backend %q (must be memory or redis)", ErrConfiguration, c.Memory.Backend)
	}

	if c.Retrieval.TokenBudget < 1 {
		c.Retrieval.TokenBudget = 1500
	}
	if c.Retrieval.SearchLimit < 1 {
		c.Retrieval.SearchLimit = 5
	}
	if c.Memory.MaxInsights < 1 {
		c.Memory.MaxInsights = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return nil
}
