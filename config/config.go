package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultSystemPrompt is the persona preamble prepended to every completion request.
const DefaultSystemPrompt = `You are an empathetic and supportive virtual therapist trained in cognitive-behavioral therapy (CBT) techniques. Your role is to help users navigate their emotions, provide thoughtful guidance, and encourage self-reflection.

1. Format all responses using Markdown for better readability.
2. Use a warm, non-judgmental tone and validate emotions.
3. Offer solution-focused suggestions but do not diagnose.
4. If a user expresses distress, gently suggest seeking professional help.
5. If a question is unrelated to emotions, therapy, or mental well-being, respond with:
'I'm here to help with emotions and mental well-being. If you're looking for something else, I might not be the best fit, but I'm happy to support your feelings!'

6. Keep responses insightful, engaging, and supportive.`

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider     string `mapstructure:"provider"` // "openai", "anthropic" or "gemini"
	Model        string `mapstructure:"model"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"` // Name of the environment variable holding the API key
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// CreditPlan is a purchasable credit package.
type CreditPlan struct {
	ID      string `mapstructure:"id" json:"id"`
	Amount  int    `mapstructure:"amount" json:"amount"`
	Price   string `mapstructure:"price" json:"price"`
	Popular bool   `mapstructure:"popular" json:"popular"`
}

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string
	}
	Database struct {
		DSN string // "memory" or a file path for SQLite
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Guest struct {
		MessageLimit int    `mapstructure:"message_limit"`
		Store        string `mapstructure:"store"` // "database" or "redis"
	}
	Auth struct {
		JWTSecret     string        `mapstructure:"jwt_secret"`
		TokenTTL      time.Duration `mapstructure:"token_ttl"`
		SignupCredits int           `mapstructure:"signup_credits"`
	}
	RateLimit struct {
		RPS   float64 `mapstructure:"rps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
	Log struct {
		Level  string
		Format string // "pretty" or "json"
	}
	LLM         LLMConfig    `mapstructure:"llm"`
	CreditPlans []CreditPlan `mapstructure:"credit_plans"`
}

// providerDefaults holds the model and API key variable used when llm.model
// or llm.api_key are not configured.
var providerDefaults = map[string]struct{ model, keyEnv string }{
	"openai":    {"gpt-4-turbo", "OPENAI_API_KEY"},
	"anthropic": {"claude-sonnet-4-5", "ANTHROPIC_API_KEY"},
	"gemini":    {"gemini-2.0-flash", "GOOGLE_API_KEY"},
}

// AppConfig is the global configuration instance.
var AppConfig Config

// DefaultCreditPlans mirrors the packages sold on the billing page.
func DefaultCreditPlans() []CreditPlan {
	return []CreditPlan{
		{ID: "starter", Amount: 35, Price: "$10"},
		{ID: "standard", Amount: 100, Price: "$45", Popular: true},
		{ID: "pro", Amount: 300, Price: "$80"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.dsn", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("guest.message_limit", 10)
	v.SetDefault("guest.store", "database")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.signup_credits", 50)
	v.SetDefault("rate_limit.rps", 2)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")
	v.SetDefault("llm.provider", "openai")
	// Empty so env overrides bind; Load fills them per provider.
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 1024)
}

// Load reads configuration from the given viper instance's search paths,
// environment variables and defaults.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.AddConfigPath("../config")
	v.SetEnvPrefix("NEURONEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		log.Warn().Str("component", "Config").Msg("config.yaml not found, using environment variables and defaults")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
		log.Info().Str("component", "Config").Str("port", port).Msg("server port overridden by SERVER_PORT")
	}

	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if d, ok := providerDefaults[cfg.LLM.Provider]; ok {
		if cfg.LLM.Model == "" {
			cfg.LLM.Model = d.model
		}
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = d.keyEnv
		}
	}

	// llm.api_key names the environment variable holding the key.
	envName := cfg.LLM.APIKey
	if envValue := os.Getenv(envName); envName != "" && envValue != "" {
		cfg.LLM.APIKey = envValue
		log.Info().Str("component", "Config").Str("provider", cfg.LLM.Provider).Str("env", envName).Msg("loaded provider API key from environment")
	} else if envName == "" || strings.HasSuffix(envName, "_KEY") {
		cfg.LLM.APIKey = ""
		log.Warn().Str("component", "Config").Str("provider", cfg.LLM.Provider).Str("env", envName).Msg("provider API key is not set")
	}

	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = DefaultSystemPrompt
	}
	if len(cfg.CreditPlans) == 0 {
		cfg.CreditPlans = DefaultCreditPlans()
	}
	if cfg.Guest.MessageLimit < 0 {
		cfg.Guest.MessageLimit = 0
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Str("component", "Config").Msg("auth.jwt_secret is empty, authenticated identities are disabled")
	}
	return cfg, nil
}

// LoadConfig populates AppConfig and exits on unrecoverable errors.
func LoadConfig() {
	cfg, err := Load(viper.New())
	if err != nil {
		log.Fatal().Err(err).Str("component", "Config").Msg("failed to load configuration")
	}
	AppConfig = cfg
	log.Info().Str("component", "Config").Msg("configuration loading complete")
}

// FindCreditPlan returns the plan with the given ID.
func (c Config) FindCreditPlan(id string) (CreditPlan, bool) {
	for _, p := range c.CreditPlans {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPlan{}, false
}
