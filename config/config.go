package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort              = "8140"
	DefaultTokenTTL          = 480 * time.Second
	DefaultTokenEndpoint     = "https://{region}.api.cognitive.microsoft.com/sts/v1.0/issuetoken"
	DefaultSynthesisEndpoint = "https://{region}.tts.speech.microsoft.com/cognitiveservices/v1"
	DefaultOutputFormat      = "riff-48khz-16bit-mono-pcm"
	DefaultUserAgent         = "speech-relay-backend"

	TokenStoreFile   = "file"
	TokenStoreMemory = "memory"
)

// ErrMissingCredentials is returned when the subscription key or region is unset.
var ErrMissingCredentials = errors.New("subscription key or region not set")

// Config is the relay's full runtime configuration.
type Config struct {
	Port string `yaml:"port"`

	SubscriptionKey string `yaml:"subscription_key"`
	Region          string `yaml:"region"`

	// Origins allowed to call the relay. Empty rejects every cross-origin request.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Public disables the origin and referer checks.
	Public bool `yaml:"public"`

	TokenStore   string        `yaml:"token_store"`
	TokenFile    string        `yaml:"token_file"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	ErrorLogFile string        `yaml:"error_log_file"`

	TokenTimeout     time.Duration `yaml:"token_timeout"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`

	TokenEndpoint     string `yaml:"token_endpoint"`
	SynthesisEndpoint string `yaml:"synthesis_endpoint"`
	OutputFormat      string `yaml:"output_format"`
	UserAgent         string `yaml:"user_agent"`

	Defaults  Defaults        `yaml:"defaults"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Log       LogConfig       `yaml:"log"`
}

// Defaults are substituted for form fields the caller leaves out.
type Defaults struct {
	Text   string `yaml:"text"`
	Voice  string `yaml:"voice"`
	Style  string `yaml:"style"`
	Role   string `yaml:"role"`
	Rate   string `yaml:"rate"`
	Volume string `yaml:"volume"`
}

// RateLimitConfig limits requests per client IP. RPM <= 0 disables it.
type RateLimitConfig struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

// MonitorConfig controls the /ws event stream.
type MonitorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	TokenFile string `yaml:"token_file"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a config with every field set to its built-in value.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		TokenStore:        TokenStoreFile,
		TokenFile:         "data/access_token.json",
		TokenTTL:          DefaultTokenTTL,
		ErrorLogFile:      "data/error_header.json",
		TokenTimeout:      10 * time.Second,
		SynthesisTimeout:  30 * time.Second,
		TokenEndpoint:     DefaultTokenEndpoint,
		SynthesisEndpoint: DefaultSynthesisEndpoint,
		OutputFormat:      DefaultOutputFormat,
		UserAgent:         DefaultUserAgent,
		Defaults: Defaults{
			Voice:  "zh-CN-YunxiaNeural",
			Style:  "cheerful",
			Role:   "Boy",
			Rate:   "1",
			Volume: "100",
		},
		RateLimit: RateLimitConfig{Burst: 5},
		Monitor: MonitorConfig{
			Enabled:   true,
			TokenFile: "/tmp/speech-relay-monitor-token",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("AZURE_SPEECH_KEY"); v != "" {
		c.SubscriptionKey = v
	}
	if v := os.Getenv("AZURE_SPEECH_REGION"); v != "" {
		c.Region = v
	}
	if v, ok := os.LookupEnv("SPEECH_RELAY_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("SPEECH_RELAY_PUBLIC"); v != "" {
		c.Public = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SPEECH_RELAY_TOKEN_FILE"); v != "" {
		c.TokenFile = v
	}
	if v := os.Getenv("SPEECH_RELAY_ERROR_LOG"); v != "" {
		c.ErrorLogFile = v
	}
}

// fillDefaults restores built-in values for fields a config file blanked.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.TokenStore == "" {
		c.TokenStore = def.TokenStore
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = def.TokenTTL
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = def.TokenEndpoint
	}
	if c.SynthesisEndpoint == "" {
		c.SynthesisEndpoint = def.SynthesisEndpoint
	}
	if c.OutputFormat == "" {
		c.OutputFormat = def.OutputFormat
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks values that would make the relay unusable.
// Missing credentials are not an error here: the relay reports them per request.
func (c *Config) Validate() error {
	switch c.TokenStore {
	case TokenStoreFile:
		if c.TokenFile == "" {
			return errors.New("token_file is required for the file token store")
		}
	case TokenStoreMemory:
	default:
		return fmt.Errorf("unknown token_store %q", c.TokenStore)
	}
	if c.TokenTTL < time.Second {
		return fmt.Errorf("token_ttl must be at least 1s, got %s", c.TokenTTL)
	}
	if c.TokenTimeout < 0 || c.SynthesisTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// HasCredentials reports whether both the subscription key and region are set.
func (c *Config) HasCredentials() bool {
	return c.SubscriptionKey != "" && c.Region != ""
}

// Endpoint substitutes region into an endpoint template.
func Endpoint(template, region string) string {
	return strings.ReplaceAll(template, "{region}", region)
}

// Apply configures the global logrus logger.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch l.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
