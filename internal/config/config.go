package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHATHUB"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Transport  TransportConfig  `mapstructure:"transport"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Generation GenerationConfig `mapstructure:"generation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	TLSCert        string   `mapstructure:"tlsCert"`
	TLSKey         string   `mapstructure:"tlsKey"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	// OperatorKeyHash is a bcrypt hash guarding the stats surface. Empty leaves it open.
	OperatorKeyHash string `mapstructure:"operatorKeyHash"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type TransportConfig struct {
	WriteWait      time.Duration `mapstructure:"writeWait"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`
	SendBuffer     int           `mapstructure:"sendBuffer"`
}

type RateLimitConfig struct {
	ConnectionsPerSecond float64 `mapstructure:"connectionsPerSecond"`
	ConnectionBurst      int     `mapstructure:"connectionBurst"`
	MessagesPerSecond    float64 `mapstructure:"messagesPerSecond"`
	MessageBurst         int     `mapstructure:"messageBurst"`
}

type ProviderConfig struct {
	APIKey string `mapstructure:"apiKey"`
	Model  string `mapstructure:"model"`
}

type GenerationConfig struct {
	Timeout         time.Duration  `mapstructure:"timeout"`
	DefaultProvider string         `mapstructure:"defaultProvider"`
	OpenAI          ProviderConfig `mapstructure:"openai"`
	Anthropic       ProviderConfig `mapstructure:"anthropic"`
	Google          ProviderConfig `mapstructure:"google"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":9876")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.operatorKeyHash", "")
	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("transport.writeWait", "10s")
	v.SetDefault("transport.maxMessageSize", 64*1024)
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("ratelimit.connectionsPerSecond", 5)
	v.SetDefault("ratelimit.connectionBurst", 10)
	v.SetDefault("ratelimit.messagesPerSecond", 10)
	v.SetDefault("ratelimit.messageBurst", 20)
	v.SetDefault("generation.timeout", "2m")
	v.SetDefault("generation.defaultProvider", "echo")
	v.SetDefault("generation.openai.apiKey", "")
	v.SetDefault("generation.openai.model", "")
	v.SetDefault("generation.anthropic.apiKey", "")
	v.SetDefault("generation.anthropic.model", "")
	v.SetDefault("generation.google.apiKey", "")
	v.SetDefault("generation.google.model", "")
	v.SetDefault("storage.path", "gochat.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from defaults, an optional yaml file in the working
// directory and CHATHUB_* environment variables, in increasing precedence.
func Load(fileName string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy and vendor-conventional names.
	_ = v.BindEnv("auth.secret", EnvPrefix+"_AUTH_SECRET", "APP_SECRET")
	_ = v.BindEnv("generation.openai.apiKey", EnvPrefix+"_GENERATION_OPENAI_APIKEY", "OPENAI_API_KEY")
	_ = v.BindEnv("generation.anthropic.apiKey", EnvPrefix+"_GENERATION_ANTHROPIC_APIKEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("generation.google.apiKey", EnvPrefix+"_GENERATION_GOOGLE_APIKEY", "GEMINI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret must be set (APP_SECRET)")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive, got %s", c.Heartbeat.Interval)
	}
	if c.Transport.WriteWait <= 0 {
		return fmt.Errorf("transport.writeWait must be positive, got %s", c.Transport.WriteWait)
	}
	if c.Transport.SendBuffer <= 0 {
		return fmt.Errorf("transport.sendBuffer must be positive, got %d", c.Transport.SendBuffer)
	}
	if c.Generation.Timeout < 0 {
		return fmt.Errorf("generation.timeout must not be negative, got %s", c.Generation.Timeout)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tlsCert and server.tlsKey must be set together")
	}
	return nil
}
