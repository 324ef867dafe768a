package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	sublink "github.com/sublink-app/sublink"
	"github.com/sublink-app/sublink/domain"
)

// ServerConfig holds all configuration for the server. Tags use mapstructure
// for Viper unmarshalling and environment variable binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// TokenCipherKey is the base64url-encoded 32-byte key for token
	// encryption at rest.
	TokenCipherKey string `mapstructure:"TOKEN_CIPHER_KEY"`

	VideoClientID     string `mapstructure:"VIDEO_CLIENT_ID"`
	VideoClientSecret string `mapstructure:"VIDEO_CLIENT_SECRET"`
	VideoAuthURL      string `mapstructure:"VIDEO_AUTH_URL"`
	VideoTokenURL     string `mapstructure:"VIDEO_TOKEN_URL"`
	VideoScopes       string `mapstructure:"VIDEO_SCOPES"`
	VideoRedirectURI  string `mapstructure:"VIDEO_REDIRECT_URI"`

	AudioClientID     string `mapstructure:"AUDIO_CLIENT_ID"`
	AudioClientSecret string `mapstructure:"AUDIO_CLIENT_SECRET"`
	AudioAuthURL      string `mapstructure:"AUDIO_AUTH_URL"`
	AudioTokenURL     string `mapstructure:"AUDIO_TOKEN_URL"`
	AudioScopes       string `mapstructure:"AUDIO_SCOPES"`
	AudioRedirectURI  string `mapstructure:"AUDIO_REDIRECT_URI"`

	MailClientID     string `mapstructure:"MAIL_CLIENT_ID"`
	MailClientSecret string `mapstructure:"MAIL_CLIENT_SECRET"`
	MailAuthURL      string `mapstructure:"MAIL_AUTH_URL"`
	MailTokenURL     string `mapstructure:"MAIL_TOKEN_URL"`
	MailScopes       string `mapstructure:"MAIL_SCOPES"`
	MailRedirectURI  string `mapstructure:"MAIL_REDIRECT_URI"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/sublink/")
	v.AddConfigPath("$HOME/.sublink")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/sublink_dev")
	v.SetDefault("MONGO_DB_NAME", "sublink_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "sublink")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "sublink-server")

	v.SetDefault("VIDEO_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("VIDEO_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("VIDEO_SCOPES", "https://www.googleapis.com/auth/youtube.readonly")

	v.SetDefault("AUDIO_AUTH_URL", "https://accounts.spotify.com/authorize")
	v.SetDefault("AUDIO_TOKEN_URL", "https://accounts.spotify.com/api/token")
	v.SetDefault("AUDIO_SCOPES", "user-library-read user-read-playback-position")

	v.SetDefault("MAIL_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("MAIL_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("MAIL_SCOPES", "https://www.googleapis.com/auth/gmail.readonly")

	// Secrets have no sane defaults, but viper only unmarshals keys it
	// knows about; registering them empty makes the env bindings take.
	for _, key := range []string{
		"REDIS_PASSWORD", "TOKEN_CIPHER_KEY",
		"VIDEO_CLIENT_ID", "VIDEO_CLIENT_SECRET", "VIDEO_REDIRECT_URI",
		"AUDIO_CLIENT_ID", "AUDIO_CLIENT_SECRET", "AUDIO_REDIRECT_URI",
		"MAIL_CLIENT_ID", "MAIL_CLIENT_SECRET", "MAIL_REDIRECT_URI",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("REDIS_DB", 0)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// CipherKey decodes the configured token encryption key.
func (c *ServerConfig) CipherKey() ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(c.TokenCipherKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_CIPHER_KEY is not valid base64url: %w", err)
	}
	return key, nil
}

// ProviderConfigs assembles the per-provider OAuth settings for the
// registry.
func (c *ServerConfig) ProviderConfigs() map[domain.Provider]sublink.ProviderConfig {
	return map[domain.Provider]sublink.ProviderConfig{
		domain.ProviderVideo: {
			ClientID:        c.VideoClientID,
			ClientSecret:    c.VideoClientSecret,
			AuthURL:         c.VideoAuthURL,
			TokenURL:        c.VideoTokenURL,
			Scopes:          strings.Fields(c.VideoScopes),
			RedirectURI:     c.VideoRedirectURI,
			ExtraAuthParams: sublink.DefaultExtraAuthParams(domain.ProviderVideo),
		},
		domain.ProviderAudio: {
			ClientID:        c.AudioClientID,
			ClientSecret:    c.AudioClientSecret,
			AuthURL:         c.AudioAuthURL,
			TokenURL:        c.AudioTokenURL,
			Scopes:          strings.Fields(c.AudioScopes),
			RedirectURI:     c.AudioRedirectURI,
			ExtraAuthParams: sublink.DefaultExtraAuthParams(domain.ProviderAudio),
		},
		domain.ProviderMail: {
			ClientID:        c.MailClientID,
			ClientSecret:    c.MailClientSecret,
			AuthURL:         c.MailAuthURL,
			TokenURL:        c.MailTokenURL,
			Scopes:          strings.Fields(c.MailScopes),
			RedirectURI:     c.MailRedirectURI,
			ExtraAuthParams: sublink.DefaultExtraAuthParams(domain.ProviderMail),
		},
	}
}
