package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "ALIAS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabaseDSN     = "alias.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultCookieName      = "alias_session"
	defaultIssuer          = "alias-auth"
	defaultTokenTTLMinutes = 60 * 24
	defaultStorageDriver   = "bolt"
	defaultStoragePath     = "alias-objects.db"
	defaultMongoDatabase   = "alias"
	defaultLLMModel        = "gpt-4o-mini"
	defaultPresenceTTL     = 45
	defaultPresenceSweep   = 15
	defaultRealtimeBuffer  = 64
	defaultSummaryWindow   = 28
)

var supportedDatabaseDrivers = map[string]struct{}{
	"sqlite":   {},
	"mysql":    {},
	"postgres": {},
}

var supportedStorageDrivers = map[string]struct{}{
	"bolt":   {},
	"gridfs": {},
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	// AllowedOrigins lists CORS origins; empty allows any origin.
	AllowedOrigins []string
	SecureCookies  bool

	DatabaseDriver       string
	DatabaseDSN          string
	DatabaseMaxOpenConns int

	SigningSecret string
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration

	LogLevel  string
	LogFormat string

	StorageDriver        string
	StoragePath          string
	StorageMongoURI      string
	StorageMongoDatabase string
	StoragePublicBaseURL string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	PresenceTTL        time.Duration
	PresenceSweep      time.Duration
	RealtimeBufferSize int
	SummaryWindowDays  int
}

// LLMEnabled reports whether summaries and translation can reach a model.
func (c AppConfig) LLMEnabled() bool {
	return strings.TrimSpace(c.LLMAPIKey) != ""
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("http.secure_cookies", false)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("database.max_open_conns", 0)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("storage.mongo_database", defaultMongoDatabase)
	configViper.SetDefault("storage.public_base_url", "")
	configViper.SetDefault("llm.model", defaultLLMModel)
	configViper.SetDefault("presence.ttl_seconds", defaultPresenceTTL)
	configViper.SetDefault("presence.sweep_seconds", defaultPresenceSweep)
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBuffer)
	configViper.SetDefault("summary.window_days", defaultSummaryWindow)

	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"auth.signing_secret", "storage.mongo_uri", "llm.base_url", "llm.api_key"} {
		_ = configViper.BindEnv(key)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       configViper.GetStringSlice("http.allowed_origins"),
		SecureCookies:        configViper.GetBool("http.secure_cookies"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		DatabaseMaxOpenConns: configViper.GetInt("database.max_open_conns"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		Issuer:               configViper.GetString("auth.issuer"),
		CookieName:           configViper.GetString("auth.cookie_name"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		StorageDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		StoragePath:          configViper.GetString("storage.path"),
		StorageMongoURI:      configViper.GetString("storage.mongo_uri"),
		StorageMongoDatabase: configViper.GetString("storage.mongo_database"),
		StoragePublicBaseURL: configViper.GetString("storage.public_base_url"),
		LLMBaseURL:           configViper.GetString("llm.base_url"),
		LLMAPIKey:            configViper.GetString("llm.api_key"),
		LLMModel:             configViper.GetString("llm.model"),
		PresenceTTL:          time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
		PresenceSweep:        time.Duration(configViper.GetInt("presence.sweep_seconds")) * time.Second,
		RealtimeBufferSize:   configViper.GetInt("realtime.buffer_size"),
		SummaryWindowDays:    configViper.GetInt("summary.window_days"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if _, ok := supportedDatabaseDrivers[c.DatabaseDriver]; !ok {
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if _, ok := supportedStorageDrivers[c.StorageDriver]; !ok {
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}
	if c.StorageDriver == "bolt" && strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("storage.path is required for the bolt driver")
	}
	if c.StorageDriver == "gridfs" && strings.TrimSpace(c.StorageMongoURI) == "" {
		return fmt.Errorf("storage.mongo_uri is required for the gridfs driver")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.PresenceTTL <= 0 || c.PresenceSweep <= 0 {
		return fmt.Errorf("presence.ttl_seconds and presence.sweep_seconds must be positive")
	}
	if c.SummaryWindowDays <= 0 {
		return fmt.Errorf("summary.window_days must be positive")
	}
	return nil
}
