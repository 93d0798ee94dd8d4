// Package config assembles the bridge configuration from an optional YAML
// file, .env files and the process environment, in increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chatbridge/internal/integrations/paramstore"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/storage"
	"chatbridge/internal/widget"
)

type Config struct {
	HTTPAddr string        `yaml:"httpAddr"`
	Webhook  WebhookConfig `yaml:"webhook"`
	Widget   WidgetConfig  `yaml:"widget"`
	Storage  StorageConfig `yaml:"storage"`
}

type WebhookConfig struct {
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method"`
	Headers         map[string]string `yaml:"headers"`
	EnableStreaming bool              `yaml:"enableStreaming"`
	// HeadersParam names an SSM parameter holding extra headers as a JSON
	// object. Its headers win over Headers.
	HeadersParam string `yaml:"headersParam"`
}

type WidgetConfig struct {
	AgentName          string `yaml:"agentName"`
	LogoURL            string `yaml:"logoUrl"`
	ThemeMode          string `yaml:"themeMode"`
	Mode               string `yaml:"mode"`
	ContainerID        string `yaml:"containerId"`
	EnableDebugLogging bool   `yaml:"enableDebugLogging"`
}

type StorageConfig struct {
	Type    string `yaml:"type"`
	Backend string `yaml:"backend"`

	PebbleDir  string `yaml:"pebbleDir"`
	SQLitePath string `yaml:"sqlitePath"`

	DynamoTable string        `yaml:"dynamoTable"`
	DynamoTTL   time.Duration `yaml:"dynamoTTL"`

	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	RedisExpiry   time.Duration `yaml:"redisExpiry"`
}

func defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		Storage: StorageConfig{
			Type:       string(storage.TypeNone),
			Backend:    kvstore.BackendPebble,
			PebbleDir:  "data/pebble",
			SQLitePath: "data/chatbridge.db",
		},
	}
}

// LoadDotEnv loads the given .env files into the environment. Missing files
// are skipped; variables already set are kept.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")

	setString(&cfg.Webhook.URL, "WEBHOOK_URL")
	setString(&cfg.Webhook.Method, "WEBHOOK_METHOD")
	setString(&cfg.Webhook.HeadersParam, "WEBHOOK_HEADERS_PARAM")

	setString(&cfg.Widget.AgentName, "AGENT_NAME")
	setString(&cfg.Widget.LogoURL, "LOGO_URL")
	setString(&cfg.Widget.ThemeMode, "THEME_MODE")
	setString(&cfg.Widget.Mode, "WIDGET_MODE")
	setString(&cfg.Widget.ContainerID, "CONTAINER_ID")

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.PebbleDir, "PEBBLE_DIR")
	setString(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Storage.DynamoTable, "STATE_TABLE")
	setString(&cfg.Storage.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Storage.RedisPassword, "REDIS_PASSWORD")

	return errors.Join(
		setBool(&cfg.Webhook.EnableStreaming, "ENABLE_STREAMING"),
		setBool(&cfg.Widget.EnableDebugLogging, "ENABLE_DEBUG_LOGGING"),
		setInt(&cfg.Storage.RedisDB, "REDIS_DB"),
		setDuration(&cfg.Storage.DynamoTTL, "STATE_TTL"),
		setDuration(&cfg.Storage.RedisExpiry, "REDIS_EXPIRY"),
	)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks the settings Create and the storage backends depend on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Webhook.URL) == "" {
		return errors.New("config: webhook url is required (WEBHOOK_URL)")
	}
	kind, err := storage.ParseType(c.Storage.Type)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	backend, err := kvstore.ParseBackend(c.Storage.Backend)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Storage.Backend = backend
	if kind != storage.TypeDurable {
		return nil
	}
	switch backend {
	case kvstore.BackendDynamoDB:
		if c.Storage.DynamoTable == "" {
			return errors.New("config: dynamodb backend requires a table (STATE_TABLE)")
		}
	case kvstore.BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("config: redis backend requires an address (REDIS_ADDR)")
		}
	case kvstore.BackendPebble:
		if c.Storage.PebbleDir == "" {
			return errors.New("config: pebble backend requires a directory (PEBBLE_DIR)")
		}
	case kvstore.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("config: sqlite backend requires a path (SQLITE_PATH)")
		}
	}
	return nil
}

// Durable reports whether the configured storage type needs a key-value store.
func (c Config) Durable() bool {
	kind, err := storage.ParseType(c.Storage.Type)
	return err == nil && kind == storage.TypeDurable
}

// ResolveSecretHeaders merges the headers stored in Webhook.HeadersParam over
// the configured ones. It is a no-op when no parameter is configured.
func (c *Config) ResolveSecretHeaders(ctx context.Context, g paramstore.Getter) error {
	if c.Webhook.HeadersParam == "" {
		return nil
	}
	secret, err := paramstore.StringMap(ctx, g, c.Webhook.HeadersParam)
	if err != nil {
		return fmt.Errorf("config: resolve webhook headers: %w", err)
	}
	// Header names are case-insensitive; canonical keys keep the secret value
	// from being shadowed by a differently cased configured one.
	merged := make(map[string]string, len(c.Webhook.Headers)+len(secret))
	for k, v := range c.Webhook.Headers {
		merged[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range secret {
		merged[http.CanonicalHeaderKey(k)] = v
	}
	c.Webhook.Headers = merged
	return nil
}

// WidgetConfig maps the loaded settings onto a widget configuration.
func (c Config) WidgetConfig(onSessionStart func(string)) widget.Config {
	return widget.Config{
		WebhookURL: c.Webhook.URL,
		WebhookConfig: widget.WebhookConfig{
			Method:  c.Webhook.Method,
			Headers: c.Webhook.Headers,
		},
		EnableStreaming:    c.Webhook.EnableStreaming,
		StorageType:        c.Storage.Type,
		AgentName:          c.Widget.AgentName,
		LogoURL:            c.Widget.LogoURL,
		Theme:              widget.Theme{Mode: c.Widget.ThemeMode},
		Mode:               c.Widget.Mode,
		OnSessionStart:     onSessionStart,
		EnableDebugLogging: c.Widget.EnableDebugLogging,
		ContainerID:        c.Widget.ContainerID,
	}
}
