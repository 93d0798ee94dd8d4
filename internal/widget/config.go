package widget

import (
	"fmt"
	"strings"

	"chatbridge/internal/storage"
)

const (
	DefaultAgentName   = "Assistant"
	DefaultContainerID = "chat-root"

	ModeFullscreen = "fullscreen"
	ModeSidepanel  = "sidepanel"

	ThemeLight = "light"
	ThemeDark  = "dark"

	FormFactorFullPage  = "full-page"
	FormFactorSidePanel = "side-panel"
)

// WebhookConfig is the request shape sent to the webhook.
type WebhookConfig struct {
	Method  string
	Headers map[string]string
}

type Theme struct {
	Mode string
}

// Config is the host-supplied widget configuration. Only WebhookURL is
// required.
type Config struct {
	WebhookURL      string
	WebhookConfig   WebhookConfig
	EnableStreaming bool

	// StorageType is "none" (default) or "durable"; "localstorage" is
	// accepted as an alias of "durable".
	StorageType string

	AgentName string
	LogoURL   string
	Theme     Theme
	// Mode is "fullscreen" (default) or "sidepanel".
	Mode string

	// OnSessionStart fires once per thread, when its first message is processed.
	OnSessionStart func(sessionID string)

	EnableDebugLogging bool
	ContainerID        string
}

// ConfigError reports a configuration rejected by Create.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("widget: invalid config: %s %s", e.Field, e.Reason)
}

// normalize validates cfg and fills in defaults.
func (cfg Config) normalize() (Config, storage.Type, error) {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.WebhookURL == "" {
		return cfg, "", &ConfigError{Field: "webhookUrl", Reason: "is required"}
	}

	kind, err := storage.ParseType(cfg.StorageType)
	if err != nil {
		return cfg, "", &ConfigError{Field: "storageType", Reason: fmt.Sprintf("%q is not supported", cfg.StorageType)}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeFullscreen:
		cfg.Mode = ModeFullscreen
	case ModeSidepanel:
		cfg.Mode = ModeSidepanel
	default:
		return cfg, "", &ConfigError{Field: "mode", Reason: fmt.Sprintf("%q is not supported", cfg.Mode)}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Theme.Mode)) {
	case "", ThemeLight:
		cfg.Theme.Mode = ThemeLight
	case ThemeDark:
		cfg.Theme.Mode = ThemeDark
	default:
		return cfg, "", &ConfigError{Field: "theme.mode", Reason: fmt.Sprintf("%q is not supported", cfg.Theme.Mode)}
	}

	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = DefaultAgentName
	}
	if strings.TrimSpace(cfg.ContainerID) == "" {
		cfg.ContainerID = DefaultContainerID
	}
	return cfg, kind, nil
}

func formFactor(mode string) string {
	if mode == ModeSidepanel {
		return FormFactorSidePanel
	}
	return FormFactorFullPage
}
