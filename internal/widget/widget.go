// Package widget owns the lifecycle of one embedded chat: its storage
// adapter, its chat service and the container it mounts into a document.
package widget

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"chatbridge/internal/integrations/webhook"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/storage"
	"chatbridge/internal/usecase"
)

// Document hosts mounted containers.
type Document interface {
	Mount(c *Container) error
	Unmount(containerID string) error
}

// Descriptor is what the front-end needs to render a container.
type Descriptor struct {
	ContainerID string `json:"containerId"`
	AgentName   string `json:"agentName"`
	LogoURL     string `json:"logoUrl,omitempty"`
	ThemeMode   string `json:"themeMode"`
	FormFactor  string `json:"formFactor"`
	Visible     bool   `json:"visible"`
	SessionID   string `json:"sessionId"`
}

// Container is the mounted surface of an Instance.
type Container struct {
	ID   string
	Chat *usecase.ChatService

	desc    Descriptor
	visible atomic.Bool
	session func() string
}

func (c *Container) Visible() bool {
	return c.visible.Load()
}

func (c *Container) Describe() Descriptor {
	d := c.desc
	d.Visible = c.Visible()
	if c.session != nil {
		d.SessionID = c.session()
	}
	return d
}

type Option func(*options)

type options struct {
	store      kvstore.Store
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// WithStore supplies the key-value store behind durable storage. The
// instance owns it once Create succeeds and closes it on Destroy.
func WithStore(s kvstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger replaces the logger built from Config.EnableDebugLogging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Instance is a created widget.
type Instance struct {
	cfg       Config
	doc       Document
	container *Container
	store     kvstore.Store
	logger    *slog.Logger

	mu        sync.Mutex
	sessionID string
	started   map[string]struct{}
	destroyed bool
}

// Create validates cfg, builds the storage adapter and chat service, and
// mounts a visible container into doc.
func Create(cfg Config, doc Document, opts ...Option) (*Instance, error) {
	if doc == nil {
		return nil, errors.New("widget: document must not be nil")
	}
	cfg, kind, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New(cfg.EnableDebugLogging, os.Stderr)
	}
	logger := o.logger.With("containerId", cfg.ContainerID)

	if kind == storage.TypeDurable && o.store == nil {
		return nil, &ConfigError{Field: "storageType", Reason: "durable requires a key-value store"}
	}
	adapter, err := storage.New(kind, o.store, logger)
	if err != nil {
		return nil, fmt.Errorf("widget: create storage adapter: %w", err)
	}

	hook, err := webhook.NewClient(webhook.Config{
		URL:             cfg.WebhookURL,
		Method:          cfg.WebhookConfig.Method,
		Headers:         cfg.WebhookConfig.Headers,
		EnableStreaming: cfg.EnableStreaming,
	}, webhook.WithHTTPClient(o.httpClient), webhook.WithLogger(logger), webhook.WithMetrics(o.metrics))
	if err != nil {
		return nil, &ConfigError{Field: "webhookUrl", Reason: err.Error()}
	}

	inst := &Instance{
		cfg:     cfg,
		doc:     doc,
		store:   o.store,
		logger:  logger,
		started: make(map[string]struct{}),
	}

	chat, err := usecase.NewChatService(hook, adapter,
		usecase.WithLogger(logger),
		usecase.WithMetrics(o.metrics),
		usecase.WithHooks(usecase.Hooks{
			SessionChanged: inst.setSession,
			SessionStarted: inst.sessionStarted,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("widget: create chat service: %w", err)
	}

	inst.container = &Container{
		ID:   cfg.ContainerID,
		Chat: chat,
		desc: Descriptor{
			ContainerID: cfg.ContainerID,
			AgentName:   cfg.AgentName,
			LogoURL:     cfg.LogoURL,
			ThemeMode:   cfg.Theme.Mode,
			FormFactor:  formFactor(cfg.Mode),
		},
		session: inst.GetSessionID,
	}
	inst.container.visible.Store(true)

	if err := doc.Mount(inst.container); err != nil {
		return nil, fmt.Errorf("widget: mount container %q: %w", cfg.ContainerID, err)
	}
	logger.Debug("widget created", "storageType", kind, "formFactor", inst.container.desc.FormFactor)
	return inst, nil
}

// Open shows the container.
func (i *Instance) Open() {
	i.container.visible.Store(true)
}

// Close hides the container. Its state is kept.
func (i *Instance) Close() {
	i.container.visible.Store(false)
}

// Destroy unmounts the container and releases the key-value store. Calling
// it again is a no-op.
func (i *Instance) Destroy() error {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil
	}
	i.destroyed = true
	i.mu.Unlock()

	i.container.visible.Store(false)
	var errs []error
	if err := i.doc.Unmount(i.container.ID); err != nil {
		errs = append(errs, fmt.Errorf("widget: unmount container %q: %w", i.container.ID, err))
	}
	if i.store != nil {
		if err := i.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("widget: close store: %w", err))
		}
	}
	i.logger.Debug("widget destroyed")
	return errors.Join(errs...)
}

// GetSessionID returns the id of the thread most recently created, selected
// or processed, or "" before any.
func (i *Instance) GetSessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sessionID
}

func (i *Instance) Container() *Container {
	return i.container
}

func (i *Instance) setSession(threadID string) {
	i.mu.Lock()
	i.sessionID = threadID
	i.mu.Unlock()
}

func (i *Instance) sessionStarted(threadID string) {
	i.mu.Lock()
	_, seen := i.started[threadID]
	i.started[threadID] = struct{}{}
	i.mu.Unlock()
	if seen || i.cfg.OnSessionStart == nil {
		return
	}
	i.cfg.OnSessionStart(threadID)
}
