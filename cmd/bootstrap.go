package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chatbridge/internal/config"
	"chatbridge/internal/httpapi"
	"chatbridge/internal/integrations/paramstore"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/widget"
)

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	doc      *httpapi.Document
	widget   *widget.Instance
}

func (a *app) close() {
	if err := a.widget.Destroy(); err != nil {
		a.logger.Error("failed to destroy widget", "err", err)
	}
}

func bootstrap(ctx context.Context, configPath string, envFiles []string) (*app, error) {
	// ---- Configuration ----
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Widget.EnableDebugLogging, os.Stderr)
	slog.SetDefault(logger)

	// ---- AWS SDK config, loaded only when a component needs it ----
	loadAWS := sync.OnceValues(func() (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})

	if cfg.Webhook.HeadersParam != "" {
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		if err := cfg.ResolveSecretHeaders(ctx, ssmClient); err != nil {
			return nil, err
		}
	}

	// ---- Storage ----
	var store kvstore.Store
	if cfg.Durable() {
		store, err = openStore(cfg.Storage, loadAWS)
		if err != nil {
			return nil, err
		}
	}

	// ---- Metrics ----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}

	// ---- Widget ----
	doc := httpapi.NewDocument()
	onSessionStart := func(sessionID string) {
		logger.Info("session started", "sessionId", sessionID)
	}
	opts := []widget.Option{widget.WithLogger(logger), widget.WithMetrics(m)}
	if store != nil {
		opts = append(opts, widget.WithStore(store))
	}
	inst, err := widget.Create(cfg.WidgetConfig(onSessionStart), doc, opts...)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: registry, doc: doc, widget: inst}, nil
}

func openStore(sc config.StorageConfig, loadAWS func() (aws.Config, error)) (kvstore.Store, error) {
	switch sc.Backend {
	case kvstore.BackendMemory:
		return kvstore.NewMemory(), nil
	case kvstore.BackendPebble:
		return kvstore.OpenPebble(sc.PebbleDir)
	case kvstore.BackendSQLite:
		return kvstore.OpenSQLite(sc.SQLitePath)
	case kvstore.BackendRedis:
		return kvstore.DialRedis(sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.RedisExpiry)
	case kvstore.BackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return kvstore.NewDynamoDB(awsdynamodb.NewFromConfig(awsCfg), sc.DynamoTable, sc.DynamoTTL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func closeStore(store kvstore.Store, logger *slog.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Error("failed to close store", "err", err)
	}
}
