package main

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/cache"
	"github.com/fyrsmithlabs/vectord/internal/config"
	"github.com/fyrsmithlabs/vectord/internal/keyval"
	"github.com/fyrsmithlabs/vectord/internal/logging"
	"github.com/fyrsmithlabs/vectord/internal/provider"
	"github.com/fyrsmithlabs/vectord/internal/telemetry"
	"github.com/fyrsmithlabs/vectord/internal/tenant"
	"github.com/fyrsmithlabs/vectord/internal/vector"
)

// app holds the shared infrastructure every subcommand needs: config,
// logger, NATS, the key-value bucket, the provider chain and the
// stores built on them.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	ns *natsserver.Server
	nc *nats.Conn
	js nats.JetStreamContext

	kv       keyval.Store
	store    *vector.Store
	cache    *cache.Cache
	chain    *provider.Chain
	registry *tenant.Registry

	shutdownTelemetry func(context.Context) error
}

// newApp initializes shared infrastructure from the config file.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    a.cfg.Telemetry.Endpoint,
		ServiceName: a.cfg.Telemetry.ServiceName,
		Insecure:    a.cfg.Telemetry.Insecure,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown

	if err := a.connectNATS(); err != nil {
		return err
	}

	kv, err := keyval.NewBucket(a.js, keyval.BucketConfig{Bucket: a.cfg.NATS.Bucket}, a.logger)
	if err != nil {
		return fmt.Errorf("opening key-value bucket: %w", err)
	}
	a.kv = kv

	storeOpts := []vector.StoreOption{}
	if a.cfg.Mirror.Host != "" {
		mirror, err := vector.NewMirror(ctx, vector.MirrorConfig{
			Host:       a.cfg.Mirror.Host,
			Port:       a.cfg.Mirror.Port,
			Collection: a.cfg.Mirror.Collection,
			VectorSize: uint64(a.cfg.Providers.Dimension),
			UseTLS:     a.cfg.Mirror.UseTLS,
		}, a.logger)
		if err != nil {
			// The mirror is best-effort; the pipeline runs without it.
			a.logger.Warn("vector mirror unavailable, continuing without it", zap.Error(err))
		} else {
			storeOpts = append(storeOpts, vector.WithMirror(mirror))
		}
	}

	a.store, err = vector.NewStore(a.kv, a.logger, storeOpts...)
	if err != nil {
		return err
	}

	if err := a.buildChain(); err != nil {
		return err
	}

	if err := a.buildCache(); err != nil {
		return err
	}

	a.registry, err = tenant.NewRegistry(a.cfg.Tenants, a.kv, a.logger)
	return err
}

// connectNATS connects to the configured server, starting an embedded
// JetStream server first when so configured.
func (a *app) connectNATS() error {
	url := a.cfg.NATS.URL

	if a.cfg.NATS.Embedded {
		ns, err := natsserver.NewServer(&natsserver.Options{
			Port:      -1,
			JetStream: true,
			StoreDir:  a.cfg.NATS.StoreDir,
		})
		if err != nil {
			return fmt.Errorf("creating embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			return fmt.Errorf("embedded NATS server did not become ready")
		}
		a.ns = ns
		url = ns.ClientURL()
		a.logger.Info("embedded NATS server started", zap.String("url", url))
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	a.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("getting JetStream context: %w", err)
	}
	a.js = js
	return nil
}

// buildChain assembles the provider chain: the remote primary followed
// by the always-available local projection fallback.
func (a *app) buildChain() error {
	primary, err := provider.NewHTTPProvider(provider.HTTPConfig{
		Name:      a.cfg.Providers.Primary.Name,
		BaseURL:   a.cfg.Providers.Primary.BaseURL,
		Model:     a.cfg.Providers.Primary.Model,
		APIKey:    a.cfg.Providers.Primary.APIKey,
		Timeout:   a.cfg.Providers.Primary.Timeout,
		Dimension: a.cfg.Providers.Dimension,
	})
	if err != nil {
		return fmt.Errorf("creating primary provider: %w", err)
	}

	fallback, err := provider.NewProjectionProvider(provider.ProjectionConfig{
		Dimension: a.cfg.Providers.Dimension,
	})
	if err != nil {
		return fmt.Errorf("creating fallback provider: %w", err)
	}

	a.chain, err = provider.NewChain([]provider.Embedder{primary, fallback}, a.logger)
	return err
}

func (a *app) buildCache() error {
	projector, err := provider.NewProjectionProvider(provider.ProjectionConfig{
		Dimension: a.cfg.Providers.Dimension,
	})
	if err != nil {
		return err
	}

	approx, err := cache.NewApproxIndex(projector, a.cfg.Cache.SimilarityThreshold, a.logger)
	if err != nil {
		return err
	}

	a.cache, err = cache.New(a.kv, cache.Config{TTL: a.cfg.Cache.TTL}, a.logger,
		cache.WithApproxIndex(approx))
	return err
}

// Close tears down infrastructure in reverse order of initialization.
func (a *app) Close() {
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("closing key-value store failed", zap.Error(err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("draining NATS connection failed", zap.Error(err))
		}
	}
	if a.ns != nil {
		a.ns.Shutdown()
		a.ns.WaitForShutdown()
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTelemetry(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
