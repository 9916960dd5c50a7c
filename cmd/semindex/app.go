package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/semindex"
	"github.com/hupe1980/semindex/embed"
	"github.com/hupe1980/semindex/embed/openai"
	semprom "github.com/hupe1980/semindex/metrics/prometheus"
	"github.com/hupe1980/semindex/remote"
	"github.com/hupe1980/semindex/remote/minio"
	"github.com/hupe1980/semindex/remote/s3"
	"github.com/hupe1980/semindex/snapshot"
	"github.com/hupe1980/semindex/storage"
)

func newLogger(cfg *Config) (*semindex.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return semindex.NewLogger(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return semindex.NewLogger(slog.NewTextHandler(os.Stderr, opts)), nil
}

// embedder returns the backend, its model id and dims.
func embedder(cfg EmbedConfig) (embed.Backend, string, int, error) {
	switch cfg.Provider {
	case "openai":
		b, err := openai.New(openai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dims,
		})
		if err != nil {
			return nil, "", 0, err
		}
		return b, b.ModelID(), cfg.Dims, nil
	default:
		dims := cfg.Dims
		if dims == 0 {
			dims = 256
		}
		model := cfg.Model
		if model == "" {
			model = semindex.HashModelID
		}
		return embed.NewHashBackend(dims), model, dims, nil
	}
}

// indexOptions translates cfg into Open options.
func indexOptions(cfg *Config, logger *semindex.Logger) ([]semindex.Option, error) {
	backend, model, dims, err := embedder(cfg.Embed)
	if err != nil {
		return nil, err
	}
	mode, err := semindex.ParseMode(cfg.Search.Mode)
	if err != nil {
		return nil, err
	}
	search := semindex.DefaultSearchOptions()
	search.K = cfg.Search.K
	search.Mode = mode
	search.LexicalWeight = cfg.Search.LexicalWeight
	search.DenseWeight = cfg.Search.DenseWeight

	opts := []semindex.Option{
		semindex.WithLogger(logger),
		semindex.WithEmbedder(backend, model, dims),
		semindex.WithExtensions(cfg.Index.Extensions...),
		semindex.WithIgnore(cfg.Index.Ignore...),
		semindex.WithMemoryLimit(cfg.Index.MemoryLimitMB << 20),
		semindex.WithIORate(cfg.Index.IORate),
		semindex.WithReconcileInterval(cfg.Index.ReconcileInterval),
		semindex.WithPersistEvery(cfg.Index.PersistEvery),
		semindex.WithSearchDefaults(search),
		semindex.WithRoot(cfg.Root),
	}
	if cfg.IndexDir != "" {
		if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
			return nil, err
		}
		opts = append(opts, semindex.WithIndexStore(storage.NewLocalStore(cfg.IndexDir)))
	}
	return opts, nil
}

// openIndex opens the index described by cfg. The returned close function
// also stops the metrics endpoint.
func openIndex(ctx context.Context, cfg *Config, reconcile bool) (*semindex.Index, func() error, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts, err := indexOptions(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if !reconcile {
		opts = append(opts, semindex.WithReconcileInterval(0))
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		collector, err := semprom.New(reg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, semindex.WithMetricsCollector(collector))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	idx, err := semindex.Open(ctx, storage.NewLocalStore(cfg.Docs), opts...)
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return nil, nil, err
	}

	closeFn := func() error {
		err := idx.Close()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = errors.Join(err, srv.Shutdown(shutdownCtx))
		}
		return err
	}
	return idx, closeFn, nil
}

// remoteStore builds the snapshot store described by cfg.
func remoteStore(ctx context.Context, cfg RemoteConfig) (remote.Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("remote.bucket must be set")
	}
	switch cfg.Kind {
	case "s3":
		var optFns []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
		}
		return s3.New(ctx, cfg.Bucket, "", optFns...)
	case "minio":
		if cfg.Endpoint == "" {
			return nil, errors.New("remote.endpoint must be set for minio")
		}
		client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		return minio.NewStore(client, cfg.Bucket, ""), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Kind)
	}
}

// snapshotOptions returns the prefix and codec options for export and import.
func snapshotOptions(cfg RemoteConfig, prefix string) ([]snapshot.Option, error) {
	codec, err := snapshot.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = cfg.Prefix
	}
	return []snapshot.Option{snapshot.WithPrefix(prefix), snapshot.WithCodec(codec)}, nil
}
