// Package blobfactory builds the BlobClient selected by configuration and
// attaches retries and observers to it.
package blobfactory

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/azure"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/disk"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/gcs"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/kvpbase"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/s3"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/sqlstore"
	"github.com/yourorg/go-blob-kit/pkg/blobevents"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
	"github.com/yourorg/go-blob-kit/pkg/telemetry"
	"github.com/yourorg/go-blob-kit/pkg/utils"
)

// Options lists the optional collaborators attached as observers.
// Nil fields are skipped.
type Options struct {
	Tracer   trace.Tracer
	NewRelic *telemetry.NewRelicClient
	Events   *blobevents.Publisher
}

// Client is the decorated provider. Close releases the provider's resources.
type Client struct {
	blobclient.BlobClient
	closers []func() error
}

// Close releases provider resources such as database handles.
func (c *Client) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return stderrors.Join(errs...)
}

// New builds the configured provider. Calls pass through, outermost first,
// the observers (logging, tracing, New Relic, events) and the retrying client.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts Options) (*Client, error) {
	provider, closers, err := NewProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var client blobclient.BlobClient = provider
	if cfg.RetryMaxAttempts > 1 {
		attempts, initial, max := cfg.RetryPolicy()
		client = blobclient.NewRetryingClient(client, utils.RetryConfig{
			MaxAttempts:  attempts,
			InitialDelay: initial,
			MaxDelay:     max,
			Multiplier:   2.0,
		})
	}

	observers := []blobclient.Observer{telemetry.LoggingObserver(logger, cfg.Container)}
	if opts.Tracer != nil {
		observers = append(observers, telemetry.TracingObserver(opts.Tracer, cfg.Container))
	}
	if opts.NewRelic != nil {
		observers = append(observers, telemetry.NewRelicObserver(opts.NewRelic, cfg.Container))
	}
	if opts.Events != nil {
		observers = append(observers, opts.Events.Observer())
	}

	logger.Info("Blob client ready",
		logging.NewField("provider", cfg.Provider),
		logging.NewField("container", cfg.Container),
		logging.NewField("observers", len(observers)),
	)

	return &Client{
		BlobClient: blobclient.WithObservers(client, observers...),
		closers:    closers,
	}, nil
}

// NewProvider builds the bare provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg *config.Config, logger logging.Logger) (blobclient.BlobClient, []func() error, error) {
	switch cfg.Provider {
	case config.ProviderMemory:
		return blobclient.NewMemoryBlobClient(blobclient.MemorySettings{PageSize: cfg.PageSize}), nil, nil

	case config.ProviderDisk:
		c, err := disk.New(ctx, disk.Settings{
			Directory: cfg.Disk.Directory,
			PageSize:  cfg.PageSize,
		}, logger)
		return c, nil, err

	case config.ProviderS3:
		c, err := s3.New(ctx, s3.Settings{
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			Endpoint:     cfg.S3.Endpoint,
			BaseURL:      cfg.S3.BaseURL,
			UsePathStyle: cfg.S3.UsePathStyle,
			PageSize:     cfg.PageSize,
		}, logger)
		return c, nil, err

	case config.ProviderAzure:
		c, err := azure.New(ctx, azure.Settings{
			AccountName:        cfg.Azure.AccountName,
			AccountKey:         cfg.Azure.AccountKey,
			Container:          cfg.Azure.Container,
			Endpoint:           cfg.Azure.Endpoint,
			UseManagedIdentity: cfg.Azure.UseManagedIdentity,
			PageSize:           cfg.PageSize,
		}, logger)
		return c, nil, err

	case config.ProviderGCS:
		c, err := gcs.New(ctx, gcs.Settings{
			Bucket:          cfg.GCS.Bucket,
			CredentialsJSON: cfg.GCS.CredentialsJSON,
			Endpoint:        cfg.GCS.Endpoint,
			BaseURL:         cfg.GCS.BaseURL,
			PageSize:        cfg.PageSize,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, []func() error{c.Close}, nil

	case config.ProviderKvpbase:
		c, err := kvpbase.New(kvpbase.Settings{
			Endpoint:  cfg.Kvpbase.Endpoint,
			UserGUID:  cfg.Kvpbase.UserGUID,
			Container: cfg.Kvpbase.Container,
			APIKey:    cfg.Kvpbase.APIKey,
			Timeout:   time.Duration(cfg.HTTPReadTimeout) * time.Second,
		}, logger)
		return c, nil, err

	case config.ProviderSQL:
		c, err := sqlstore.New(ctx, sqlstore.Settings{
			Driver:   cfg.SQL.Driver,
			DSN:      cfg.SQL.DSN,
			Table:    cfg.SQL.Table,
			PageSize: cfg.PageSize,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, []func() error{c.Close}, nil

	default:
		return nil, nil, errors.Errorf(errors.ErrorCodeInvalidArgument, "unknown blob provider %q", cfg.Provider)
	}
}
