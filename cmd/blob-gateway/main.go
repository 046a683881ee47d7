package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yourorg/go-blob-kit/pkg/blobevents"
	"github.com/yourorg/go-blob-kit/pkg/blobfactory"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/httpservice"
	"github.com/yourorg/go-blob-kit/pkg/jwt"
	"github.com/yourorg/go-blob-kit/pkg/logging"
	"github.com/yourorg/go-blob-kit/pkg/servicebusclient"
	"github.com/yourorg/go-blob-kit/pkg/telemetry"
)

type options struct {
	cfgFile string
	envFile string
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "blob-gateway",
		Short: "Serve the configured blob store over HTTP",
		Long: `blob-gateway exposes the blob store selected by BLOB_PROVIDER under
/v1/:user/:container. Settings come from the environment, a .env file and an
optional JSON, YAML or TOML file given with --config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logging.Sync(logger)

			if err := run(cfg, logger); err != nil {
				logger.Error("Gateway stopped", logging.NewField("error", err))
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&o.cfgFile, "config", os.Getenv("CONFIG_FILE"), "config file (.json, .yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	return root
}

func (o *options) load() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if o.cfgFile != "" {
		return config.LoadConfigFromFile(o.cfgFile)
	}
	return config.LoadConfigFromEnv()
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting blob gateway",
		logging.NewField("version", cfg.AppVersion),
		logging.NewField("provider", cfg.Provider),
	)

	var opts blobfactory.Options

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
			ServiceName:    cfg.AppName,
			ServiceVersion: cfg.AppVersion,
			Environment:    cfg.Environment,
			Endpoint:       cfg.OTLPEndpoint,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Tracer shutdown failed", logging.NewField("error", err))
			}
		}()
		opts.Tracer = telemetry.Tracer()
	}

	newRelic, err := telemetry.NewNewRelicClient(telemetry.NewRelicConfig{
		LicenseKey:  cfg.NewRelicLicenseKey,
		AppName:     cfg.AppName,
		ServiceName: "blob_gateway",
		Enabled:     cfg.NewRelicEnabled,
	}, logger)
	if err != nil {
		return err
	}
	defer newRelic.Shutdown(10 * time.Second)
	opts.NewRelic = newRelic

	slack := telemetry.NewSlackClient(telemetry.SlackConfig{
		WebhookURL:  cfg.SlackWebhookURL,
		ServiceName: "blob_gateway",
		Channel:     cfg.SlackChannel,
		Enabled:     cfg.SlackWebhookURL != "",
	}, logger)

	if cfg.EventsEnabled {
		bus, err := servicebusclient.NewAzureServiceBusClient(
			cfg.ServiceBusNamespace,
			cfg.ServiceBusKeyName,
			cfg.ServiceBusKeyValue,
			cfg.ServiceBusKeyName == "",
			logger,
		)
		if err != nil {
			return err
		}
		defer func() {
			if err := bus.Close(context.Background()); err != nil {
				logger.Warn("Service Bus close failed", logging.NewField("error", err))
			}
		}()

		queue := cfg.ServiceBusQueue
		if cfg.ServiceBusTopic != "" {
			queue = cfg.ServiceBusTopic
		}
		opts.Events = blobevents.NewPublisher(bus, queue, cfg.Container, logger)
	}

	backend, err := blobfactory.New(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Blob client close failed", logging.NewField("error", err))
		}
	}()

	auth := httpservice.AuthConfig{APIKeys: cfg.APIKeys}
	if cfg.JWTSecret != "" {
		auth.JWT, err = jwt.NewJWTServiceFromConfig(jwt.Config{SecretKey: cfg.JWTSecret}, logger)
		if err != nil {
			return err
		}
	}
	if len(auth.APIKeys) == 0 && auth.JWT == nil {
		logger.Warn("No API keys or JWT secret configured, the gateway accepts anonymous requests")
	}

	server, err := httpservice.NewServer(httpservice.ServerConfig{
		Port:                 cfg.HTTPPort,
		ServiceName:          cfg.AppName,
		ReadTimeout:          time.Duration(cfg.HTTPReadTimeout) * time.Second,
		WriteTimeout:         time.Duration(cfg.HTTPWriteTimeout) * time.Second,
		IdleTimeout:          time.Duration(cfg.HTTPIdleTimeout) * time.Second,
		Logger:               logger,
		RateLimitRPS:         cfg.RateLimitRPS,
		RateLimitBurst:       cfg.RateLimitBurst,
		MaxBodySize:          cfg.HTTPMaxBodySize,
		SlowRequestThreshold: cfg.SlowRequestThreshold,
		Telemetry:            newRelic,
		Slack:                slack,
	}, httpservice.NewBlobHandler(httpservice.PrefixResolver{Backend: backend}, auth))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
