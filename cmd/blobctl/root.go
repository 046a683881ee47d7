package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobfactory"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// defaultOperationTimeout bounds a single command.
const defaultOperationTimeout = 10 * time.Minute

// app holds the state shared by all commands.
type app struct {
	cfgFile string
	envFile string
	verbose bool

	cfg    *config.Config
	logger logging.Logger
	in     io.Reader
	out    io.Writer

	// connect builds the client used by a command. Replaced in tests.
	connect func(ctx context.Context, a *app) (blobclient.BlobClient, func() error, error)
}

func newApp() *app {
	return &app{
		in:      os.Stdin,
		out:     os.Stdout,
		connect: connectFactory,
	}
}

func connectFactory(ctx context.Context, a *app) (blobclient.BlobClient, func() error, error) {
	client, err := blobfactory.New(ctx, a.cfg, a.logger, blobfactory.Options{})
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "blobctl",
		Short: "Read and write blobs in any configured storage provider",
		Long: `blobctl talks to the blob store selected by BLOB_PROVIDER
(memory, disk, s3, azure, gcs, kvpbase, sql).

Settings are read from the environment, a .env file and an optional
JSON, YAML or TOML file given with --config. Environment variables win.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (.json, .yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every blob operation")

	root.AddCommand(
		newGetCmd(a),
		newCatCmd(a),
		newHeadCmd(a),
		newPutCmd(a),
		newPutManyCmd(a),
		newRmCmd(a),
		newExistsCmd(a),
		newURLCmd(a),
		newLsCmd(a),
		newEmptyCmd(a),
		newTokenCmd(a),
	)
	root.SetOut(a.out)
	root.SetIn(a.in)
	return root
}

func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	var err error
	if a.cfgFile != "" {
		a.cfg, err = config.LoadConfigFromFile(a.cfgFile)
	} else {
		a.cfg, err = config.LoadConfigFromEnv()
	}
	if err != nil {
		return err
	}

	if a.logger == nil {
		level := "warn"
		if a.verbose {
			level = "debug"
		}
		a.logger, err = logging.NewLogger(level, "console")
		if err != nil {
			return err
		}
	}
	return nil
}

// withClient runs fn with a connected client under a signal-aware timeout.
func (a *app) withClient(fn func(ctx context.Context, client blobclient.BlobClient) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	client, closeFn, err := a.connect(ctx, a)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer func() {
			if err := closeFn(); err != nil {
				a.logger.Warn("Failed to close blob client", logging.NewField("error", err))
			}
		}()
	}
	return fn(ctx, client)
}
