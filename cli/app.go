package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerlink/config"
	"peerlink/crypto"
	"peerlink/feed"
	"peerlink/logging"
	"peerlink/models"
	"peerlink/storage"
)

const vaultAppID = "peerlink"

// app is the process-wide state shared by every subcommand.
type app struct {
	cfg     *config.DeviceConfig
	cfgPath string
	dataDir string
	dbPath  string

	log   *zap.Logger
	store *storage.Store
	hub   *feed.Hub

	out io.Writer
	in  io.Reader
}

func openApp(cmd *cobra.Command, flags *rootFlags) (*app, error) {
	cfg, cfgPath, dataDir, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger, err := logging.New(level)
	if err != nil {
		return nil, err
	}

	secret, err := crypto.EnsureMasterSecret(cfg.VaultSecretPath)
	if err != nil {
		return nil, fmt.Errorf("prepare vault secret: %w", err)
	}
	vault, err := crypto.NewVault(secret, vaultAppID)
	if err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}

	store, dbPath, err := storage.Open(dataDir, vault)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		dataDir: dataDir,
		dbPath:  dbPath,
		log:     logger.With(zap.String("device", cfg.DeviceID)),
		store:   store,
		hub:     feed.NewHub(),
		out:     cmd.OutOrStdout(),
		in:      cmd.InOrStdin(),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("database close error", zap.Error(err))
	}
	_ = a.log.Sync()
}

// serveFeed starts the websocket feed when asked to.
func (a *app) serveFeed(ctx context.Context, flags *rootFlags) {
	if !flags.feed {
		return
	}
	address := a.cfg.FeedAddress
	if flags.feedAddr != "" {
		address = flags.feedAddr
	}
	go func() {
		if err := feed.Serve(ctx, address, a.hub, a.log); err != nil {
			a.log.Warn("feed stopped", zap.Error(err))
		}
	}()
	fmt.Fprintf(a.out, "Feed:            ws://%s%s\n", address, feed.EventsPath)
}

// onMessage prints an inbound message and forwards it to the feed.
func (a *app) onMessage(message models.Message) {
	fmt.Fprintf(a.out, "< [%s] %s\n", message.PeerID, message.Body)
	a.hub.PublishMessage(message)
}

func runApp(flags *rootFlags, run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return run(ctx, a, args)
	}
}
