package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/phone"
	"github.com/dgnsrekt/sunshine-watchsync/internal/transport"
	"github.com/dgnsrekt/sunshine-watchsync/internal/wear"
	"github.com/dgnsrekt/sunshine-watchsync/internal/worker"
)

func watchCmd() *cobra.Command {
	var loopback bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the watch face sync engine",
		Long: `Run the watch side: connect to the phone, request weather while the
face has none and keep the face state current as data arrives.

Examples:
  # Connect to a phone on the default URL
  sunshine watch

  # Run phone and watch in one process over an in-memory channel
  sunshine watch --loopback -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if loopback {
				return runLoopback(cmd.Context())
			}
			return runWatch(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&loopback, "loopback", false, "run an in-process phone over an in-memory channel")

	return cmd
}

func runWatch(ctx context.Context) error {
	assetURL, err := cfg.Watch.ResolvedAssetURL()
	if err != nil {
		return err
	}

	codec, err := transport.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()

	client := transport.NewClient(transport.ClientConfig{
		NodeID:         channel.PeerID(cfg.NodeID),
		URL:            cfg.Watch.ProducerURL,
		AssetURL:       assetURL,
		H2C:            cfg.Watch.H2C,
		ReconnectDelay: cfg.Watch.ReconnectDelay,
	}, codec, logger.Named("client"))
	go client.Maintain(ctx)

	return runEngine(ctx, client)
}

func runLoopback(ctx context.Context) error {
	net := channel.NewNetwork(logger.Named("network"))
	phoneEP := net.Endpoint("phone")
	watchEP := net.Endpoint(channel.PeerID(cfg.NodeID))

	if err := phoneEP.Connect(ctx); err != nil {
		return fmt.Errorf("connecting phone endpoint: %w", err)
	}
	startPhone(ctx, phoneEP, phone.NewMemoryMarkerStore())

	if err := watchEP.Connect(ctx); err != nil {
		return fmt.Errorf("connecting watch endpoint: %w", err)
	}
	logger.Info("loopback channel ready")

	return runEngine(ctx, watchEP)
}

func runEngine(ctx context.Context, ch channel.Channel) error {
	pool := worker.NewPool(ctx, "watch", cfg.Watch.Workers, cfg.Watch.QueueSize, logger.Named("worker"))
	defer pool.Stop()

	engine := wear.NewEngine(ch, pool, wear.EngineConfig{
		TickInterval:   cfg.Watch.TickInterval,
		SyncRequestGap: cfg.Watch.SyncRequestGap,
		IconRequired:   cfg.Watch.IconRequired,
		Render:         logRender(logger.Named("face")),
	}, logger.Named("engine"))

	engine.Run(ctx)

	submitted, completed, rejected := pool.Metrics()
	logger.Info("watch stopped",
		zap.Uint64("tasksSubmitted", submitted),
		zap.Uint64("tasksCompleted", completed),
		zap.Uint64("tasksRejected", rejected),
	)
	return nil
}

// logRender stands in for a real face: it logs what would be drawn.
func logRender(l *zap.Logger) func(wear.Snapshot) {
	return func(s wear.Snapshot) {
		fields := []zap.Field{
			zap.String("high", s.HighTemp),
			zap.String("low", s.LowTemp),
			zap.Bool("icon", s.Icon != nil),
		}
		if s.Icon != nil {
			b := s.Icon.Bounds()
			fields = append(fields, zap.Int("iconWidth", b.Dx()), zap.Int("iconHeight", b.Dy()))
		}
		l.Info("face rendered", fields...)
	}
}
