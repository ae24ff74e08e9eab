package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/config"
	"github.com/dgnsrekt/sunshine-watchsync/internal/phone"
	"github.com/dgnsrekt/sunshine-watchsync/internal/transport"
	"github.com/dgnsrekt/sunshine-watchsync/internal/weather"
)

func phoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phone",
		Short: "Run the weather producer and accept watch connections",
		Long: `Run the phone side: fetch today's forecast, publish it to connected
watches over WebSocket and answer their sync requests.

Examples:
  # Serve a static forecast on :8765
  sunshine phone

  # Use OpenWeatherMap
  SUNSHINE_PHONE_WEATHER_PROVIDER=owm SUNSHINE_OWM_API_KEY=... sunshine phone`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhone(cmd.Context())
		},
	}
}

func runPhone(ctx context.Context) error {
	codec, err := transport.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()

	hub := transport.NewHub(transport.HubConfig{
		NodeID:       channel.PeerID(cfg.NodeID),
		InboundRate:  cfg.Phone.InboundRate,
		InboundBurst: cfg.Phone.InboundBurst,
	}, codec, logger.Named("hub"))
	go hub.Run(ctx)
	if err := hub.Connect(ctx); err != nil {
		return err
	}
	defer hub.Disconnect()

	store, closeStore, err := openMarkerStore(cfg.Phone.MarkerDB)
	if err != nil {
		return err
	}
	defer closeStore()

	startPhone(ctx, hub, store)

	httpServer := &http.Server{
		Addr:         cfg.Phone.ListenAddr,
		Handler:      transport.NewRouter(hub, logger.Named("http")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

// startPhone wires the producer onto ch and starts its loops.
func startPhone(ctx context.Context, ch channel.Channel, store phone.MarkerStore) {
	var icons phone.IconSource = &phone.GeneratedIcons{}
	if cfg.Phone.IconsDir != "" {
		icons = phone.DirIcons{Dir: cfg.Phone.IconsDir}
	}

	publisher := phone.NewPublisher(ch, store, icons, cfg.Phone.Units, logger.Named("publisher"))
	syncer := phone.NewSyncer(newProvider(cfg.Phone.Weather), publisher, cfg.Phone.RefreshInterval, logger.Named("syncer"))
	handler := phone.NewHandler(store, syncer, logger.Named("handler"))
	service := phone.NewService(ch, handler, logger.Named("service"))

	go syncer.Run(ctx)
	go service.Run(ctx)
}

func newProvider(wc config.WeatherConfig) weather.Provider {
	if wc.Provider == config.ProviderOWM {
		logger.Info("using OpenWeatherMap", zap.String("location", wc.Location))
		return weather.NewOWMClient(weather.OWMConfig{
			BaseURL:    wc.BaseURL,
			APIKey:     wc.APIKey,
			Location:   wc.Location,
			RatePerSec: wc.RatePerSecond,
			Timeout:    wc.Timeout,
			RetryCount: wc.RetryCount,
			RetryDelay: wc.RetryDelay,
		}, logger.Named("owm"))
	}

	logger.Info("using static forecast",
		zap.Float64("high", wc.Static.High),
		zap.Float64("low", wc.Static.Low),
		zap.Int("weatherId", wc.Static.WeatherID),
	)
	return &weather.StaticProvider{Forecast: weather.Forecast{
		High:      wc.Static.High,
		Low:       wc.Static.Low,
		WeatherID: wc.Static.WeatherID,
	}}
}

// openMarkerStore opens the SQLite store at path, or a memory store when path is empty.
func openMarkerStore(path string) (phone.MarkerStore, func(), error) {
	if path == "" {
		return phone.NewMemoryMarkerStore(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating marker directory: %w", err)
	}
	store, err := phone.NewSQLiteMarkerStore(path, logger.Named("marker"))
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
