package phone

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/sync"
	"github.com/dgnsrekt/sunshine-watchsync/internal/weather"
)

// Publisher pushes today's weather to the watch face data item, skipping
// values identical to the last ones sent.
type Publisher struct {
	ch     channel.Channel
	store  MarkerStore
	icons  IconSource
	units  string
	logger *zap.Logger
}

// NewPublisher creates a Publisher that formats temperatures in units.
func NewPublisher(ch channel.Channel, store MarkerStore, icons IconSource, units string, logger *zap.Logger) *Publisher {
	return &Publisher{
		ch:     ch,
		store:  store,
		icons:  icons,
		units:  units,
		logger: logger,
	}
}

// Publish reports whether a data item was written.
func (p *Publisher) Publish(ctx context.Context, f weather.Forecast) (bool, error) {
	next := Marker{
		HighTemp:  weather.FormatTemperature(f.High, p.units),
		LowTemp:   weather.FormatTemperature(f.Low, p.units),
		WeatherID: f.WeatherID,
	}

	last, err := p.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("loading last sent marker: %w", err)
	}
	if last == next {
		p.logger.Debug("watch face already up to date",
			zap.String("high", next.HighTemp),
			zap.String("low", next.LowTemp),
			zap.Int("weatherId", next.WeatherID),
		)
		return false, nil
	}

	data := sync.WeatherData{HighTemp: next.HighTemp, LowTemp: next.LowTemp}
	if raw, err := p.icons.Icon(f.WeatherID); err != nil {
		p.logger.Warn("publishing without icon", zap.Int("weatherId", f.WeatherID), zap.Error(err))
	} else {
		asset, err := p.ch.CreateAsset(raw)
		if err != nil {
			return false, fmt.Errorf("creating icon asset: %w", err)
		}
		data.Icon = &asset
	}

	if err := p.ch.PublishDataItem(ctx, sync.WatchFaceDataPath, data.Fields()); err != nil {
		return false, fmt.Errorf("publishing watch face data: %w", err)
	}

	if err := p.store.Save(ctx, next); err != nil {
		return true, fmt.Errorf("saving last sent marker: %w", err)
	}

	p.logger.Info("watch face data published",
		zap.String("high", next.HighTemp),
		zap.String("low", next.LowTemp),
		zap.Int("weatherId", next.WeatherID),
		zap.Bool("icon", data.Icon != nil),
	)
	return true, nil
}
