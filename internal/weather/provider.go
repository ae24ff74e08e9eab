// Package weather fetches today's forecast for the phone to publish.
package weather

import "context"

// Forecast is today's weather. Temperatures are in Celsius.
type Forecast struct {
	High      float64
	Low       float64
	WeatherID int // OpenWeatherMap condition code
}

// Provider returns today's forecast.
type Provider interface {
	Today(ctx context.Context) (*Forecast, error)
}

// StaticProvider always returns the same forecast.
type StaticProvider struct {
	Forecast Forecast
}

var _ Provider = (*StaticProvider)(nil)

// Today returns a copy of the fixed forecast.
func (p *StaticProvider) Today(ctx context.Context) (*Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := p.Forecast
	return &f, nil
}
