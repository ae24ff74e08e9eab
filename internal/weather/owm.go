package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultOWMBaseURL is the public OpenWeatherMap API host.
const DefaultOWMBaseURL = "https://api.openweathermap.org"

// OWMConfig configures the OpenWeatherMap daily forecast client.
type OWMConfig struct {
	BaseURL    string
	APIKey     string
	Location   string
	RatePerSec int
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// OWMClient fetches today's forecast from the OpenWeatherMap daily endpoint.
type OWMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	location   string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Provider = (*OWMClient)(nil)

type dailyResponse struct {
	List []struct {
		Temp struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"temp"`
		Weather []struct {
			ID int `json:"id"`
		} `json:"weather"`
	} `json:"list"`
}

// NewOWMClient creates a rate-limited client for the daily forecast endpoint.
func NewOWMClient(cfg OWMConfig, logger *zap.Logger) *OWMClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOWMBaseURL
	}
	if cfg.RatePerSec < 1 {
		cfg.RatePerSec = 1
	}

	transport := &http.Transport{
		MaxIdleConns:    10,
		MaxConnsPerHost: 2,
		IdleConnTimeout: 90 * time.Second,
	}

	return &OWMClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		location:   cfg.Location,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec*2),
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Today returns the first day of the daily forecast in metric units.
func (c *OWMClient) Today(ctx context.Context) (*Forecast, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("q", c.location)
	q.Set("mode", "json")
	q.Set("units", UnitsMetric)
	q.Set("cnt", "1")
	q.Set("APPID", c.apiKey)
	endpoint := c.baseURL + "/data/2.5/forecast/daily?" + q.Encode()
	c.logger.Debug("requesting forecast", zap.String("location", c.location))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying forecast request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		var daily dailyResponse
		if err := json.Unmarshal(body, &daily); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		if len(daily.List) == 0 {
			return nil, ErrEmptyForecast
		}

		day := daily.List[0]
		f := &Forecast{High: day.Temp.Max, Low: day.Temp.Min}
		if len(day.Weather) > 0 {
			f.WeatherID = day.Weather[0].ID
		}
		return f, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
