package weather

import "errors"

var (
	ErrNotFound      = errors.New("no forecast for this location")
	ErrRateLimited   = errors.New("rate limited by weather API")
	ErrAuthFailed    = errors.New("weather API rejected the key")
	ErrEmptyForecast = errors.New("forecast response has no days")
)
