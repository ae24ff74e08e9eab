package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Problems []string
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs.add("logging.level %q is not a valid level", c.Logging.Level)
	}

	validatePhone(errs, c.Phone)
	validateWatch(errs, c.Watch)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validatePhone(errs *ValidationErrors, p PhoneConfig) {
	if p.ListenAddr == "" {
		errs.add("phone.listen_addr is required")
	}
	if p.RefreshInterval < 0 {
		errs.add("phone.refresh_interval must be >= 0")
	}
	if p.Units != "metric" && p.Units != "imperial" {
		errs.add("phone.units %q must be 'metric' or 'imperial'", p.Units)
	}
	if p.InboundRate <= 0 {
		errs.add("phone.inbound_rate must be > 0")
	}

	switch p.Weather.Provider {
	case ProviderStatic:
	case ProviderOWM:
		if p.Weather.APIKey == "" {
			errs.add("phone.weather.api_key is required for the owm provider (set SUNSHINE_OWM_API_KEY env var)")
		}
		if p.Weather.Location == "" {
			errs.add("phone.weather.location is required for the owm provider")
		}
		if p.Weather.RatePerSecond < 1 {
			errs.add("phone.weather.rate_per_second must be >= 1")
		}
	default:
		errs.add("phone.weather.provider %q must be 'static' or 'owm'", p.Weather.Provider)
	}
}

func validateWatch(errs *ValidationErrors, w WatchConfig) {
	if _, err := w.ResolvedAssetURL(); err != nil {
		errs.add("watch: %v", err)
	}
	if w.TickInterval <= 0 {
		errs.add("watch.tick_interval must be > 0")
	}
	if w.SyncRequestGap <= 0 {
		errs.add("watch.sync_request_gap must be > 0")
	}
	if w.Workers < 1 {
		errs.add("watch.workers must be >= 1")
	}
	if w.QueueSize < w.Workers {
		errs.add("watch.queue_size must be >= watch.workers")
	}
}
