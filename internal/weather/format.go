package weather

import (
	"fmt"
	"strings"
)

const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
)

// FormatTemperature renders a Celsius value the way the watch face shows it,
// rounded with a degree sign. Imperial units convert to Fahrenheit first.
func FormatTemperature(celsius float64, units string) string {
	t := celsius
	if strings.EqualFold(units, UnitsImperial) {
		t = celsius*1.8 + 32
	}
	return fmt.Sprintf("%.0f°", t)
}
