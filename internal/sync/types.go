package sync

import (
	"fmt"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
)

const (
	// RequestDataSyncPath carries an empty message from the watch asking the phone to resend.
	RequestDataSyncPath = "/sunshine-sync-data-request"

	// WatchFaceDataPath is the data item the phone publishes for the watch face.
	WatchFaceDataPath = "/sunshine-watch-face-data"

	HighTempKey    = "high-temp"
	LowTempKey     = "low-temp"
	WeatherIconKey = "weather-icon"
)

// WeatherData is the decoded form of the watch face data item.
type WeatherData struct {
	HighTemp string
	LowTemp  string
	Icon     *channel.Asset
}

// Fields encodes the item for PublishDataItem.
func (w WeatherData) Fields() map[string]any {
	fields := map[string]any{
		HighTempKey: w.HighTemp,
		LowTempKey:  w.LowTemp,
	}
	if w.Icon != nil {
		fields[WeatherIconKey] = *w.Icon
	}
	return fields
}

// DecodeWeatherData extracts the watch face fields from a data item.
// Missing temperature keys decode as empty strings; a missing icon decodes as nil.
func DecodeWeatherData(item channel.DataItem) (WeatherData, error) {
	if item.Path != WatchFaceDataPath {
		return WeatherData{}, fmt.Errorf("unexpected path %q", item.Path)
	}

	var w WeatherData
	var err error
	if w.HighTemp, err = stringField(item.Fields, HighTempKey); err != nil {
		return WeatherData{}, err
	}
	if w.LowTemp, err = stringField(item.Fields, LowTempKey); err != nil {
		return WeatherData{}, err
	}

	switch v := item.Fields[WeatherIconKey].(type) {
	case nil:
	case channel.Asset:
		if v.Digest != "" {
			w.Icon = &v
		}
	case *channel.Asset:
		if v != nil && v.Digest != "" {
			asset := *v
			w.Icon = &asset
		}
	default:
		return WeatherData{}, fmt.Errorf("field %s: expected asset, got %T", WeatherIconKey, v)
	}

	return w, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	switch v := fields[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("field %s: expected string, got %T", key, v)
	}
}
