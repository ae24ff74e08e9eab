package phone

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	gosync "sync"
)

// Art names for weather condition ids.
const (
	ArtStorm       = "storm"
	ArtLightRain   = "light_rain"
	ArtRain        = "rain"
	ArtSnow        = "snow"
	ArtFog         = "fog"
	ArtClear       = "clear"
	ArtLightClouds = "light_clouds"
	ArtClouds      = "clouds"
)

// ArtName maps an OpenWeatherMap condition id to the icon art used on the
// watch face. Unknown ids return "".
func ArtName(weatherID int) string {
	switch {
	case weatherID >= 200 && weatherID <= 232:
		return ArtStorm
	case weatherID >= 300 && weatherID <= 321:
		return ArtLightRain
	case weatherID >= 500 && weatherID <= 504:
		return ArtRain
	case weatherID == 511:
		return ArtSnow
	case weatherID >= 520 && weatherID <= 531:
		return ArtRain
	case weatherID >= 600 && weatherID <= 622:
		return ArtSnow
	case weatherID == 761 || weatherID == 781:
		return ArtStorm
	case weatherID >= 701 && weatherID <= 761:
		return ArtFog
	case weatherID == 800:
		return ArtClear
	case weatherID == 801:
		return ArtLightClouds
	case weatherID >= 802 && weatherID <= 804:
		return ArtClouds
	}
	return ""
}

// IconSource returns encoded icon bytes for a weather condition id.
type IconSource interface {
	Icon(weatherID int) ([]byte, error)
}

// DirIcons loads "<art>.png" files from a directory.
type DirIcons struct {
	Dir string
}

var _ IconSource = DirIcons{}

// Icon reads the art file for weatherID.
func (d DirIcons) Icon(weatherID int) ([]byte, error) {
	name := ArtName(weatherID)
	if name == "" {
		return nil, fmt.Errorf("no icon for weather id %d", weatherID)
	}
	data, err := os.ReadFile(filepath.Join(d.Dir, name+".png"))
	if err != nil {
		return nil, fmt.Errorf("reading icon %s: %w", name, err)
	}
	return data, nil
}

var artColors = map[string]color.NRGBA{
	ArtStorm:       {R: 0x5c, G: 0x4a, B: 0x8f, A: 0xff},
	ArtLightRain:   {R: 0x7f, G: 0xb3, B: 0xe0, A: 0xff},
	ArtRain:        {R: 0x2e, G: 0x6d, B: 0xb4, A: 0xff},
	ArtSnow:        {R: 0xe8, G: 0xf1, B: 0xf8, A: 0xff},
	ArtFog:         {R: 0xa8, G: 0xa8, B: 0xa8, A: 0xff},
	ArtClear:       {R: 0xff, G: 0xc1, B: 0x07, A: 0xff},
	ArtLightClouds: {R: 0xcf, G: 0xd8, B: 0xdc, A: 0xff},
	ArtClouds:      {R: 0x90, G: 0xa4, B: 0xae, A: 0xff},
}

// GeneratedIcons renders a flat disc per art name. Used when no icon
// directory is configured.
type GeneratedIcons struct {
	Size int

	mu    gosync.Mutex
	cache map[string][]byte
}

var _ IconSource = (*GeneratedIcons)(nil)

func (g *GeneratedIcons) Icon(weatherID int) ([]byte, error) {
	name := ArtName(weatherID)
	if name == "" {
		return nil, fmt.Errorf("no icon for weather id %d", weatherID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if data, ok := g.cache[name]; ok {
		return data, nil
	}

	size := g.Size
	if size <= 0 {
		size = 48
	}
	fill := artColors[name]
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	r := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := x-r, y-r
			if dx*dx+dy*dy <= r*r {
				img.SetNRGBA(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding icon %s: %w", name, err)
	}

	if g.cache == nil {
		g.cache = make(map[string][]byte)
	}
	g.cache[name] = buf.Bytes()
	return buf.Bytes(), nil
}
