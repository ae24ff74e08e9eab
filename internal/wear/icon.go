package wear

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
)

func decodeIcon(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding icon: %w", err)
	}
	return img, nil
}

// grayscale returns a fully desaturated copy of img for ambient mode.
// Alpha is preserved so the icon keeps its shape on a black background.
func grayscale(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			lum := uint8((299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B) + 500) / 1000)
			out.SetNRGBA(x, y, color.NRGBA{R: lum, G: lum, B: lum, A: c.A})
		}
	}
	return out
}
