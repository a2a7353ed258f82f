package rds

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Logo canvas geometry and framing.
const (
	LogoWidth  = 64
	LogoHeight = 32

	LogoMagic = 0xA7

	// LogoBits is sync (2) + magic (8) + one bit per canvas pixel.
	LogoBits = 2 + 8 + LogoWidth*LogoHeight
)

var logoSync = [2]byte{1, 0}

// FrameLogo prepends the sync pattern and magic byte to a row-major
// 64x32 pixel bitmap.
func FrameLogo(pixels []byte) ([]byte, error) {
	if len(pixels) != LogoWidth*LogoHeight {
		return nil, fmt.Errorf("logo bitmap must be %d pixels, got %d", LogoWidth*LogoHeight, len(pixels))
	}
	out := make([]byte, 0, LogoBits)
	out = append(out, logoSync[:]...)
	for i := 7; i >= 0; i-- {
		out = append(out, byte(LogoMagic>>uint(i))&1)
	}
	for _, p := range pixels {
		out = append(out, p&1)
	}
	return out, nil
}

// EncodeLogo reduces img to a centered 64x32 monochrome bitmap and frames
// it. Transparent areas are treated as white; pixels strictly brighter
// than the canvas mean become 1.
func EncodeLogo(img image.Image) []byte {
	b := img.Bounds()

	flat := image.NewRGBA(b)
	draw.Draw(flat, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, b, img, b.Min, draw.Over)

	gray := image.NewGray(b)
	draw.Draw(gray, b, flat, b.Min, draw.Src)

	canvas := image.NewGray(image.Rect(0, 0, LogoWidth, LogoHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if w, h := b.Dx(), b.Dy(); w > 0 && h > 0 {
		scale := math.Min(float64(LogoWidth)/float64(w), float64(LogoHeight)/float64(h))
		nw := clampInt(int(math.Round(float64(w)*scale)), 1, LogoWidth)
		nh := clampInt(int(math.Round(float64(h)*scale)), 1, LogoHeight)
		x0 := (LogoWidth - nw) / 2
		y0 := (LogoHeight - nh) / 2
		draw.CatmullRom.Scale(canvas, image.Rect(x0, y0, x0+nw, y0+nh), gray, b, draw.Src, nil)
	}

	var sum float64
	for _, p := range canvas.Pix {
		sum += float64(p)
	}
	mean := sum / float64(len(canvas.Pix))

	pixels := make([]byte, LogoWidth*LogoHeight)
	for y := 0; y < LogoHeight; y++ {
		for x := 0; x < LogoWidth; x++ {
			if float64(canvas.GrayAt(x, y).Y) > mean {
				pixels[y*LogoWidth+x] = 1
			}
		}
	}

	framed, _ := FrameLogo(pixels)
	return framed
}

// LoadLogo decodes a PNG, JPEG, GIF, BMP or WebP image and returns its
// framed logo bitstream.
func LoadLogo(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open logo: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode logo %s: %w", path, err)
	}
	return EncodeLogo(img), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
