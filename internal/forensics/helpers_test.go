package forensics

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

// noiseImage fills a grayscale image with seeded uniform noise; every block
// is textured and unique.
func noiseImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.Intn(256))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// naturalImage layers mild noise over a smooth ramp, approximating ordinary
// photographic content: textured but not self-similar.
func naturalImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ramp := (x + y) * 255 / (w + h)
			v := ramp + rng.Intn(71) - 35
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(v), G: uint8(v), B: uint8(v), A: 255})
		}
	}
	return img
}

func flatImage(w, h int, value uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = value
		img.Pix[i+1] = value
		img.Pix[i+2] = value
		img.Pix[i+3] = 255
	}
	return img
}

func fillRect(img *image.NRGBA, x0, y0, w, h int, value uint8) {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: value, G: value, B: value, A: 255})
		}
	}
}

// copyRegion clones a rectangle within the image. Source and destination
// must not overlap.
func copyRegion(img *image.NRGBA, srcX, srcY, dstX, dstY, w, h int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(dstX+x, dstY+y, img.NRGBAAt(srcX+x, srcY+y))
		}
	}
}

// pasteNoise overwrites a rectangle with fresh noise that never went through
// JPEG compression.
func pasteNoise(img *image.NRGBA, x0, y0, w, h int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			v := uint8(rng.Intn(256))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
}

// rasterFromPNG round-trips the image losslessly through the loader.
func rasterFromPNG(t *testing.T, img image.Image) *imaging.Raster {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	raster, err := imaging.NewLoader(8192, 4096).Load(buf.Bytes())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return raster
}

// rasterFromJPEG compresses the image once at the given quality and loads
// the result, simulating a camera original.
func rasterFromJPEG(t *testing.T, img image.Image, quality int) *imaging.Raster {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	raster, err := imaging.NewLoader(8192, 4096).Load(buf.Bytes())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return raster
}

func regionOverlapsRect(r Region, x, y, w, h int) bool {
	return overlap1D(r.X, r.X+r.W, x, x+w) > 0 && overlap1D(r.Y, r.Y+r.H, y, y+h) > 0
}

func anyRegionOverlaps(regions []Region, x, y, w, h int) bool {
	for _, r := range regions {
		if regionOverlapsRect(r, x, y, w, h) {
			return true
		}
	}
	return false
}
