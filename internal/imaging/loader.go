package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rwcarlsen/goexif/exif"
	xdraw "golang.org/x/image/draw"
)

// DecodeError marks an upload the service cannot turn into a raster. The
// HTTP layer reports it as an invalid request rather than a server fault.
type DecodeError struct {
	Format string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Loader decodes uploads into rasters. Formats are sniffed from the payload,
// never trusted from request headers. Images whose long side exceeds
// targetDim are downscaled before analysis; images with any side above
// maxDim are rejected without a full decode.
type Loader struct {
	maxDim    int
	targetDim int
}

// NewLoader constructs a loader with the given dimension bounds.
func NewLoader(maxDim, targetDim int) *Loader {
	return &Loader{maxDim: maxDim, targetDim: targetDim}
}

// Load decodes, normalizes and downscales one upload.
func (l *Loader) Load(data []byte) (*Raster, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty payload")}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("degenerate dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if cfg.Width > l.maxDim || cfg.Height > l.maxDim {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("dimensions %dx%d exceed limit %d", cfg.Width, cfg.Height, l.maxDim)}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	dstW, dstH := fitWithin(srcW, srcH, l.targetDim)

	pixels := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	if dstW == srcW && dstH == srcH {
		draw.Draw(pixels, pixels.Bounds(), src, bounds.Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(pixels, pixels.Bounds(), src, bounds, xdraw.Src, nil)
	}

	luma := image.NewGray(pixels.Bounds())
	draw.Draw(luma, luma.Bounds(), pixels, image.Point{}, draw.Src)

	return &Raster{
		Width:        dstW,
		Height:       dstH,
		Channels:     channelCount(src),
		Format:       format,
		ColorSpace:   "srgb",
		SourceWidth:  srcW,
		SourceHeight: srcH,
		Pixels:       pixels,
		Luma:         luma,
		Meta:         extractMetadata(data),
	}, nil
}

// fitWithin shrinks (w, h) proportionally so the long side equals limit.
// Images already inside the limit keep their size; upscaling never happens.
func fitWithin(w, h, limit int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if long <= limit {
		return w, h
	}
	ratio := float64(limit) / float64(long)
	scaledW := int(math.Round(float64(w) * ratio))
	scaledH := int(math.Round(float64(h) * ratio))
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	return scaledW, scaledH
}

func channelCount(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr:
		return 3
	case *image.CMYK:
		return 4
	}
	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		return 3
	}
	return 4
}

// extractMetadata pulls the EXIF fields the metadata consistency check
// reads. Sources without a parseable EXIF segment yield an absent Metadata,
// which makes that check abstain rather than guess.
func extractMetadata(data []byte) Metadata {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil || x == nil {
		return Metadata{}
	}
	return Metadata{
		Present:          true,
		Software:         tagString(x, exif.Software),
		DateTime:         tagString(x, exif.DateTime),
		DateTimeOriginal: tagString(x, exif.DateTimeOriginal),
	}
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	value, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}
