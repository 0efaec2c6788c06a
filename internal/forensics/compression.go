package forensics

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

// Blocks must clear the adaptive threshold by at least this many luma levels
// before they are flagged; keeps near-uniform error maps from producing
// phantom regions.
const deviationFloor = 2.0

// CompressionConfig tunes the compression-artifact inconsistency check.
type CompressionConfig struct {
	Quality         int
	BlockSize       int
	MinBlocks       int
	DeviationFactor float64
	VarianceScale   float64
}

// DefaultCompressionConfig returns the tuning used in production.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Quality:         75,
		BlockSize:       16,
		MinBlocks:       16,
		DeviationFactor: 4.0,
		VarianceScale:   2.0,
	}
}

// CompressionCheck re-encodes the image as JPEG at a fixed quality and
// measures per-block reconstruction error. Regions that respond to the
// re-encode very differently from the rest of the image have usually been
// edited and re-saved separately.
type CompressionCheck struct {
	cfg CompressionConfig
}

// NewCompressionCheck constructs the check with the given tuning.
func NewCompressionCheck(cfg CompressionConfig) *CompressionCheck {
	return &CompressionCheck{cfg: cfg}
}

// Name implements Check.
func (c *CompressionCheck) Name() string { return CheckCompression }

// Run implements Check. Images too small for block statistics abstain.
func (c *CompressionCheck) Run(img *imaging.Raster) Result {
	b := c.cfg.BlockSize
	cols, rows := img.Width/b, img.Height/b
	if cols*rows < c.cfg.MinBlocks {
		return Result{Abstained: true}
	}

	recompressed, err := recompressLuma(img.Pixels, c.cfg.Quality)
	if err != nil {
		return Result{Abstained: true}
	}
	original := img.LumaFloats()

	errMap := make([]float64, cols*rows)
	for by := 0; by < rows; by++ {
		for bx := 0; bx < cols; bx++ {
			var sum float64
			for y := by * b; y < (by+1)*b; y++ {
				rowOffset := y * img.Width
				for x := bx * b; x < (bx+1)*b; x++ {
					sum += math.Abs(original[rowOffset+x] - recompressed[rowOffset+x])
				}
			}
			errMap[by*cols+bx] = sum / float64(b*b)
		}
	}

	median, _ := stats.Median(errMap)
	mad, _ := stats.MedianAbsoluteDeviation(errMap)
	mean, _ := stats.Mean(errMap)
	variance, _ := stats.PopulationVariance(errMap)

	// Normalized variance of the error map: scale-free, so a uniformly
	// compressed image scores near zero regardless of its absolute error.
	score := 0.0
	if mean > 0 {
		score = math.Min(1, variance/(mean*mean+1e-6)/c.cfg.VarianceScale)
	}

	threshold := median + c.cfg.DeviationFactor*mad + deviationFloor
	span := threshold - median
	flagged := make(map[int]float64)
	for idx, e := range errMap {
		if e <= threshold {
			continue
		}
		over := (e - threshold) / (span + 1e-6)
		flagged[idx] = clamp01(0.5 + 0.5*math.Min(1, over))
	}

	grid := blockGrid{cols: cols, rows: rows, blockW: b, blockH: b, strideX: b, strideY: b}
	return Result{Score: score, Regions: grid.regions(flagged, CheckCompression)}
}

// recompressLuma encodes the raster as JPEG at the given quality, decodes it
// back and returns the resulting luma plane.
func recompressLuma(img *image.NRGBA, quality int) ([]float64, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, err
	}

	bounds := decoded.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), decoded, bounds.Min, draw.Src)

	out := make([]float64, bounds.Dx()*bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+bounds.Dx()]
		for x, p := range row {
			out[y*bounds.Dx()+x] = float64(p)
		}
	}
	return out, nil
}
