package faces

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

const (
	// patchSize is the fixed resolution every face crop is resampled to
	// before feature extraction.
	patchSize = 64

	// orientationBins is the number of gradient-direction buckets per cell.
	orientationBins = 8

	// minCropSide rejects crops too small to carry identity information.
	minCropSide = 8
)

// EmbeddingError reports a face crop that cannot produce a usable embedding.
// It is recoverable per face: callers skip the face and keep the rest of the
// analysis.
type EmbeddingError struct {
	Reason string
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %s", e.Reason)
}

// Embedder maps face crops onto fixed-length, L2-normalized vectors. Gallery
// and query embeddings must come from the same embedder configuration or
// their similarities are meaningless.
type Embedder struct {
	dim  int
	grid int
}

// NewEmbedder validates the embedding length. The length must decompose into
// a square cell grid with orientationBins values per cell, e.g. 32, 128, 512.
func NewEmbedder(dim int) (*Embedder, error) {
	if dim <= 0 || dim%orientationBins != 0 {
		return nil, fmt.Errorf("embedding length %d is not a positive multiple of %d", dim, orientationBins)
	}
	grid := int(math.Sqrt(float64(dim / orientationBins)))
	if grid*grid*orientationBins != dim {
		return nil, fmt.Errorf("embedding length %d does not map onto a square cell grid", dim)
	}
	return &Embedder{dim: dim, grid: grid}, nil
}

// Dim returns the embedding length.
func (e *Embedder) Dim() int { return e.dim }

// Embed crops the face from the raster's luma plane, resamples it to a fixed
// patch and derives a gradient-orientation histogram, L2-normalized. The same
// raster and box always produce the same vector.
func (e *Embedder) Embed(img *imaging.Raster, box Box) ([]float32, error) {
	crop, err := clampCrop(img, box)
	if err != nil {
		return nil, err
	}

	patch := image.NewGray(image.Rect(0, 0, patchSize, patchSize))
	xdraw.ApproxBiLinear.Scale(patch, patch.Bounds(), crop, crop.Bounds(), xdraw.Src, nil)

	values := normalizePatch(patch)
	histogram := e.orientationHistogram(values)

	var norm float64
	for _, v := range histogram {
		norm += v * v
	}
	if norm == 0 {
		return nil, &EmbeddingError{Reason: "featureless crop"}
	}
	scale := 1 / math.Sqrt(norm)
	embedding := make([]float32, e.dim)
	for i, v := range histogram {
		embedding[i] = float32(v * scale)
	}
	return embedding, nil
}

// clampCrop intersects the box with the image bounds. A crop that ends up
// degenerate after clamping cannot be embedded.
func clampCrop(img *imaging.Raster, box Box) (*image.Gray, error) {
	rect := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Intersect(img.Luma.Bounds())
	if rect.Dx() < minCropSide || rect.Dy() < minCropSide {
		return nil, &EmbeddingError{Reason: "degenerate crop"}
	}
	return img.Luma.SubImage(rect).(*image.Gray), nil
}

// normalizePatch converts the patch to zero-mean, unit-variance floats so the
// embedding is invariant to global brightness and contrast.
func normalizePatch(patch *image.Gray) []float64 {
	values := make([]float64, patchSize*patchSize)
	var sum float64
	for y := 0; y < patchSize; y++ {
		row := patch.Pix[y*patch.Stride:]
		for x := 0; x < patchSize; x++ {
			v := float64(row[x])
			values[y*patchSize+x] = v
			sum += v
		}
	}
	mean := sum / float64(len(values))

	var variance float64
	for i, v := range values {
		d := v - mean
		values[i] = d
		variance += d * d
	}
	variance /= float64(len(values))
	if variance > 0 {
		inv := 1 / math.Sqrt(variance)
		for i := range values {
			values[i] *= inv
		}
	}
	return values
}

// orientationHistogram accumulates gradient magnitudes into per-cell
// direction buckets over the normalized patch.
func (e *Embedder) orientationHistogram(values []float64) []float64 {
	histogram := make([]float64, e.dim)
	cell := patchSize / e.grid
	for y := 1; y < patchSize-1; y++ {
		for x := 1; x < patchSize-1; x++ {
			gx := values[y*patchSize+x+1] - values[y*patchSize+x-1]
			gy := values[(y+1)*patchSize+x] - values[(y-1)*patchSize+x]
			magnitude := math.Hypot(gx, gy)
			if magnitude == 0 {
				continue
			}

			angle := math.Atan2(gy, gx) + math.Pi
			bin := int(angle / (2 * math.Pi) * orientationBins)
			if bin >= orientationBins {
				bin = orientationBins - 1
			}

			cx := min(x/cell, e.grid-1)
			cy := min(y/cell, e.grid-1)
			histogram[(cy*e.grid+cx)*orientationBins+bin] += magnitude
		}
	}
	return histogram
}
