package forensics

import (
	"math"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

// descriptorCells is the per-side cell count of the quantized block
// descriptor (4x4 cell means).
const descriptorCells = 4

// CopyMoveConfig tunes the copy-move duplication check.
type CopyMoveConfig struct {
	BlockSize      int
	Stride         int
	QuantStep      float64
	MinOffset      float64
	MinCorrelation float64
	FlatVariance   float64
	ScoreScale     float64
	MinBlocks      int
	MaxBucket      int
}

// DefaultCopyMoveConfig returns the tuning used in production.
func DefaultCopyMoveConfig() CopyMoveConfig {
	return CopyMoveConfig{
		BlockSize:      16,
		Stride:         8,
		QuantStep:      4.0,
		MinOffset:      24,
		MinCorrelation: 0.95,
		FlatVariance:   4.0,
		ScoreScale:     10,
		MinBlocks:      16,
		MaxBucket:      32,
	}
}

// CopyMoveCheck finds regions cloned from elsewhere in the same image.
// Overlapping luma blocks are hashed by a quantized mean descriptor;
// candidate pairs far enough apart are validated by normalized pixel
// correlation. Featureless blocks never participate, so duplicated flat
// areas (sky, walls) do not count as evidence.
type CopyMoveCheck struct {
	cfg CopyMoveConfig
}

// NewCopyMoveCheck constructs the check with the given tuning.
func NewCopyMoveCheck(cfg CopyMoveConfig) *CopyMoveCheck {
	return &CopyMoveCheck{cfg: cfg}
}

// Name implements Check.
func (c *CopyMoveCheck) Name() string { return CheckCopyMove }

// Run implements Check. Images without enough textured blocks abstain.
func (c *CopyMoveCheck) Run(img *imaging.Raster) Result {
	size, stride := c.cfg.BlockSize, c.cfg.Stride
	if img.Width < size || img.Height < size {
		return Result{Abstained: true}
	}

	gridCols := (img.Width-size)/stride + 1
	gridRows := (img.Height-size)/stride + 1
	if gridCols*gridRows < c.cfg.MinBlocks {
		return Result{Abstained: true}
	}

	luma := img.LumaFloats()
	width := img.Width
	cellSize := size / descriptorCells

	type blockRef struct {
		idx  int
		x, y int
	}
	type descriptor [descriptorCells * descriptorCells]int16

	buckets := make(map[descriptor][]blockRef)
	eligible := 0
	for gy := 0; gy < gridRows; gy++ {
		for gx := 0; gx < gridCols; gx++ {
			x0, y0 := gx*stride, gy*stride
			_, variance := blockStats(luma, width, x0, y0, size)
			if variance < c.cfg.FlatVariance {
				continue
			}
			eligible++

			var desc descriptor
			for cy := 0; cy < descriptorCells; cy++ {
				for cx := 0; cx < descriptorCells; cx++ {
					m, _ := blockStats(luma, width, x0+cx*cellSize, y0+cy*cellSize, cellSize)
					desc[cy*descriptorCells+cx] = int16(math.Round(m / c.cfg.QuantStep))
				}
			}
			buckets[desc] = append(buckets[desc], blockRef{idx: gy*gridCols + gx, x: x0, y: y0})
		}
	}
	if eligible == 0 {
		return Result{Abstained: true}
	}

	// matched holds the best validated correlation per block. Updates are
	// max-commutative, so bucket iteration order cannot change the outcome.
	matched := make(map[int]float64)
	minOffsetSq := c.cfg.MinOffset * c.cfg.MinOffset
	for _, refs := range buckets {
		n := len(refs)
		if n < 2 || n > c.cfg.MaxBucket {
			// Giant buckets are periodic texture, not cloning.
			continue
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dx := float64(refs[j].x - refs[i].x)
				dy := float64(refs[j].y - refs[i].y)
				if dx*dx+dy*dy < minOffsetSq {
					continue
				}
				corr := blockCorrelation(luma, width, refs[i].x, refs[i].y, refs[j].x, refs[j].y, size)
				if corr < c.cfg.MinCorrelation {
					continue
				}
				if corr > matched[refs[i].idx] {
					matched[refs[i].idx] = corr
				}
				if corr > matched[refs[j].idx] {
					matched[refs[j].idx] = corr
				}
			}
		}
	}

	score := math.Min(1, c.cfg.ScoreScale*float64(len(matched))/float64(eligible))
	grid := blockGrid{cols: gridCols, rows: gridRows, blockW: size, blockH: size, strideX: stride, strideY: stride}
	return Result{Score: score, Regions: grid.regions(matched, CheckCopyMove)}
}

func blockStats(luma []float64, width, x0, y0, size int) (mean, variance float64) {
	n := float64(size * size)
	var sum, sumSq float64
	for y := y0; y < y0+size; y++ {
		rowOffset := y * width
		for x := x0; x < x0+size; x++ {
			p := luma[rowOffset+x]
			sum += p
			sumSq += p * p
		}
	}
	mean = sum / n
	variance = sumSq/n - mean*mean
	return mean, variance
}

func blockCorrelation(luma []float64, width, ax, ay, bx, by, size int) float64 {
	meanA, _ := blockStats(luma, width, ax, ay, size)
	meanB, _ := blockStats(luma, width, bx, by, size)

	var dot, normA, normB float64
	for y := 0; y < size; y++ {
		rowA := (ay + y) * width
		rowB := (by + y) * width
		for x := 0; x < size; x++ {
			da := luma[rowA+ax+x] - meanA
			db := luma[rowB+bx+x] - meanB
			dot += da * db
			normA += da * da
			normB += db * db
		}
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / math.Sqrt(normA*normB)
}
