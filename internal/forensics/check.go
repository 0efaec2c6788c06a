package forensics

import "github.com/sightline-forensics/sightline/internal/imaging"

// Classification is the fused tamper verdict for one image.
type Classification string

const (
	ClassificationTampered     Classification = "tampered"
	ClassificationAuthentic    Classification = "authentic"
	ClassificationInconclusive Classification = "inconclusive"
)

// Check name tags, also used as region sources in responses.
const (
	CheckCompression = "compression"
	CheckCopyMove    = "copy_move"
	CheckMetadata    = "metadata"
)

// Check scores one independent tamper signal over a raster. Implementations
// must be pure: the same raster always yields the same result.
type Check interface {
	Name() string
	Run(img *imaging.Raster) Result
}

// Result carries a single check's score, suspect regions and abstention
// flag. An abstaining check contributes no weight to the fused score.
type Result struct {
	Score     float64
	Abstained bool
	Regions   []Region
}

// Finding is the per-check entry reported alongside the fused verdict.
type Finding struct {
	Check     string  `json:"check"`
	Score     float64 `json:"score"`
	Abstained bool    `json:"abstained"`
}

// Region marks a rectangular area of the image flagged by a check, in
// analysis-space pixel coordinates.
type Region struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	W      int     `json:"w"`
	H      int     `json:"h"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Verdict is the fused outcome over all active checks.
type Verdict struct {
	Classification Classification
	Confidence     float64
	FusedScore     float64
	Findings       []Finding
	Regions        []Region
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
