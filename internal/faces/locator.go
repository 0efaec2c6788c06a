package faces

import (
	"fmt"
	"math"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

// Box is an axis-aligned face rectangle in analysis-space pixel coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one located face with its detector confidence in [0, 1].
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Locator finds faces in a decoded raster. Implementations must be
// deterministic: the same raster always yields the same detections.
type Locator interface {
	Detect(img *imaging.Raster) []Detection
}

// CascadeConfig tunes the pixel-intensity cascade detector.
type CascadeConfig struct {
	MinConfidence    float64
	MinSize          int
	MaxSize          int
	ShiftFactor      float64
	ScaleFactor      float64
	ClusterThreshold float64
}

// DefaultCascadeConfig returns the production detector settings.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		MinConfidence:    0.9,
		MinSize:          20,
		MaxSize:          1000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		ClusterThreshold: 0.2,
	}
}

// CascadeLocator detects faces with a pre-trained binary cascade model.
type CascadeLocator struct {
	classifier *pigo.Pigo
	cfg        CascadeConfig
}

// NewCascadeLocator reads and unpacks the cascade model at path.
func NewCascadeLocator(path string, cfg CascadeConfig) (*CascadeLocator, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cascade model: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(model)
	if err != nil {
		return nil, fmt.Errorf("unpacking cascade model: %w", err)
	}
	return &CascadeLocator{classifier: classifier, cfg: cfg}, nil
}

// Detect runs the cascade over the raster's luma plane, clusters overlapping
// hits and drops anything below the configured confidence. An image without
// faces yields an empty slice, never an error.
func (l *CascadeLocator) Detect(img *imaging.Raster) []Detection {
	params := pigo.CascadeParams{
		MinSize:     l.cfg.MinSize,
		MaxSize:     l.cfg.MaxSize,
		ShiftFactor: l.cfg.ShiftFactor,
		ScaleFactor: l.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: img.Luma.Pix,
			Rows:   img.Height,
			Cols:   img.Width,
			Dim:    img.Luma.Stride,
		},
	}

	hits := l.classifier.RunCascade(params, 0.0)
	hits = l.classifier.ClusterDetections(hits, l.cfg.ClusterThreshold)

	detections := make([]Detection, 0, len(hits))
	for _, hit := range hits {
		confidence := math.Min(float64(hit.Q)/100, 1)
		if confidence < l.cfg.MinConfidence {
			continue
		}
		detections = append(detections, Detection{
			Box: Box{
				X: hit.Col - hit.Scale/2,
				Y: hit.Row - hit.Scale/2,
				W: hit.Scale,
				H: hit.Scale,
			},
			Confidence: confidence,
		})
	}
	SortDetections(detections)
	return detections
}

// SortDetections orders faces largest-area first, breaking ties
// left-to-right, then top-to-bottom.
func SortDetections(detections []Detection) {
	sort.Slice(detections, func(i, j int) bool {
		ai := detections[i].Box.W * detections[i].Box.H
		aj := detections[j].Box.W * detections[j].Box.H
		if ai != aj {
			return ai > aj
		}
		if detections[i].Box.X != detections[j].Box.X {
			return detections[i].Box.X < detections[j].Box.X
		}
		return detections[i].Box.Y < detections[j].Box.Y
	})
}
