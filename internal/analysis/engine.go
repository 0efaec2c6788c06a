package analysis

import (
	"context"

	"go.uber.org/zap"

	"github.com/sightline-forensics/sightline/internal/faces"
	"github.com/sightline-forensics/sightline/internal/forensics"
	"github.com/sightline-forensics/sightline/internal/gallery"
	"github.com/sightline-forensics/sightline/internal/imaging"
)

// Engine runs the full per-image pipeline: decode, tamper analysis, face
// location, embedding and gallery matching. It holds no per-request state, so
// one engine serves concurrent requests.
type Engine struct {
	loader   *imaging.Loader
	analyzer *forensics.Analyzer
	locator  faces.Locator
	embedder *faces.Embedder
	matcher  *gallery.Matcher
	logger   *zap.Logger
}

// NewEngine wires the pipeline stages together. A nil locator disables the
// face pipeline: reports then carry an empty faces list.
func NewEngine(
	loader *imaging.Loader,
	analyzer *forensics.Analyzer,
	locator faces.Locator,
	embedder *faces.Embedder,
	matcher *gallery.Matcher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		loader:   loader,
		analyzer: analyzer,
		locator:  locator,
		embedder: embedder,
		matcher:  matcher,
		logger:   logger.Named("analysis_engine"),
	}
}

// Analyze decodes the upload and produces the combined report. Decode
// failures surface as *imaging.DecodeError; a face whose crop cannot be
// embedded is skipped rather than failing the request.
func (e *Engine) Analyze(_ context.Context, data []byte) (*Report, error) {
	img, err := e.loader.Load(data)
	if err != nil {
		return nil, err
	}

	verdict := e.analyzer.Analyze(img)
	regions := verdict.Regions
	if regions == nil {
		regions = []forensics.Region{}
	}

	return &Report{
		Image: ImageInfo{
			Width:        img.Width,
			Height:       img.Height,
			Channels:     img.Channels,
			Format:       img.Format,
			SourceWidth:  img.SourceWidth,
			SourceHeight: img.SourceHeight,
		},
		Tampering: Tampering{
			Classification: verdict.Classification,
			Confidence:     verdict.Confidence,
			FusedScore:     verdict.FusedScore,
			Checks:         verdict.Findings,
			Regions:        regions,
		},
		Faces: e.matchFaces(img),
	}, nil
}

// matchFaces locates, embeds and matches every face in the raster. The
// returned slice is never nil so responses always carry a faces array.
func (e *Engine) matchFaces(img *imaging.Raster) []Face {
	matched := make([]Face, 0)
	if e.locator == nil {
		return matched
	}

	for _, detection := range e.locator.Detect(img) {
		embedding, err := e.embedder.Embed(img, detection.Box)
		if err != nil {
			e.logger.Warn("skipping face",
				zap.Int("x", detection.Box.X),
				zap.Int("y", detection.Box.Y),
				zap.Error(err),
			)
			continue
		}
		matched = append(matched, Face{
			Box:        detection.Box,
			Confidence: detection.Confidence,
			Match:      e.matcher.Match(embedding),
		})
	}
	return matched
}
