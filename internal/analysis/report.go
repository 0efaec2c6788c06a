package analysis

import (
	"github.com/sightline-forensics/sightline/internal/faces"
	"github.com/sightline-forensics/sightline/internal/forensics"
	"github.com/sightline-forensics/sightline/internal/gallery"
)

// Report is the full analysis result for one upload: tamper verdict and the
// face-match results, both computed over the same decoded raster.
type Report struct {
	Image     ImageInfo `json:"image"`
	Tampering Tampering `json:"tampering"`
	Faces     []Face    `json:"faces"`
}

// ImageInfo describes the decoded raster and the source it came from.
type ImageInfo struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Channels     int    `json:"channels"`
	Format       string `json:"format"`
	SourceWidth  int    `json:"source_width"`
	SourceHeight int    `json:"source_height"`
}

// Tampering is the fused tamper verdict with per-check detail.
type Tampering struct {
	Classification forensics.Classification `json:"classification"`
	Confidence     float64                  `json:"confidence"`
	FusedScore     float64                  `json:"fused_score"`
	Checks         []forensics.Finding      `json:"checks"`
	Regions        []forensics.Region       `json:"regions"`
}

// Face is one located face with its gallery match.
type Face struct {
	Box        faces.Box           `json:"box"`
	Confidence float64             `json:"confidence"`
	Match      gallery.MatchResult `json:"match"`
}
