package forensics

import (
	"math"
	"strings"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

// MetadataConfig tunes the EXIF consistency check.
type MetadataConfig struct {
	// EditorSoftware is matched case-insensitively as substrings of the
	// EXIF Software tag.
	EditorSoftware []string
}

// DefaultMetadataConfig returns the editor list used in production.
func DefaultMetadataConfig() MetadataConfig {
	return MetadataConfig{
		EditorSoftware: []string{
			"photoshop",
			"gimp",
			"lightroom",
			"affinity photo",
			"pixelmator",
			"paint.net",
			"snapseed",
			"picsart",
			"facetune",
		},
	}
}

// MetadataCheck inspects the EXIF fields retained by the loader: editing
// software fingerprints and modification timestamps that drifted from the
// capture timestamp. Images without parseable EXIF abstain; absence of
// metadata is not evidence either way.
type MetadataCheck struct {
	cfg MetadataConfig
}

// NewMetadataCheck constructs the check with the given tuning.
func NewMetadataCheck(cfg MetadataConfig) *MetadataCheck {
	return &MetadataCheck{cfg: cfg}
}

// Name implements Check.
func (m *MetadataCheck) Name() string { return CheckMetadata }

// Run implements Check. Metadata evidence is global, so no regions are
// produced.
func (m *MetadataCheck) Run(img *imaging.Raster) Result {
	meta := img.Meta
	if !meta.Present {
		return Result{Abstained: true}
	}

	score := 0.0
	if software := strings.ToLower(meta.Software); software != "" {
		for _, editor := range m.cfg.EditorSoftware {
			if strings.Contains(software, editor) {
				score = 1
				break
			}
		}
	}
	if meta.DateTime != "" {
		switch {
		case meta.DateTimeOriginal == "":
			score = math.Max(score, 0.5)
		case meta.DateTime != meta.DateTimeOriginal:
			score = math.Max(score, 1)
		}
	}
	return Result{Score: score}
}
