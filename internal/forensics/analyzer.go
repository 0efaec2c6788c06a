package forensics

import (
	"math"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

// Regions flagged by different checks are considered the same finding above
// this overlap ratio.
const regionOverlapThreshold = 0.5

// Config assembles the tunables for the fused tamper analysis. Thresholds
// and weights arrive from the environment, never from per-image logic.
type Config struct {
	HighThreshold float64
	LowThreshold  float64

	CompressionWeight float64
	CopyMoveWeight    float64
	MetadataWeight    float64

	Compression CompressionConfig
	CopyMove    CopyMoveConfig
	Metadata    MetadataConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HighThreshold:     0.50,
		LowThreshold:      0.25,
		CompressionWeight: 0.4,
		CopyMoveWeight:    0.4,
		MetadataWeight:    0.2,
		Compression:       DefaultCompressionConfig(),
		CopyMove:          DefaultCopyMoveConfig(),
		Metadata:          DefaultMetadataConfig(),
	}
}

type weightedCheck struct {
	check  Check
	weight float64
}

// Analyzer fuses the independent tamper checks into one verdict.
type Analyzer struct {
	checks []weightedCheck
	high   float64
	low    float64
}

// NewAnalyzer assembles the standard check set. Checks with non-positive
// weight are disabled entirely.
func NewAnalyzer(cfg Config) *Analyzer {
	all := []weightedCheck{
		{NewCompressionCheck(cfg.Compression), cfg.CompressionWeight},
		{NewCopyMoveCheck(cfg.CopyMove), cfg.CopyMoveWeight},
		{NewMetadataCheck(cfg.Metadata), cfg.MetadataWeight},
	}
	checks := make([]weightedCheck, 0, len(all))
	for _, wc := range all {
		if wc.weight > 0 {
			checks = append(checks, wc)
		}
	}
	return &Analyzer{checks: checks, high: cfg.HighThreshold, low: cfg.LowThreshold}
}

// Analyze runs every active check and fuses their scores into a weighted
// average over the non-abstaining subset. When every check abstains the
// verdict is inconclusive with zero confidence.
func (a *Analyzer) Analyze(img *imaging.Raster) Verdict {
	findings := make([]Finding, 0, len(a.checks))
	var regions []Region
	var weightedSum, activeWeight float64

	for _, wc := range a.checks {
		result := wc.check.Run(img)
		findings = append(findings, Finding{Check: wc.check.Name(), Score: result.Score, Abstained: result.Abstained})
		if result.Abstained {
			continue
		}
		weightedSum += wc.weight * result.Score
		activeWeight += wc.weight
		regions = append(regions, result.Regions...)
	}

	if activeWeight == 0 {
		return Verdict{Classification: ClassificationInconclusive, Findings: findings}
	}

	fused := weightedSum / activeWeight
	verdict := Verdict{FusedScore: fused, Findings: findings}
	switch {
	case fused >= a.high:
		verdict.Classification = ClassificationTampered
		verdict.Confidence = decisiveConfidence(fused-a.high, 1-a.high)
		verdict.Regions = dedupeRegions(regions, regionOverlapThreshold)
	case fused <= a.low:
		verdict.Classification = ClassificationAuthentic
		verdict.Confidence = decisiveConfidence(a.low-fused, a.low)
	default:
		verdict.Classification = ClassificationInconclusive
		verdict.Confidence = inconclusiveConfidence(fused, a.low, a.high)
		verdict.Regions = dedupeRegions(regions, regionOverlapThreshold)
	}
	return verdict
}

// decisiveConfidence maps the distance past the crossed threshold onto
// [0.5, 1]: barely crossing reads as an even call, saturating the span as
// certainty.
func decisiveConfidence(distance, span float64) float64 {
	if span <= 0 {
		return 1
	}
	return clamp01(0.5 + 0.5*distance/span)
}

// inconclusiveConfidence peaks at the midpoint of the undecided band and
// decays to zero at either threshold.
func inconclusiveConfidence(fused, low, high float64) float64 {
	half := (high - low) / 2
	if half <= 0 {
		return 0
	}
	mid := (high + low) / 2
	return clamp01(1 - math.Abs(fused-mid)/half)
}
