package forensics

import (
	"math"
	"reflect"
	"testing"

	"github.com/sightline-forensics/sightline/internal/imaging"
)

type stubCheck struct {
	name   string
	result Result
}

func (s stubCheck) Name() string                 { return s.name }
func (s stubCheck) Run(_ *imaging.Raster) Result { return s.result }

func stubAnalyzer(high, low float64, checks ...weightedCheck) *Analyzer {
	return &Analyzer{checks: checks, high: high, low: low}
}

func TestAnalyzeRenormalizesWeightsOverAbstentions(t *testing.T) {
	a := stubAnalyzer(0.50, 0.25,
		weightedCheck{stubCheck{name: CheckCopyMove, result: Result{Score: 1.0}}, 0.4},
		weightedCheck{stubCheck{name: CheckCompression, result: Result{Score: 0.0}}, 0.4},
		weightedCheck{stubCheck{name: CheckMetadata, result: Result{Abstained: true}}, 0.2},
	)

	verdict := a.Analyze(nil)
	if verdict.FusedScore != 0.5 {
		t.Fatalf("expected fused score 0.5 after renormalization, got %f", verdict.FusedScore)
	}
	if verdict.Classification != ClassificationTampered {
		t.Fatalf("fused score at the high threshold must classify tampered, got %s", verdict.Classification)
	}
	if len(verdict.Findings) != 3 {
		t.Fatalf("abstaining checks still report findings, got %d", len(verdict.Findings))
	}
	if !verdict.Findings[2].Abstained {
		t.Fatalf("metadata finding should be marked abstained: %+v", verdict.Findings[2])
	}
}

func TestAnalyzeAllAbstainedIsInconclusive(t *testing.T) {
	a := stubAnalyzer(0.50, 0.25,
		weightedCheck{stubCheck{name: CheckCompression, result: Result{Abstained: true}}, 0.4},
		weightedCheck{stubCheck{name: CheckCopyMove, result: Result{Abstained: true}}, 0.4},
	)

	verdict := a.Analyze(nil)
	if verdict.Classification != ClassificationInconclusive {
		t.Fatalf("expected inconclusive, got %s", verdict.Classification)
	}
	if verdict.Confidence != 0 || verdict.FusedScore != 0 {
		t.Fatalf("all-abstain verdict must carry zero confidence and score, got %+v", verdict)
	}
	if len(verdict.Regions) != 0 {
		t.Fatalf("all-abstain verdict must carry no regions, got %+v", verdict.Regions)
	}
	if len(verdict.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(verdict.Findings))
	}
}

func TestAnalyzeAuthenticDropsRegions(t *testing.T) {
	a := stubAnalyzer(0.50, 0.25,
		weightedCheck{stubCheck{name: CheckCompression, result: Result{
			Score:   0.1,
			Regions: []Region{{X: 0, Y: 0, W: 16, H: 16, Score: 0.1, Source: CheckCompression}},
		}}, 1.0},
	)

	verdict := a.Analyze(nil)
	if verdict.Classification != ClassificationAuthentic {
		t.Fatalf("expected authentic, got %s", verdict.Classification)
	}
	if len(verdict.Regions) != 0 {
		t.Fatalf("authentic verdicts must not surface regions, got %+v", verdict.Regions)
	}
}

func TestAnalyzeTamperedDedupesOverlappingRegions(t *testing.T) {
	a := stubAnalyzer(0.50, 0.25,
		weightedCheck{stubCheck{name: CheckCompression, result: Result{
			Score:   0.9,
			Regions: []Region{{X: 0, Y: 0, W: 32, H: 32, Score: 0.6, Source: CheckCompression}},
		}}, 0.5},
		weightedCheck{stubCheck{name: CheckCopyMove, result: Result{
			Score:   0.9,
			Regions: []Region{{X: 2, Y: 2, W: 32, H: 32, Score: 0.9, Source: CheckCopyMove}},
		}}, 0.5},
	)

	verdict := a.Analyze(nil)
	if verdict.Classification != ClassificationTampered {
		t.Fatalf("expected tampered, got %s", verdict.Classification)
	}
	if len(verdict.Regions) != 1 {
		t.Fatalf("overlapping regions from different checks must merge, got %+v", verdict.Regions)
	}
	if verdict.Regions[0].Source != CheckCopyMove {
		t.Fatalf("the higher-scoring region must survive, got %+v", verdict.Regions[0])
	}
}

func TestNewAnalyzerSkipsZeroWeightChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetadataWeight = 0

	a := NewAnalyzer(cfg)
	if len(a.checks) != 2 {
		t.Fatalf("zero-weight checks must be disabled, got %d active", len(a.checks))
	}
	for _, wc := range a.checks {
		if wc.check.Name() == CheckMetadata {
			t.Fatalf("metadata check should not be active")
		}
	}
}

func TestDecisiveConfidence(t *testing.T) {
	if got := decisiveConfidence(0, 0.5); got != 0.5 {
		t.Fatalf("barely crossing the threshold should read 0.5, got %f", got)
	}
	if got := decisiveConfidence(0.5, 0.5); got != 1 {
		t.Fatalf("saturating the span should read 1, got %f", got)
	}
	if got := decisiveConfidence(0.1, 0); got != 1 {
		t.Fatalf("degenerate span should read 1, got %f", got)
	}
}

func TestInconclusiveConfidence(t *testing.T) {
	if got := inconclusiveConfidence(0.375, 0.25, 0.50); math.Abs(got-1) > 1e-9 {
		t.Fatalf("band midpoint should read 1, got %f", got)
	}
	if got := inconclusiveConfidence(0.30, 0.25, 0.50); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("expected 0.4 near the low threshold, got %f", got)
	}
	if got := inconclusiveConfidence(0.375, 0.375, 0.375); got != 0 {
		t.Fatalf("degenerate band should read 0, got %f", got)
	}
}

func TestAnalyzeCleanJPEGNotTampered(t *testing.T) {
	img := rasterFromJPEG(t, naturalImage(256, 256, 21), 75)

	verdict := NewAnalyzer(DefaultConfig()).Analyze(img)
	if verdict.Classification == ClassificationTampered {
		t.Fatalf("clean capture must not classify tampered: %+v", verdict)
	}
}

func TestAnalyzeDuplicatedRegionTampered(t *testing.T) {
	base := noiseImage(256, 256, 9)
	copyRegion(base, 16, 16, 160, 96, 64, 64)
	img := rasterFromPNG(t, base)

	verdict := NewAnalyzer(DefaultConfig()).Analyze(img)
	if verdict.Classification != ClassificationTampered {
		t.Fatalf("duplicated region must classify tampered, got %+v", verdict)
	}
	if verdict.Confidence <= 0 {
		t.Fatalf("tampered verdict must carry confidence, got %f", verdict.Confidence)
	}
	if !anyRegionOverlaps(verdict.Regions, 160, 96, 64, 64) {
		t.Fatalf("expected a region over the duplicated area, got %+v", verdict.Regions)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	base := noiseImage(256, 256, 9)
	copyRegion(base, 16, 16, 160, 96, 64, 64)
	img := rasterFromPNG(t, base)

	analyzer := NewAnalyzer(DefaultConfig())
	first := analyzer.Analyze(img)
	for i := 0; i < 3; i++ {
		next := analyzer.Analyze(img)
		if !reflect.DeepEqual(first, next) {
			t.Fatalf("repeat run diverged:\nfirst: %+v\nnext:  %+v", first, next)
		}
	}
}
