package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/sightline-forensics/sightline/internal/faces"
	"github.com/sightline-forensics/sightline/internal/forensics"
	"github.com/sightline-forensics/sightline/internal/gallery"
	"github.com/sightline-forensics/sightline/internal/imaging"
)

type stubLocator struct {
	detections []faces.Detection
}

func (s stubLocator) Detect(_ *imaging.Raster) []faces.Detection { return s.detections }

func noisePNG(t *testing.T, w, h int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.Intn(256))
			i := img.PixOffset(x, y)
			img.Pix[i] = v
			img.Pix[i+1] = v
			img.Pix[i+2] = v
			img.Pix[i+3] = 255
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testEngine(t *testing.T, locator faces.Locator, galleryDir string) *Engine {
	t.Helper()
	embedder, err := faces.NewEmbedder(128)
	if err != nil {
		t.Fatal(err)
	}
	store := gallery.NewStore(galleryDir, 128, zap.NewNop())
	if _, err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	return NewEngine(
		imaging.NewLoader(8192, 1024),
		forensics.NewAnalyzer(forensics.DefaultConfig()),
		locator,
		embedder,
		gallery.NewMatcher(store, 0.82),
		zap.NewNop(),
	)
}

func TestAnalyzeGarbageReturnsDecodeError(t *testing.T) {
	engine := testEngine(t, nil, t.TempDir())

	_, err := engine.Analyze(context.Background(), []byte("not an image"))
	var decodeErr *imaging.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestAnalyzeWithoutLocator(t *testing.T) {
	engine := testEngine(t, nil, t.TempDir())

	report, err := engine.Analyze(context.Background(), noisePNG(t, 128, 96, 1))
	if err != nil {
		t.Fatal(err)
	}
	if report.Faces == nil || len(report.Faces) != 0 {
		t.Fatalf("disabled face pipeline must yield an empty faces list, got %+v", report.Faces)
	}
	if report.Image.Width != 128 || report.Image.Height != 96 || report.Image.Format != "png" {
		t.Fatalf("unexpected image info: %+v", report.Image)
	}
	if report.Tampering.Classification == "" {
		t.Fatal("tampering verdict missing")
	}
	if report.Tampering.Regions == nil {
		t.Fatal("regions must encode as an array, not null")
	}
}

func TestAnalyzeBlankCanvasHasNoFaces(t *testing.T) {
	engine := testEngine(t, stubLocator{}, t.TempDir())

	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	report, err := engine.Analyze(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if report.Faces == nil || len(report.Faces) != 0 {
		t.Fatalf("a faceless image must yield an empty faces list, got %+v", report.Faces)
	}
	if report.Tampering.Classification == forensics.ClassificationTampered {
		t.Fatalf("blank canvas must not read tampered, got %+v", report.Tampering)
	}
}

func TestAnalyzeSkipsUnembeddableFaces(t *testing.T) {
	locator := stubLocator{detections: []faces.Detection{
		{Box: faces.Box{X: 2000, Y: 2000, W: 64, H: 64}, Confidence: 0.95},
		{Box: faces.Box{X: 16, Y: 16, W: 64, H: 64}, Confidence: 0.91},
	}}
	engine := testEngine(t, locator, t.TempDir())

	report, err := engine.Analyze(context.Background(), noisePNG(t, 128, 128, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Faces) != 1 {
		t.Fatalf("unembeddable faces must be skipped, got %+v", report.Faces)
	}
	face := report.Faces[0]
	if face.Box.X != 16 || face.Confidence != 0.91 {
		t.Fatalf("wrong face survived: %+v", face)
	}
	if face.Match.Identity != "none" || face.Match.IsMatch {
		t.Fatalf("empty gallery must yield no match, got %+v", face.Match)
	}
}

func TestAnalyzeMatchesGalleryIdentity(t *testing.T) {
	data := noisePNG(t, 128, 128, 3)
	box := faces.Box{X: 24, Y: 24, W: 72, H: 72}

	loader := imaging.NewLoader(8192, 1024)
	img, err := loader.Load(data)
	if err != nil {
		t.Fatal(err)
	}
	embedder, err := faces.NewEmbedder(128)
	if err != nil {
		t.Fatal(err)
	}
	embedding, err := embedder.Embed(img, box)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	payload, err := cbor.Marshal(struct {
		Label      string      `cbor:"label"`
		Dim        int         `cbor:"embedding_dim"`
		Embeddings [][]float32 `cbor:"embeddings"`
	}{Label: "subject-7", Dim: 128, Embeddings: [][]float32{embedding}})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "subject-7.cbor"), payload, 0o600); err != nil {
		t.Fatal(err)
	}

	locator := stubLocator{detections: []faces.Detection{{Box: box, Confidence: 0.97}}}
	engine := testEngine(t, locator, dir)

	report, err := engine.Analyze(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Faces) != 1 {
		t.Fatalf("expected one face, got %+v", report.Faces)
	}
	match := report.Faces[0].Match
	if match.Identity != "subject-7" || !match.IsMatch {
		t.Fatalf("expected a gallery hit, got %+v", match)
	}
	if match.Score < 0.999 {
		t.Fatalf("same-crop query should score near 1, got %f", match.Score)
	}
}

func TestReportJSONContract(t *testing.T) {
	engine := testEngine(t, nil, t.TempDir())

	report, err := engine.Analyze(context.Background(), noisePNG(t, 96, 96, 4))
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"image", "tampering", "faces"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("response missing %q: %s", key, data)
		}
	}
	tampering, ok := decoded["tampering"].(map[string]any)
	if !ok {
		t.Fatalf("tampering must be an object, got %T", decoded["tampering"])
	}
	for _, key := range []string{"classification", "confidence", "fused_score", "checks", "regions"} {
		if _, ok := tampering[key]; !ok {
			t.Fatalf("tampering missing %q: %s", key, data)
		}
	}
	if _, ok := decoded["faces"].([]any); !ok {
		t.Fatalf("faces must encode as an array, got %T", decoded["faces"])
	}
}
