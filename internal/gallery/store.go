package gallery

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

const (
	// fileExt is the extension of identity files under the gallery
	// directory; anything else is ignored.
	fileExt = ".cbor"

	// normTolerance bounds how far a stored embedding's L2 norm may drift
	// from 1. Matching assumes unit vectors on both sides.
	normTolerance = 1e-3
)

// LoadError reports a gallery database that is present but unusable. A failed
// reload never swaps: the previous snapshot stays in service.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("gallery load failed for %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Entry is one known identity and its reference embeddings.
type Entry struct {
	Label      string
	Embeddings [][]float32
}

// galleryFile is the on-disk layout, one CBOR document per identity.
type galleryFile struct {
	Label      string      `cbor:"label"`
	Dim        int         `cbor:"embedding_dim"`
	Embeddings [][]float32 `cbor:"embeddings"`
}

// Snapshot is one immutable, fully-loaded gallery generation. Matchers read
// whichever snapshot is current when their query starts; reloads publish a
// complete replacement instead of mutating in place.
type Snapshot struct {
	entries    []Entry
	dim        int
	embeddings int
}

// Stats summarizes one loaded gallery generation.
type Stats struct {
	Identities int `json:"identities"`
	Embeddings int `json:"embeddings"`
}

// Store owns the process-wide reference gallery. It starts empty; Reload
// populates it from disk.
type Store struct {
	dir      string
	dim      int
	logger   *zap.Logger
	snapshot atomic.Pointer[Snapshot]
}

// NewStore prepares a store over the given directory for embeddings of the
// given length.
func NewStore(dir string, dim int, logger *zap.Logger) *Store {
	s := &Store{dir: dir, dim: dim, logger: logger.Named("gallery")}
	s.snapshot.Store(&Snapshot{dim: dim})
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.snapshot.Load()
}

// Reload reads every identity file under the gallery directory, validates it,
// and swaps the assembled snapshot in atomically. A missing directory yields
// an empty gallery; any malformed file aborts the whole reload.
func (s *Store) Reload() (Stats, error) {
	entries, total, err := s.loadDir()
	if err != nil {
		return Stats{}, err
	}

	s.snapshot.Store(&Snapshot{entries: entries, dim: s.dim, embeddings: total})
	stats := Stats{Identities: len(entries), Embeddings: total}
	s.logger.Info("gallery loaded",
		zap.Int("identities", stats.Identities),
		zap.Int("embeddings", stats.Embeddings),
	)
	return stats, nil
}

func (s *Store) loadDir() ([]Entry, int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, &LoadError{Path: s.dir, Err: err}
	}

	sourceOf := make(map[string]string)
	var entries []Entry
	var total int
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), fileExt) {
			continue
		}
		path := filepath.Join(s.dir, dirEntry.Name())
		entry, err := loadFile(path, s.dim)
		if err != nil {
			return nil, 0, err
		}
		if prev, ok := sourceOf[entry.Label]; ok {
			return nil, 0, &LoadError{Path: path, Err: fmt.Errorf("identity %q already defined in %s", entry.Label, prev)}
		}
		sourceOf[entry.Label] = dirEntry.Name()
		entries = append(entries, entry)
		total += len(entry.Embeddings)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries, total, nil
}

func loadFile(path string, dim int) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, &LoadError{Path: path, Err: err}
	}
	var file galleryFile
	if err := cbor.Unmarshal(data, &file); err != nil {
		return Entry{}, &LoadError{Path: path, Err: err}
	}
	if file.Label == "" {
		return Entry{}, &LoadError{Path: path, Err: errors.New("missing identity label")}
	}
	if file.Dim != dim {
		return Entry{}, &LoadError{Path: path, Err: fmt.Errorf("embedding length %d, expected %d", file.Dim, dim)}
	}
	if len(file.Embeddings) == 0 {
		return Entry{}, &LoadError{Path: path, Err: errors.New("no embeddings")}
	}
	for i, embedding := range file.Embeddings {
		if len(embedding) != dim {
			return Entry{}, &LoadError{Path: path, Err: fmt.Errorf("embedding %d has length %d, expected %d", i, len(embedding), dim)}
		}
		if err := checkNormalized(embedding); err != nil {
			return Entry{}, &LoadError{Path: path, Err: fmt.Errorf("embedding %d: %w", i, err)}
		}
	}
	return Entry{Label: file.Label, Embeddings: file.Embeddings}, nil
}

func checkNormalized(embedding []float32) error {
	var sum float64
	for _, v := range embedding {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) > normTolerance {
		return fmt.Errorf("not L2-normalized (norm %.4f)", norm)
	}
	return nil
}
