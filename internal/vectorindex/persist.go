package vectorindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/timmy/storydedup/internal/logger"
)

// File names of the persisted pair. Both are written together and are meaningless apart.
const (
	VectorsFile = "vectors.f32"
	MetaFile    = "index_meta.json"
	lockFile    = ".index.lock"

	formatVersion = 1
)

// Meta is the sidecar document mapping slots to artifact ids.
type Meta struct {
	FormatVersion int      `json:"format_version"`
	Dim           int      `json:"dim"`
	Count         int      `json:"count"`
	IDs           []string `json:"ids"`
	SavedAt       string   `json:"saved_at"`
}

// Save writes the vector blob and then the sidecar, each through a temp file and rename.
// A failed Save is always returned; the in-memory index is unaffected.
func (idx *Index) Save(ctx context.Context) error {
	if idx.dir == "" {
		return nil
	}
	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return fmt.Errorf("cannot create index dir %s: %w", idx.dir, err)
	}

	unlock, err := idx.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	idx.mu.RLock()
	meta := Meta{
		FormatVersion: formatVersion,
		Dim:           idx.dim,
		Count:         len(idx.ids),
		IDs:           append([]string{}, idx.ids...),
		SavedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	blob := new(bytes.Buffer)
	blob.Grow(len(idx.vectors) * 4)
	err = binary.Write(blob, binary.LittleEndian, idx.vectors)
	idx.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("cannot encode vectors: %w", err)
	}

	mb, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(idx.dir, VectorsFile, blob.Bytes()); err != nil {
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	if err := writeAtomic(idx.dir, MetaFile, mb); err != nil {
		return fmt.Errorf("cannot write index metadata: %w", err)
	}

	logger.FromContextOr(ctx, idx.log).WithFields(logger.Fields{
		logger.FieldCount: meta.Count,
		"dim":             meta.Dim,
		"dir":             idx.dir,
	}).Debug("vector index saved")
	return nil
}

// Load replaces the in-memory contents with the persisted pair.
// On any failure the index is left empty and usable, the failure is logged,
// and the error is returned for the caller to report.
func (idx *Index) Load(ctx context.Context) error {
	if idx.dir == "" {
		return nil
	}
	log := logger.FromContextOr(ctx, idx.log)

	unlock, err := idx.acquire(ctx, true)
	if err != nil {
		idx.reset()
		log.WithError(err).Warn("vector index load failed, starting empty")
		return err
	}
	defer unlock()

	meta, vectors, err := readPair(idx.dir)
	if err != nil {
		idx.reset()
		log.WithError(err).Warn("vector index load failed, starting empty")
		return err
	}

	slots := make(map[string]int, len(meta.IDs))
	for i, id := range meta.IDs {
		slots[id] = i
	}

	idx.mu.Lock()
	idx.dim = meta.Dim
	idx.ids = meta.IDs
	idx.slots = slots
	idx.vectors = vectors
	idx.mu.Unlock()

	log.WithFields(logger.Fields{
		logger.FieldCount: meta.Count,
		"dim":             meta.Dim,
	}).Info("vector index loaded")
	return nil
}

func (idx *Index) reset() {
	idx.mu.Lock()
	idx.resetLocked()
	idx.mu.Unlock()
}

func readPair(dir string) (*Meta, []float32, error) {
	metaPath := filepath.Join(dir, MetaFile)
	mb, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read index metadata %s: %w", metaPath, err)
	}
	vecPath := filepath.Join(dir, VectorsFile)
	raw, err := os.ReadFile(vecPath)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read vector file %s: %w", vecPath, err)
	}
	return parsePair(mb, raw)
}

// parsePair validates a sidecar and blob against each other and decodes the vectors.
func parsePair(metaJSON, raw []byte) (*Meta, []float32, error) {
	var m Meta
	if err := json.Unmarshal(metaJSON, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid metadata JSON: %v", ErrIndexCorrupt, err)
	}
	if m.FormatVersion != formatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported format_version %d", ErrIndexCorrupt, m.FormatVersion)
	}
	if m.Count != len(m.IDs) {
		return nil, nil, fmt.Errorf("%w: count %d does not match %d ids", ErrIndexCorrupt, m.Count, len(m.IDs))
	}
	if m.Count > 0 && m.Dim <= 0 {
		return nil, nil, fmt.Errorf("%w: invalid dim %d", ErrIndexCorrupt, m.Dim)
	}
	seen := make(map[string]struct{}, len(m.IDs))
	for slot, id := range m.IDs {
		if id == "" {
			return nil, nil, fmt.Errorf("%w: empty id at slot %d", ErrIndexCorrupt, slot)
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("%w: id %q appears twice", ErrIndexCorrupt, id)
		}
		seen[id] = struct{}{}
	}
	if m.Count == 0 {
		m.Dim = 0
		m.IDs = nil
	}

	expected := m.Count * m.Dim * 4
	if len(raw) != expected {
		return nil, nil, fmt.Errorf("%w: vector file size mismatch: got %d want %d (count=%d dim=%d)",
			ErrIndexCorrupt, len(raw), expected, m.Count, m.Dim)
	}
	if expected == 0 {
		return &m, nil, nil
	}
	vectors := make([]float32, m.Count*m.Dim)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, vectors); err != nil {
		return nil, nil, fmt.Errorf("%w: cannot decode vectors: %v", ErrIndexCorrupt, err)
	}
	return &m, vectors, nil
}

// Export saves the index and returns the persisted sidecar and blob as written.
func (idx *Index) Export(ctx context.Context) (metaJSON, vectors []byte, err error) {
	if idx.dir == "" {
		return nil, nil, fmt.Errorf("export needs a persistent index directory")
	}
	if err := idx.Save(ctx); err != nil {
		return nil, nil, err
	}
	unlock, err := idx.acquire(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	metaJSON, err = os.ReadFile(filepath.Join(idx.dir, MetaFile))
	if err != nil {
		return nil, nil, err
	}
	vectors, err = os.ReadFile(filepath.Join(idx.dir, VectorsFile))
	if err != nil {
		return nil, nil, err
	}
	if _, _, err := parsePair(metaJSON, vectors); err != nil {
		return nil, nil, err
	}
	return metaJSON, vectors, nil
}

// Import validates a sidecar and blob, installs them in the index directory and loads them.
// An invalid pair is rejected before anything on disk changes.
func (idx *Index) Import(ctx context.Context, metaJSON, vectors []byte) error {
	if idx.dir == "" {
		return fmt.Errorf("import needs a persistent index directory")
	}
	if _, _, err := parsePair(metaJSON, vectors); err != nil {
		return err
	}

	unlock, err := idx.acquire(ctx, false)
	if err != nil {
		return err
	}
	if err := writeAtomic(idx.dir, VectorsFile, vectors); err != nil {
		unlock()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	if err := writeAtomic(idx.dir, MetaFile, metaJSON); err != nil {
		unlock()
		return fmt.Errorf("cannot write index metadata: %w", err)
	}
	unlock()

	return idx.Load(ctx)
}

// writeAtomic writes data to dir/name via a temp file in the same directory.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// acquire takes the directory lock, shared for readers and exclusive for writers,
// retrying until the lock timeout or context cancellation.
func (idx *Index) acquire(ctx context.Context, shared bool) (func(), error) {
	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return func() {}, fmt.Errorf("cannot create index dir %s: %w", idx.dir, err)
	}
	lockPath := filepath.Join(idx.dir, lockFile)
	l := flock.New(lockPath)
	deadline := time.Now().Add(idx.lockTimeout)
	for {
		var locked bool
		var err error
		if shared {
			locked, err = l.TryRLock()
		} else {
			locked, err = l.TryLock()
		}
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire index lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		}
		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
