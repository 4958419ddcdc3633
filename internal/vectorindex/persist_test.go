package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededIndex(t *testing.T, dir string) *Index {
	t.Helper()
	ctx := context.Background()
	idx := newTestIndex(dir)
	require.True(t, idx.Add(ctx, "a", []float32{1, 0, 0}))
	require.True(t, idx.Add(ctx, "b", []float32{0.6, 0.8, 0}))
	require.True(t, idx.Add(ctx, "c", []float32{0, 0, 5}))
	return idx
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	orig := seededIndex(t, dir)
	require.NoError(t, orig.Save(ctx))

	assert.FileExists(t, filepath.Join(dir, VectorsFile))
	assert.FileExists(t, filepath.Join(dir, MetaFile))

	fresh := newTestIndex(dir)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 3, fresh.Size(ctx))
	assert.Equal(t, 3, fresh.Dimension())
	assert.Equal(t, []string{"a", "b", "c"}, fresh.IDs())

	for _, q := range [][]float32{{1, 0, 0}, {0.5, 0.5, 0.5}, {0, 1, 0}} {
		want, err := orig.Search(ctx, q, 3, "")
		require.NoError(t, err)
		got, err := fresh.Search(ctx, q, 3, "")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSave_WritesSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, seededIndex(t, dir).Save(ctx))

	b, err := os.ReadFile(filepath.Join(dir, MetaFile))
	require.NoError(t, err)
	var m Meta
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, formatVersion, m.FormatVersion)
	assert.Equal(t, 3, m.Dim)
	assert.Equal(t, 3, m.Count)
	assert.NotEmpty(t, m.SavedAt)

	st, err := os.Stat(filepath.Join(dir, VectorsFile))
	require.NoError(t, err)
	assert.Equal(t, int64(3*3*4), st.Size())
}

func TestSaveLoad_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, newTestIndex(dir).Save(ctx))

	fresh := newTestIndex(dir)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 0, fresh.Size(ctx))
	assert.True(t, fresh.Add(ctx, "x", []float32{1, 1}))
}

func TestLoad_MissingFilesLeavesIndexEmpty(t *testing.T) {
	ctx := context.Background()
	idx := seededIndex(t, t.TempDir())

	err := idx.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, 0, idx.Size(ctx))
}

func TestLoad_CorruptPairLeavesIndexEmpty(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "truncated vectors",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), []byte{1, 2, 3}, 0o644))
			},
		},
		{
			name: "garbage metadata",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), []byte("{not json"), 0o644))
			},
		},
		{
			name: "count disagrees with ids",
			corrupt: func(t *testing.T, dir string) {
				m := Meta{FormatVersion: formatVersion, Dim: 3, Count: 2, IDs: []string{"a", "b", "c"}}
				b, _ := json.Marshal(m)
				require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), b, 0o644))
			},
		},
		{
			name: "duplicate ids",
			corrupt: func(t *testing.T, dir string) {
				m := Meta{FormatVersion: formatVersion, Dim: 3, Count: 3, IDs: []string{"a", "a", "c"}}
				b, _ := json.Marshal(m)
				require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), b, 0o644))
			},
		},
		{
			name: "unknown format version",
			corrupt: func(t *testing.T, dir string) {
				m := Meta{FormatVersion: 99, Dim: 3, Count: 3, IDs: []string{"a", "b", "c"}}
				b, _ := json.Marshal(m)
				require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), b, 0o644))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			require.NoError(t, seededIndex(t, dir).Save(ctx))
			tc.corrupt(t, dir)

			idx := seededIndex(t, dir)
			err := idx.Load(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIndexCorrupt)
			assert.Equal(t, 0, idx.Size(ctx))
			assert.Equal(t, 0, idx.Dimension())

			hits, err := idx.Search(ctx, []float32{1, 0, 0}, 3, "")
			require.NoError(t, err)
			assert.Empty(t, hits)
			assert.True(t, idx.Add(ctx, "z", []float32{1, 2}))
		})
	}
}

func TestSaveLoad_MemoryOnlyIsNoop(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	require.True(t, idx.Add(ctx, "a", []float32{1}))
	assert.NoError(t, idx.Save(ctx))
	assert.NoError(t, idx.Load(ctx))
	assert.Equal(t, 1, idx.Size(ctx))
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := seededIndex(t, t.TempDir())

	metaJSON, vectors, err := src.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, vectors, 3*3*4)

	dst := newTestIndex(t.TempDir())
	require.NoError(t, dst.Import(ctx, metaJSON, vectors))
	assert.Equal(t, []string{"a", "b", "c"}, dst.IDs())

	again := newTestIndex(dst.Dir())
	require.NoError(t, again.Load(ctx))
	assert.Equal(t, 3, again.Size(ctx))
}

func TestImport_RejectsInvalidPairWithoutTouchingDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := seededIndex(t, dir)
	require.NoError(t, idx.Save(ctx))

	err := idx.Import(ctx, []byte(`{"format_version":1,"dim":3,"count":2,"ids":["x"]}`), nil)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
	assert.Equal(t, 3, idx.Size(ctx))

	fresh := newTestIndex(dir)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, fresh.IDs())
}

func TestExportImport_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	_, _, err := idx.Export(ctx)
	assert.Error(t, err)
	assert.Error(t, idx.Import(ctx, nil, nil))
}
