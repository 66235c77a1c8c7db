package sortmerge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/recio"
)

// recSize=2: byte 0 is payload, byte 1 is subframe.
const testRecSize = 2

var testOrder = Order{
	Less:     func(a, b []byte) bool { return a[0] < b[0] },
	Equal:    func(a, b []byte) bool { return a[0] == b[0] },
	Subframe: func(rec []byte) uint32 { return uint32(rec[1]) },
}

func writeOpen(t *testing.T, dir string, g core.FrameGroup, recs [][2]byte) {
	t.Helper()
	w, err := recio.CreateWrite(core.OpenPath(dir, g), testRecSize)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write([]byte{r[0], r[1]}, 1))
	}
	require.NoError(t, w.Close())
}

func readMerged(t *testing.T, path string) [][2]byte {
	t.Helper()
	rs, err := recio.OpenRead(path, testRecSize)
	require.NoError(t, err)
	defer rs.Close()
	buf := make([]byte, testRecSize)
	var out [][2]byte
	for {
		n, err := rs.Read(buf, 1)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, [2]byte{buf[0], buf[1]})
	}
	return out
}

func TestSortAndMergeSingleChunkDedupsKeepingMinSubframe(t *testing.T) {
	dir := t.TempDir()
	g := core.FrameGroup(3)
	writeOpen(t, dir, g, [][2]byte{
		{5, 9}, {1, 2}, {1, 0}, {3, 1}, {1, 5},
	})

	result, err := SortAndMerge(dir, g, testRecSize, 1<<20, testOrder)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Records)

	got := readMerged(t, result.MergedPath)
	require.Len(t, got, 3)
	assert.Equal(t, [2]byte{1, 0}, got[0])
	assert.Equal(t, [2]byte{3, 1}, got[1])
	assert.Equal(t, [2]byte{5, 9}, got[2])
}

func TestSortAndMergeMultiChunkMergesAcrossChunkBoundaries(t *testing.T) {
	dir := t.TempDir()
	g := core.FrameGroup(7)
	// With ramBytes forcing 2-record chunks, payload 4 appears in two
	// different chunks and must still collapse to one record.
	writeOpen(t, dir, g, [][2]byte{
		{4, 3}, {2, 0}, {4, 1}, {6, 0}, {1, 0}, {4, 9},
	})

	result, err := SortAndMerge(dir, g, testRecSize, 2*testRecSize, testOrder)
	require.NoError(t, err)

	got := readMerged(t, result.MergedPath)
	require.Len(t, got, 4)
	assert.Equal(t, byte(1), got[0][0])
	assert.Equal(t, byte(2), got[1][0])
	assert.Equal(t, byte(4), got[2][0])
	assert.Equal(t, byte(1), got[2][1], "minimum subframe across chunks must win")
	assert.Equal(t, byte(6), got[3][0])
}

func TestSortAndMergeMissingOpenIsNoop(t *testing.T) {
	dir := t.TempDir()
	result, err := SortAndMerge(dir, core.FrameGroup(1), testRecSize, 1<<20, testOrder)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestSortAndMergeResumesFromExistingMerged(t *testing.T) {
	dir := t.TempDir()
	g := core.FrameGroup(2)
	writeOpen(t, dir, g, [][2]byte{{9, 0}})

	mergedPath := core.MergedPath(dir, g)
	w, err := recio.CreateWrite(mergedPath, testRecSize)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte{1, 0, 2, 0}, 2))
	require.NoError(t, w.Close())

	result, err := SortAndMerge(dir, g, testRecSize, 1<<20, testOrder)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Records)
}
