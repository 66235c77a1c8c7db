package maintenance

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/mazeproblem"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/workerpool"
)

func newMaze(dir string) *mazeproblem.Maze {
	return mazeproblem.New(mazeproblem.DefaultLevel, dir)
}

// encode packs a maze state {x,y} exactly like mazeproblem.CompressedState:
// two little-endian uint16s.
func encode(x, y int) []byte {
	return []byte{byte(x), byte(x >> 8), byte(y), byte(y >> 8)}
}

func writeRecords(t *testing.T, path string, recSize int, recs [][]byte) {
	t.Helper()
	w, err := recio.CreateWrite(path, recSize)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r, 1))
	}
	require.NoError(t, w.Close())
}

func TestSortOpenSortsAndDedupsInPlace(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	g := core.FrameGroup(0)

	writeRecords(t, core.OpenPath(dir, g), 4, [][]byte{
		encode(5, 5), encode(1, 1), encode(1, 1), encode(3, 2),
	})

	require.NoError(t, SortOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, m))

	rs, err := recio.OpenRead(core.OpenPath(dir, g), 4)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(3), rs.Size())
}

func TestPackOpenCompactsAdjacentDuplicates(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	g := core.FrameGroup(1)

	writeRecords(t, core.OpenPath(dir, g), 4, [][]byte{
		encode(1, 1), encode(1, 1), encode(2, 2),
	})

	require.NoError(t, PackOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, m))

	rs, err := recio.OpenRead(core.OpenPath(dir, g), 4)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(2), rs.Size())
}

func TestVerifyDetectsSortedUniqueFile(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	g := core.FrameGroup(2)

	writeRecords(t, core.ClosedPath(dir, g), 4, [][]byte{
		encode(1, 1), encode(2, 2), encode(3, 3),
	})

	report, err := Verify[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, m)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Records)
	assert.Equal(t, int64(0), report.OutOfOrder)
	assert.Equal(t, int64(0), report.Duplicates)
	assert.True(t, report.UsedBitmap)
}

func TestVerifyFlagsDuplicatesAndOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	g := core.FrameGroup(3)

	writeRecords(t, core.ClosedPath(dir, g), 4, [][]byte{
		encode(2, 2), encode(2, 2), encode(1, 1),
	})

	report, err := Verify[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, m)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Duplicates)
	assert.Equal(t, int64(1), report.OutOfOrder)
}

func TestCompareReportsOnlyAOnlyBAndBoth(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	pathA := core.OpenPath(dir, 0)
	pathB := core.OpenPath(dir, 1)

	writeRecords(t, pathA, 4, [][]byte{encode(1, 1), encode(2, 2), encode(3, 3)})
	writeRecords(t, pathB, 4, [][]byte{encode(2, 2), encode(3, 3), encode(4, 4)})

	report, err := Compare[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](pathA, pathB, m)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.OnlyA)
	assert.Equal(t, int64(1), report.OnlyB)
	assert.Equal(t, int64(2), report.Both)
}

func TestCreateAllMergesClosedGroups(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)

	writeRecords(t, core.ClosedPath(dir, 0), 4, [][]byte{encode(1, 1), encode(3, 3)})
	writeRecords(t, core.ClosedPath(dir, 1), 4, [][]byte{encode(2, 2), encode(4, 4)})

	require.NoError(t, CreateAll[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, m))

	rs, err := recio.OpenRead(core.AllPath(dir, 1), 4)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(4), rs.Size())
}

func TestFindExitLocatesSmallestFrame(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)

	// (13,13) is 'F' in DefaultLevel.
	writeRecords(t, core.ClosedPath(dir, 0), 4, [][]byte{encode(1, 1)})
	writeRecords(t, core.ClosedPath(dir, 1), 4, [][]byte{encode(13, 13)})

	found, _, frame, err := FindExit[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, 0, 1, m)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, core.Frame(1), frame)
}

func readAll(t *testing.T, path string, recSize int) [][]byte {
	t.Helper()
	rs, err := recio.OpenRead(path, recSize)
	require.NoError(t, err)
	defer rs.Close()
	buf := make([]byte, recSize)
	var out [][]byte
	for {
		n, err := rs.Read(buf, 1)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, append([]byte(nil), buf...))
	}
	return out
}

func TestFilterOpenMasksClosedRecords(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)

	writeRecords(t, core.ClosedPath(dir, 0), 4, [][]byte{encode(1, 1)})
	writeRecords(t, core.OpenPath(dir, 1), 4, [][]byte{encode(1, 1), encode(2, 2)})

	require.NoError(t, FilterOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, m))

	got := readAll(t, core.OpenPath(dir, 1), 4)
	require.Len(t, got, 1)
	assert.Equal(t, encode(2, 2), got[0])
}

func TestSeqFilterOpenRewritesInPlace(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)

	writeRecords(t, core.ClosedPath(dir, 0), 4, [][]byte{encode(2, 2)})
	writeRecords(t, core.OpenPath(dir, 1), 4, [][]byte{encode(1, 1), encode(2, 2), encode(3, 3)})

	require.NoError(t, SeqFilterOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, 1, m))

	got := readAll(t, core.OpenPath(dir, 1), 4)
	require.Len(t, got, 2)
	assert.Equal(t, encode(1, 1), got[0])
	assert.Equal(t, encode(3, 3), got[1])
}

func TestRegenerateOpenRederivesFrontier(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)

	// (1,1) is a start cell whose only open neighbour is (1,2), so
	// re-expanding closed-0 must recreate an open-1 holding exactly it.
	writeRecords(t, core.ClosedPath(dir, 0), 4, [][]byte{encode(1, 1)})

	pool := workerpool.New(2, 16, nil)
	require.NoError(t, RegenerateOpen[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](context.Background(), dir, 0, 0, m, pool))

	got := readAll(t, core.OpenPath(dir, 1), 4)
	require.Len(t, got, 1)
	assert.Equal(t, encode(1, 2), got[0])

	// Writes to the already-closed group itself stay suppressed.
	_, err := os.Stat(core.OpenPath(dir, 0))
	assert.True(t, os.IsNotExist(err))
}

func TestDumpWritesOneLinePerDecodedState(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	writeRecords(t, core.OpenPath(dir, 0), 4, [][]byte{encode(1, 1), encode(2, 3)})

	var buf bytes.Buffer
	n, err := Dump[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](core.OpenPath(dir, 0), m, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, buf.String(), "{X:1 Y:1}")
	assert.Contains(t, buf.String(), "{X:2 Y:3}")
}

func TestConvertMergesLeftoverChunks(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	g := core.FrameGroup(2)

	// An interrupted sort-open leaves sorted chunks with a cross-chunk
	// duplicate; convert must merge, dedup, and clean the chunks up.
	writeRecords(t, core.ChunkPath(dir, g, 0), 4, [][]byte{encode(1, 1), encode(3, 3)})
	writeRecords(t, core.ChunkPath(dir, g, 1), 4, [][]byte{encode(2, 2), encode(3, 3)})

	require.NoError(t, Convert[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, g, m))

	got := readAll(t, core.OpenPath(dir, g), 4)
	require.Len(t, got, 3)
	assert.Equal(t, encode(1, 1), got[0])
	assert.Equal(t, encode(2, 2), got[1])
	assert.Equal(t, encode(3, 3), got[2])

	_, err := os.Stat(core.ChunkPath(dir, g, 0))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(core.ChunkPath(dir, g, 1))
	assert.True(t, os.IsNotExist(err))
}

func TestCountReportsRecordsPerGroup(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	writeRecords(t, core.OpenPath(dir, 0), 4, [][]byte{encode(1, 1), encode(2, 2)})
	writeRecords(t, core.OpenPath(dir, 3), 4, [][]byte{encode(4, 4)})

	counts, err := Count[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, "open", m)
	require.NoError(t, err)
	assert.Equal(t, map[core.FrameGroup]int64{0: 2, 3: 1}, counts)
}

func TestSampleRandomReadsAClosedRecord(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)
	writeRecords(t, core.ClosedPath(dir, 4), 4, [][]byte{encode(5, 6)})

	s, frame, err := SampleRandom[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, 4, m, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, mazeproblem.State{X: 5, Y: 6}, s)
	assert.Equal(t, core.Frame(4), frame)
}

func TestWritePartialSolutionRendersCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := newMaze(dir)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, int32(1)))
	buf.Write(encode(1, 2))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, int32(1)))
	buf.Write(m.EncodeStep(mazeproblem.Step{Action: mazeproblem.Down}))
	require.NoError(t, os.WriteFile(core.SolutionBinPath(dir), buf.Bytes(), 0o644))

	require.NoError(t, WritePartialSolution[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, m))
	assert.FileExists(t, core.SolutionTxtPath(dir))
}

func TestUnpackRestoresFromOpenPacked(t *testing.T) {
	dir := t.TempDir()
	g := core.FrameGroup(5)
	writeRecords(t, core.OpenPackedPath(dir, g), 4, [][]byte{encode(1, 1)})

	require.NoError(t, Unpack(dir, g))

	rs, err := recio.OpenRead(core.OpenPath(dir, g), 4)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(1), rs.Size())
}
