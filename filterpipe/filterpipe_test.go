package filterpipe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/mergeheap"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
)

const testRecSize = 1

func less(a, b []byte) bool  { return a[0] < b[0] }
func equal(a, b []byte) bool { return a[0] == b[0] }

func newReader(t *testing.T, dir, name string, vals []byte) *recbuf.Reader {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := recio.CreateWrite(path, testRecSize)
	require.NoError(t, err)
	for _, v := range vals {
		require.NoError(t, w.Write([]byte{v}, 1))
	}
	require.NoError(t, w.Close())
	rs, err := recio.OpenRead(path, testRecSize)
	require.NoError(t, err)
	return recbuf.NewReader(rs, testRecSize, 4)
}

func newWriter(t *testing.T, dir, name string) (*recbuf.Writer, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	ws, err := recio.CreateWrite(path, testRecSize)
	require.NoError(t, err)
	return recbuf.NewWriter(ws, testRecSize, 4), path
}

func readBack(t *testing.T, path string) []byte {
	t.Helper()
	rs, err := recio.OpenRead(path, testRecSize)
	require.NoError(t, err)
	defer rs.Close()
	buf := make([]byte, testRecSize)
	var out []byte
	for {
		n, err := rs.Read(buf, 1)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, buf[0])
	}
	return out
}

func TestFilterStreamSubtractsMask(t *testing.T) {
	dir := t.TempDir()
	source := newReader(t, dir, "source.bin", []byte{1, 2, 3, 4, 5})
	maskA := newReader(t, dir, "maskA.bin", []byte{2, 4})
	maskB := newReader(t, dir, "maskB.bin", []byte{5})
	out, outPath := newWriter(t, dir, "out.bin")

	var kept []byte
	n, err := FilterStream(source, []mergeheap.Source{maskA, maskB}, out, less, equal, func(rec []byte) error {
		kept = append(kept, rec[0])
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, out.Close())

	assert.Equal(t, int64(2), n)
	assert.Equal(t, []byte{1, 3}, kept)
	assert.Equal(t, []byte{1, 3}, readBack(t, outPath))
}

func TestFilterStreamToleratesNilInput(t *testing.T) {
	dir := t.TempDir()
	source := newReader(t, dir, "source.bin", []byte{1, 2, 3})
	out, outPath := newWriter(t, dir, "out.bin")

	n, err := FilterStream(source, []mergeheap.Source{nil}, out, less, equal, nil)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	assert.Equal(t, int64(3), n)
	assert.Equal(t, []byte{1, 2, 3}, readBack(t, outPath))
}

func TestMergeTwoStreamsUnionAndSubtract(t *testing.T) {
	dir := t.TempDir()
	a := newReader(t, dir, "a.bin", []byte{1, 3, 5, 7})
	b := newReader(t, dir, "b.bin", []byte{3, 4, 7, 8})
	union, unionPath := newWriter(t, dir, "union.bin")
	aMinusB, aMinusBPath := newWriter(t, dir, "aminusb.bin")

	var aKept []byte
	unionCount, aMinusBCount, err := MergeTwoStreams(a, b, union, aMinusB, less, equal, func(rec []byte) error {
		aKept = append(aKept, rec[0])
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, union.Close())
	require.NoError(t, aMinusB.Close())

	assert.Equal(t, int64(6), unionCount)
	assert.Equal(t, int64(2), aMinusBCount)
	assert.Equal(t, []byte{1, 3, 4, 5, 7, 8}, readBack(t, unionPath))
	assert.Equal(t, []byte{1, 5}, readBack(t, aMinusBPath))
	assert.Equal(t, []byte{1, 5}, aKept)
}
