package recbuf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/recio"
)

const recSize = 4

func writeAll(t *testing.T, path string, recs [][]byte) {
	t.Helper()
	ws, err := recio.CreateWrite(path, recSize)
	require.NoError(t, err)
	w := NewWriter(ws, recSize, 2) // small buffer to force multiple flushes
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
}

func readAll(t *testing.T, path string) [][]byte {
	t.Helper()
	rs, err := recio.OpenRead(path, recSize)
	require.NoError(t, err)
	r := NewReader(rs, recSize, 2)
	var out [][]byte
	for {
		rec, err := r.Read()
		require.NoError(t, err)
		if rec == nil {
			break
		}
		out = append(out, append([]byte(nil), rec...))
	}
	require.NoError(t, r.Close())
	return out
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.bin")
	recs := [][]byte{{1, 0, 0, 0}, {2, 0, 0, 0}, {3, 0, 0, 0}, {4, 0, 0, 0}, {5, 0, 0, 0}}
	writeAll(t, path, recs)

	got := readAll(t, path)
	require.Len(t, got, len(recs))
	for i, r := range recs {
		assert.Equal(t, r, got[i])
	}
}

func TestCheckOrderDetectsOutOfOrderRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unsorted.bin")
	writeAll(t, path, [][]byte{{2, 0, 0, 0}, {1, 0, 0, 0}})

	rs, err := recio.OpenRead(path, recSize)
	require.NoError(t, err)
	r := NewReader(rs, recSize, 8)
	r.CheckOrder(func(a, b []byte) bool { return a[0] < b[0] })
	defer r.Close()

	_, err = r.Read()
	require.NoError(t, err)
	_, err = r.Read()
	assert.Error(t, err)
}

func TestWriterRejectsWrongSizedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	ws, err := recio.CreateWrite(path, recSize)
	require.NoError(t, err)
	w := NewWriter(ws, recSize, 4)
	defer w.Close()

	err = w.Write([]byte{1, 2})
	assert.Error(t, err)
}
