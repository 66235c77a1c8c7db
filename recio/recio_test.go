package recio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecSize = 4

func TestWriteThenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	w, err := CreateWrite(path, testRecSize)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 2))
	require.NoError(t, w.Close())
	assert.Equal(t, int64(2), w.Size())

	rs, err := OpenRead(path, testRecSize)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(2), rs.Size())

	buf := make([]byte, testRecSize*2)
	n, err := rs.Read(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)

	n, err = rs.Read(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPreallocateIsBestEffortAndPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prealloc.bin")
	w, err := CreateWrite(path, testRecSize)
	require.NoError(t, err)
	// Unsupported filesystems are a silent no-op, never an error.
	require.NoError(t, w.Preallocate(4))
	require.NoError(t, w.Write([]byte{7, 7, 7, 7}, 1))
	require.NoError(t, w.Close())

	rs, err := OpenRead(path, testRecSize)
	require.NoError(t, err)
	defer rs.Close()
	// Close trims any reservation, so only the written record remains.
	assert.Equal(t, int64(1), rs.Size())
	buf := make([]byte, testRecSize)
	n, err := rs.Read(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, []byte{7, 7, 7, 7}, buf)
}

func TestOpenReadRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := OpenRead(path, testRecSize)
	assert.Error(t, err)
}

func TestAppendWriteResumesAfterExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "append.bin")
	w, err := CreateWrite(path, testRecSize)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte{1, 1, 1, 1}, 1))
	require.NoError(t, w.Close())

	w2, err := AppendWrite(path, testRecSize)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w2.Size())
	require.NoError(t, w2.Write([]byte{2, 2, 2, 2}, 1))
	require.NoError(t, w2.Close())

	rs, err := OpenRead(path, testRecSize)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(2), rs.Size())
}

func TestRewriteStreamEnforcesReadAheadOfWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewrite.bin")
	w, err := CreateWrite(path, testRecSize)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, 3))
	require.NoError(t, w.Close())

	rw, err := OpenRewrite(path, testRecSize)
	require.NoError(t, err)
	defer rw.Close()

	// writing before reading anything would overwrite the unread record at
	// position 0.
	err = rw.WriteNext([]byte{9, 9, 9, 9})
	assert.ErrorIs(t, err, ErrBackwardRewrite)

	buf := make([]byte, testRecSize)
	ok, err := rw.ReadNext(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, rw.WriteNext(buf))
	// a second write without an intervening read must fail again.
	err = rw.WriteNext(buf)
	assert.ErrorIs(t, err, ErrBackwardRewrite)
}

func TestRewriteStreamDropsRecordsPastTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncate.bin")
	w, err := CreateWrite(path, testRecSize)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, 3))
	require.NoError(t, w.Close())

	rw, err := OpenRewrite(path, testRecSize)
	require.NoError(t, err)

	buf := make([]byte, testRecSize)
	ok, err := rw.ReadNext(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, rw.WriteNext(buf)) // keep record 1

	ok, err = rw.ReadNext(buf)
	require.NoError(t, err)
	require.True(t, ok)
	// skip record 2: don't write it.

	ok, err = rw.ReadNext(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, rw.WriteNext(buf)) // keep record 3, now at writePos=1

	require.NoError(t, rw.Truncate())
	require.NoError(t, rw.Close())

	rs, err := OpenRead(path, testRecSize)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, int64(2), rs.Size())

	out := make([]byte, testRecSize*2)
	n, err := rs.Read(out, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, byte(1), out[0])
	assert.Equal(t, byte(3), out[4])
}
