package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/mazeproblem"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/workerpool"
)

func writeClosed(t *testing.T, dir string, g core.FrameGroup, recs [][]byte) {
	t.Helper()
	w, err := recio.CreateWrite(core.ClosedPath(dir, g), 4)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r, 1))
	}
	require.NoError(t, w.Close())
}

func enc(x, y int) []byte { return []byte{byte(x), 0, byte(y), 0} }

func TestTraceWalksBackToInitialState(t *testing.T) {
	dir := t.TempDir()
	m := mazeproblem.New(mazeproblem.DefaultLevel, dir)

	// (1,1) is a start cell; (1,2) is open floor directly below it.
	writeClosed(t, dir, 0, [][]byte{enc(1, 1)})
	writeClosed(t, dir, 1, [][]byte{enc(1, 2)})

	pool := workerpool.New(2, 16, nil)
	tr := New[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, m, pool, nil)

	exit := m.Compress(mazeproblem.State{X: 1, Y: 2})
	require.NoError(t, tr.Trace(context.Background(), exit, core.Frame(1)))

	assert.FileExists(t, core.SolutionTxtPath(dir))
	assert.NoFileExists(t, core.SolutionBinPath(dir))
}

func TestTraceReturnsLostParentWhenGroupZeroLacksOrigin(t *testing.T) {
	dir := t.TempDir()
	m := mazeproblem.New(mazeproblem.DefaultLevel, dir)

	// closed-0 exists but does not contain any state expanding into the
	// exit, so the backward search exhausts group 0 without a match.
	writeClosed(t, dir, 0, [][]byte{enc(5, 5)})

	pool := workerpool.New(2, 16, nil)
	tr := New[mazeproblem.State, mazeproblem.CompressedState, mazeproblem.Step](dir, m, pool, nil)

	exit := m.Compress(mazeproblem.State{X: 1, Y: 2})
	err := tr.Trace(context.Background(), exit, core.Frame(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLostParent)
}
