package mazeproblem

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/diskbfs/core"
)

func TestCompressRoundTrip(t *testing.T) {
	s := State{X: 3, Y: 12}
	cs := compress(s)
	got := decompress(cs)
	assert.Equal(t, s, got)
}

func TestCompressedStateOrderingIgnoresNothingExtra(t *testing.T) {
	a := compress(State{X: 1, Y: 0})
	b := compress(State{X: 2, Y: 0})
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Equal(compress(State{X: 1, Y: 0})))
}

func TestSubframeIsAlwaysZero(t *testing.T) {
	cs := compress(State{X: 5, Y: 5})
	assert.Equal(t, uint32(0), cs.Subframe())
	assert.Equal(t, cs, cs.WithSubframe(3))
}

func TestInitialStatesFindsBothStarts(t *testing.T) {
	m := New(DefaultLevel, t.TempDir())
	states := m.InitialStates()
	require.Len(t, states, 2)
	for _, s := range states {
		assert.Equal(t, byte('S'), m.at(s.X, s.Y))
	}
}

func TestExpandChildrenSkipsWalls(t *testing.T) {
	m := New(DefaultLevel, t.TempDir())
	start := m.InitialStates()[0]

	var children []State
	m.ExpandChildren(0, start, func(_ State, parentFrame core.Frame, _ Step, child State, childFrame core.Frame) {
		assert.Equal(t, core.Frame(0), parentFrame)
		assert.Equal(t, core.Frame(1), childFrame)
		children = append(children, child)
	})
	for _, c := range children {
		assert.NotEqual(t, byte('#'), m.at(c.X, c.Y))
	}
}

func TestIsFinishOnlyAtGoalCell(t *testing.T) {
	m := New(DefaultLevel, t.TempDir())
	assert.False(t, m.IsFinish(State{X: 0, Y: 0}))
	found := false
	for y, row := range m.level {
		for x := range row {
			if m.at(x, y) == 'F' {
				assert.True(t, m.IsFinish(State{X: x, Y: y}))
				found = true
			}
		}
	}
	require.True(t, found, "DefaultLevel must contain a finish cell")
}

func TestStepEncodeDecodeRoundTrip(t *testing.T) {
	m := New(DefaultLevel, t.TempDir())
	for a := Up; a <= Left; a++ {
		step := Step{Action: a}
		enc := m.EncodeStep(step)
		require.Len(t, enc, m.StepSize())
		assert.Equal(t, step, m.DecodeStep(enc))
	}
}

func TestWriteSolutionRendersEveryStep(t *testing.T) {
	dir := t.TempDir()
	m := New(DefaultLevel, dir)
	start := m.InitialStates()[0]
	steps := []Step{{Action: Right}, {Action: Down}}

	require.NoError(t, m.WriteSolution(start, steps))

	path := core.SolutionTxtPath(dir)
	assert.FileExists(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Right")
	assert.Contains(t, string(data), "Down")
}
