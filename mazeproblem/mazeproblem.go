// Package mazeproblem is the example problem plug-in: a 15x15 maze with
// two start cells and one finish cell, four unit-delay moves.
package mazeproblem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/problem"
)

// DefaultLevel is SampleMaze's 15x15 layout: '#' walls, 'S' starts, 'F'
// finish, ' ' open floor.
var DefaultLevel = []string{
	"###############",
	"#S#         # #",
	"# ##### ### # #",
	"#     #   #   #",
	"#####   # # # #",
	"#     # ### # #",
	"# ### # #   # #",
	"# # ### ##### #",
	"# #   # #     #",
	"### # ### #####",
	"#S# #     #   #",
	"# # # # ### # #",
	"# # # # #   # #",
	"#   # #   # #F#",
	"###############",
}

// Action enumerates the four legal moves.
type Action int

const (
	Up Action = iota
	Right
	Down
	Left
)

var actionNames = [...]string{"Up", "Right", "Down", "Left"}

func (a Action) String() string {
	if int(a) < 0 || int(a) >= len(actionNames) {
		return "Invalid"
	}
	return actionNames[a]
}

var dx = [...]int{0: 0, Right: 1, Down: 0, Left: -1}
var dy = [...]int{0: -1, Right: 0, Down: 1, Left: 0}

// State is the in-memory maze position.
type State struct {
	X, Y int
}

// Step is a labelled move.
type Step struct {
	Action Action
}

// String implements problem.Step.
func (s Step) String() string { return s.Action.String() }

// CompressedState packs {x,y} as two little-endian uint16s. The maze
// always runs with FramesPerGroup()==1, so no subframe bits are carried:
// Subframe is always 0 and WithSubframe is a no-op.
type CompressedState [4]byte

func (c CompressedState) Payload() []byte { return c[:] }

func (c CompressedState) Less(other problem.CompressedState) bool {
	return bytes.Compare(c[:], other.Payload()) < 0
}

func (c CompressedState) Equal(other problem.CompressedState) bool {
	return bytes.Equal(c[:], other.Payload())
}

func (c CompressedState) Subframe() uint32 { return 0 }

func (c CompressedState) WithSubframe(sub uint32) problem.CompressedState { return c }

func (c CompressedState) Bytes() []byte { return c[:] }

func compress(s State) CompressedState {
	var c CompressedState
	binary.LittleEndian.PutUint16(c[0:2], uint16(s.X))
	binary.LittleEndian.PutUint16(c[2:4], uint16(s.Y))
	return c
}

func decompress(c CompressedState) State {
	return State{
		X: int(binary.LittleEndian.Uint16(c[0:2])),
		Y: int(binary.LittleEndian.Uint16(c[2:4])),
	}
}

// Maze implements problem.Problem[State, CompressedState, Step].
type Maze struct {
	level     []string
	outputDir string
}

// New builds a Maze over level (rows of equal length; see DefaultLevel),
// writing solution.txt under outputDir.
func New(level []string, outputDir string) *Maze {
	return &Maze{level: level, outputDir: outputDir}
}

func (m *Maze) at(x, y int) byte {
	if y < 0 || y >= len(m.level) || x < 0 || x >= len(m.level[y]) {
		return '#'
	}
	return m.level[y][x]
}

func (m *Maze) FramesPerGroup() uint32 { return 1 }
func (m *Maze) CompressedSize() int    { return 4 }
func (m *Maze) CompressedBits() int    { return 32 }
func (m *Maze) MaxFrames() uint32      { return 100 }
func (m *Maze) MaxSteps() int          { return 100 }

func (m *Maze) IsFinish(s State) bool { return m.at(s.X, s.Y) == 'F' }

func (m *Maze) Compress(s State) CompressedState { return compress(s) }

func (m *Maze) DecodeCompressed(rec []byte) CompressedState {
	var c CompressedState
	copy(c[:], rec)
	return c
}

func (m *Maze) Decompress(cs CompressedState) State { return decompress(cs) }

// ExpandChildren enumerates the four moves in Up/Right/Down/Left order,
// skipping any that would walk into a wall.
func (m *Maze) ExpandChildren(frame core.Frame, s State, emit problem.EmitChild[State, CompressedState, Step]) {
	for a := Up; a <= Left; a++ {
		nx, ny := s.X+dx[a], s.Y+dy[a]
		if m.at(nx, ny) == '#' {
			continue
		}
		child := State{X: nx, Y: ny}
		emit(s, frame, Step{Action: a}, child, frame+1)
	}
}

// InitialStates scans the level for every 'S' cell, up to the engine's
// 4-state limit.
func (m *Maze) InitialStates() []State {
	var states []State
	for y, row := range m.level {
		for x := 0; x < len(row); x++ {
			if row[x] == 'S' {
				states = append(states, State{X: x, Y: y})
				if len(states) == 4 {
					return states
				}
			}
		}
	}
	return states
}

// CanStatesBeParentAndChild has no useful filter for this problem.
func (m *Maze) CanStatesBeParentAndChild(parent, child CompressedState) bool { return true }

// WriteSolution renders each move taken and the resulting board state,
// from start to finish, to solution.txt under outputDir.
func (m *Maze) WriteSolution(initial State, steps []Step) error {
	path := core.SolutionTxtPath(m.outputDir)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mazeproblem: creating %s: %w", path, err)
	}
	defer f.Close()

	state := initial
	if _, err := fmt.Fprintf(f, "%s\n", m.render(state)); err != nil {
		return err
	}
	for _, step := range steps {
		nx, ny := state.X+dx[step.Action], state.Y+dy[step.Action]
		state = State{X: nx, Y: ny}
		if _, err := fmt.Fprintf(f, "%s\n%s\n", step.Action, m.render(state)); err != nil {
			return err
		}
	}
	return nil
}

// StepSize, EncodeStep, and DecodeStep give Step a fixed one-byte encoding
// for solution.bin (the Action index).
func (m *Maze) StepSize() int { return 1 }

func (m *Maze) EncodeStep(step Step) []byte { return []byte{byte(step.Action)} }

func (m *Maze) DecodeStep(rec []byte) Step { return Step{Action: Action(rec[0])} }

// render draws the maze with '@' marking s's position.
func (m *Maze) render(s State) string {
	var buf bytes.Buffer
	for y, row := range m.level {
		for x := 0; x < len(row); x++ {
			if x == s.X && y == s.Y {
				buf.WriteByte('@')
			} else {
				buf.WriteByte(row[x])
			}
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}
