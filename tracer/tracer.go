// Package tracer is the exit tracer: once a goal state is found, it walks
// backward one frame group at a time, re-expanding closed states and
// matching their children against the current anchor, until it reaches an
// initial state. Progress is checkpointed to solution.bin after every step
// so a crash mid-trace resumes instead of restarting. The backward search
// runs on the same worker pool the forward search uses.
package tracer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/problem"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/sys"
	"github.com/INLOpen/diskbfs/workerpool"
)

// ErrLostParent is returned when the backward search runs out of closed
// frame groups before finding a parent for the current anchor, which
// indicates disk corruption or a missing closed-g file.
var ErrLostParent = errors.New("tracer: lost parent before reaching an initial state")

// Tracer reconstructs and emits the solution path for one problem instance.
type Tracer[S any, C problem.CompressedState, T problem.Step] struct {
	dir     string
	k       uint32
	recSize int
	prob    problem.Problem[S, C, T]
	pool    *workerpool.Pool
	logger  *slog.Logger
}

// New builds a Tracer sharing pool with the forward search driver.
func New[S any, C problem.CompressedState, T problem.Step](dir string, prob problem.Problem[S, C, T], pool *workerpool.Pool, logger *slog.Logger) *Tracer[S, C, T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer[S, C, T]{
		dir:     dir,
		k:       prob.FramesPerGroup(),
		recSize: prob.CompressedSize(),
		prob:    prob,
		pool:    pool,
		logger:  logger,
	}
}

// Trace starts a fresh backward walk from a newly discovered goal.
func (t *Tracer[S, C, T]) Trace(ctx context.Context, exitState C, exitFrame core.Frame) error {
	return t.traceLoop(ctx, core.GroupOf(exitFrame, t.k), exitState, exitFrame, nil)
}

// Resume continues a backward walk interrupted mid-trace, reading its
// checkpoint from solution.bin.
func (t *Tracer[S, C, T]) Resume(ctx context.Context) error {
	g, state, steps, ok, err := t.readCheckpoint()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tracer: resume requested but no checkpoint exists")
	}
	anchorFrame := core.FrameOf(g, state.Subframe(), t.k)
	return t.traceLoop(ctx, g, state, anchorFrame, steps)
}

// traceLoop is the backward walk: persist the current
// anchor, step to the previous frame group, search it for a parent, and
// repeat until the anchor is an initial state (frame 0) or the frame axis
// is exhausted.
func (t *Tracer[S, C, T]) traceLoop(ctx context.Context, g core.FrameGroup, anchor C, anchorFrame core.Frame, steps []T) error {
	if anchorFrame == 0 {
		return t.emit(anchor, steps)
	}
	for {
		if err := t.persist(g, anchor, steps); err != nil {
			return err
		}
		if g == 0 {
			return fmt.Errorf("%w: exhausted closed groups below group 0", ErrLostParent)
		}
		g--
		found, parent, parentFrame, step, err := t.searchGroup(ctx, g, anchor, anchorFrame)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		steps = append(steps, step)
		anchor, anchorFrame = parent, parentFrame
		if anchorFrame == 0 {
			return t.emit(anchor, steps)
		}
	}
}

// searchGroup re-expands every state in closed-g, looking for one whose
// expansion produces exactly (target, targetFrame) as a child. The first
// match under concurrent expansion wins; any correct parent is acceptable.
func (t *Tracer[S, C, T]) searchGroup(ctx context.Context, g core.FrameGroup, target C, targetFrame core.Frame) (found bool, parent C, parentFrame core.Frame, step T, err error) {
	reader, err := openClosedIfExists(t.dir, g, t.recSize)
	if err != nil {
		return false, parent, 0, step, fmt.Errorf("tracer: opening closed-%d: %w", g, err)
	}
	if reader == nil {
		return false, parent, 0, step, nil
	}
	defer reader.Close()

	var mu sync.Mutex
	matched := false

	handler := func(ctx context.Context, job workerpool.Job) error {
		cs := t.prob.DecodeCompressed(job.Record)
		if !t.prob.CanStatesBeParentAndChild(cs, target) {
			return nil
		}
		mu.Lock()
		already := matched
		mu.Unlock()
		if already {
			return nil
		}
		s := t.prob.Decompress(cs)
		t.prob.ExpandChildren(job.Frame, s, func(_ S, _ core.Frame, st T, child S, childFrame core.Frame) {
			if childFrame != targetFrame {
				return
			}
			if !t.prob.Compress(child).Equal(target) {
				return
			}
			mu.Lock()
			if !matched {
				matched = true
				parent = cs
				parentFrame = job.Frame
				step = st
			}
			mu.Unlock()
		})
		return nil
	}

	runErr := t.pool.Run(ctx, handler, func(submit func(workerpool.Job) error) error {
		for {
			rec, rerr := reader.Read()
			if rerr != nil {
				return fmt.Errorf("reading closed-%d: %w", g, rerr)
			}
			if rec == nil {
				return nil
			}
			cs := t.prob.DecodeCompressed(rec)
			frame := core.FrameOf(g, cs.Subframe(), t.k)
			if err := submit(workerpool.Job{Record: append([]byte(nil), rec...), Frame: frame}); err != nil {
				return err
			}
		}
	})
	if runErr != nil {
		return false, parent, 0, step, fmt.Errorf("tracer: searching closed-%d: %w", g, runErr)
	}
	return matched, parent, parentFrame, step, nil
}

func openClosedIfExists(dir string, g core.FrameGroup, recSize int) (*recbuf.Reader, error) {
	rs, err := recio.OpenRead(core.ClosedPath(dir, g), recSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return recbuf.NewReader(rs, recSize, recbuf.DefaultBufferRecords), nil
}

// emit renders the completed path, forward-ordered, and removes the
// checkpoint.
func (t *Tracer[S, C, T]) emit(initial C, discoveredSteps []T) error {
	forward := make([]T, len(discoveredSteps))
	for i, st := range discoveredSteps {
		forward[len(discoveredSteps)-1-i] = st
	}
	initialState := t.prob.Decompress(initial)
	if err := t.prob.WriteSolution(initialState, forward); err != nil {
		return fmt.Errorf("tracer: writing solution: %w", err)
	}
	if err := os.Remove(core.SolutionBinPath(t.dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tracer: removing checkpoint: %w", err)
	}
	t.logger.Info("solution traced", "steps", len(forward))
	return nil
}

// persist atomically overwrites solution.bin with
// {i32 group; CompressedState state; i32 stepsCount; Step[stepsCount]}
// so a crash mid-trace resumes from the last completed step.
func (t *Tracer[S, C, T]) persist(g core.FrameGroup, state C, steps []T) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, int32(g)); err != nil {
		return fmt.Errorf("tracer: encoding checkpoint: %w", err)
	}
	buf.Write(state.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, int32(len(steps))); err != nil {
		return fmt.Errorf("tracer: encoding checkpoint: %w", err)
	}
	for _, st := range steps {
		buf.Write(t.prob.EncodeStep(st))
	}

	tmp := core.SolutionBinPath(t.dir) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("tracer: writing checkpoint: %w", err)
	}
	if err := sys.Rename(tmp, core.SolutionBinPath(t.dir)); err != nil {
		return fmt.Errorf("tracer: promoting checkpoint: %w", err)
	}
	return nil
}

func (t *Tracer[S, C, T]) readCheckpoint() (g core.FrameGroup, state C, steps []T, ok bool, err error) {
	data, rerr := os.ReadFile(core.SolutionBinPath(t.dir))
	if rerr != nil {
		if errors.Is(rerr, os.ErrNotExist) {
			return 0, state, nil, false, nil
		}
		return 0, state, nil, false, fmt.Errorf("tracer: reading checkpoint: %w", rerr)
	}
	r := bytes.NewReader(data)

	var gi int32
	if err := binary.Read(r, binary.LittleEndian, &gi); err != nil {
		return 0, state, nil, false, fmt.Errorf("tracer: corrupt checkpoint: %w", err)
	}
	stateBytes := make([]byte, t.recSize)
	if _, err := io.ReadFull(r, stateBytes); err != nil {
		return 0, state, nil, false, fmt.Errorf("tracer: corrupt checkpoint: %w", err)
	}
	state = t.prob.DecodeCompressed(stateBytes)

	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, state, nil, false, fmt.Errorf("tracer: corrupt checkpoint: %w", err)
	}
	steps = make([]T, count)
	stepBuf := make([]byte, t.prob.StepSize())
	for i := range steps {
		if _, err := io.ReadFull(r, stepBuf); err != nil {
			return 0, state, nil, false, fmt.Errorf("tracer: corrupt checkpoint: %w", err)
		}
		steps[i] = t.prob.DecodeStep(stepBuf)
	}
	return core.FrameGroup(gi), state, steps, true, nil
}
