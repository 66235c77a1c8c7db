// Package searchengine is the search driver: it owns the
// per-frame-group loop that closes an open queue, sorts and dedups it,
// re-expands every surviving state through the worker pool, and filters the
// result against everything already closed, promoting the result and
// looping until a goal is found or the frame axis is exhausted. Closed
// groups are promoted by atomic rename, which doubles as the crash-recovery
// boundary: a restart rescans the directory and picks up after the last
// promoted group.
package searchengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/filterpipe"
	"github.com/INLOpen/diskbfs/maintenance"
	"github.com/INLOpen/diskbfs/mergeheap"
	"github.com/INLOpen/diskbfs/openqueue"
	"github.com/INLOpen/diskbfs/problem"
	"github.com/INLOpen/diskbfs/ramcache"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/sortmerge"
	"github.com/INLOpen/diskbfs/sys"
	"github.com/INLOpen/diskbfs/tracer"
	"github.com/INLOpen/diskbfs/workerpool"
)

// ErrStopRequested is returned by Run when it observes stop.txt between
// frame groups.
var ErrStopRequested = errors.New("searchengine: stop requested")

// ErrExitNotFound is returned by Run when MaxFrameGroups is exhausted
// without reaching a goal state.
var ErrExitNotFound = errors.New("searchengine: exit not found")

// Options configures an Engine.
type Options struct {
	Dir                    string
	RAMArenaBytes          int64
	Workers                int
	RingCapacity           int
	CacheSlotsPerBucket    int
	AggregateMode          bool
	DiskFreeThresholdBytes int64
	MaxFrameGroups         core.FrameGroup
	Logger                 *slog.Logger
	Tracer                 trace.Tracer

	// IdleEnabled requests background process priority even without an
	// idle.txt in the data directory; idle.txt, when present, wins.
	IdleEnabled bool
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.RingCapacity < 1 {
		o.RingCapacity = 1 << 20
	}
	if o.CacheSlotsPerBucket < 1 {
		o.CacheSlotsPerBucket = 4
	}
	if o.RAMArenaBytes <= 0 {
		o.RAMArenaBytes = 256 << 20
	}
	if o.MaxFrameGroups == 0 {
		o.MaxFrameGroups = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Engine drives the BFS to completion for one problem instance.
type Engine[S any, C problem.CompressedState, T problem.Step] struct {
	prob    problem.Problem[S, C, T]
	opts    Options
	k       uint32
	recSize int

	queues *openqueue.Queues
	cache  *ramcache.Cache
	pool   *workerpool.Pool
	tracer *tracer.Tracer[S, C, T]
	logger *slog.Logger
	otel   trace.Tracer

	exitMu    sync.Mutex
	exitFound bool
	exitFrame core.Frame
	exitState C
}

// New builds an Engine for prob rooted at opts.Dir.
func New[S any, C problem.CompressedState, T problem.Step](prob problem.Problem[S, C, T], opts Options) *Engine[S, C, T] {
	opts = opts.withDefaults()
	recSize := prob.CompressedSize()
	pool := workerpool.New(opts.Workers, opts.RingCapacity, opts.Logger)
	return &Engine[S, C, T]{
		prob:    prob,
		opts:    opts,
		k:       prob.FramesPerGroup(),
		recSize: recSize,
		queues:  openqueue.New(opts.Dir, recSize, prob.FramesPerGroup()),
		cache:   ramcache.New(int(opts.RAMArenaBytes), opts.CacheSlotsPerBucket, recSize),
		pool:    pool,
		tracer:  tracer.New(opts.Dir, prob, pool, opts.Logger),
		logger:  opts.Logger,
		otel:    opts.Tracer,
	}
}

// ---- byte-level comparators: decode the raw record back to its typed
// CompressedState before delegating to Less/Equal/Subframe.

func (e *Engine[S, C, T]) lessBytes(a, b []byte) bool {
	return e.prob.DecodeCompressed(a).Less(e.prob.DecodeCompressed(b))
}

func (e *Engine[S, C, T]) equalBytes(a, b []byte) bool {
	return e.prob.DecodeCompressed(a).Equal(e.prob.DecodeCompressed(b))
}

func (e *Engine[S, C, T]) subframeBytes(rec []byte) uint32 {
	return e.prob.DecodeCompressed(rec).Subframe()
}

func (e *Engine[S, C, T]) order() sortmerge.Order {
	return sortmerge.Order{Less: e.lessBytes, Equal: e.equalBytes, Subframe: e.subframeBytes}
}

func (e *Engine[S, C, T]) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if e.otel == nil {
		return ctx, nil
	}
	return e.otel.Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// Run drives the search to completion, resuming from whatever state dir
// holds. It returns nil once a solution has been traced to solution.txt,
// ErrStopRequested if stop.txt appears between frame groups, or
// ErrExitNotFound if MaxFrameGroups is exhausted with no goal found.
func (e *Engine[S, C, T]) Run(ctx context.Context) error {
	release, err := e.acquireLock()
	if err != nil {
		return err
	}
	defer release()

	e.applyIdlePolicy()

	if _, err := os.Stat(core.SolutionBinPath(e.opts.Dir)); err == nil {
		e.logger.Info("resuming interrupted trace")
		return e.tracer.Resume(ctx)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("searchengine: checking solution checkpoint: %w", err)
	}

	resume, err := e.resumePoint()
	if err != nil {
		return err
	}
	if err := e.reopenQueues(resume); err != nil {
		return err
	}
	if resume == 0 && !e.queues.HasActiveQueue(0) {
		if err := e.seedInitialStates(); err != nil {
			return err
		}
	}

	e.logger.Info("search starting", "resume_group", resume, "aggregate_mode", e.opts.AggregateMode)

	for g := resume; g < e.opts.MaxFrameGroups; g++ {
		done, err := e.runGroup(ctx, g)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		stopped, err := e.checkStop()
		if err != nil {
			return err
		}
		if stopped {
			e.logger.Info("stop sentinel observed", "group", g)
			return ErrStopRequested
		}
		if err := e.maybeReclaimDiskSpace(g); err != nil {
			return err
		}
	}
	e.logger.Warn("exhausted max frame groups without a goal", "max", e.opts.MaxFrameGroups)
	return ErrExitNotFound
}

// applyIdlePolicy reads idle.txt (two integers: work-ms idle-ms) and, when
// it requests a nonzero idle share (or Options.IdleEnabled is set), drops
// the process to background priority. Best effort: an unsupported platform
// or malformed file only logs.
func (e *Engine[S, C, T]) applyIdlePolicy() {
	workMs, idleMs := 0, 0
	background := e.opts.IdleEnabled
	data, err := os.ReadFile(core.IdlePath(e.opts.Dir))
	switch {
	case err == nil:
		if _, serr := fmt.Sscanf(string(data), "%d %d", &workMs, &idleMs); serr != nil {
			e.logger.Warn("malformed idle.txt, ignoring", "error", serr)
		} else {
			background = idleMs > 0
		}
	case !errors.Is(err, os.ErrNotExist):
		e.logger.Warn("reading idle.txt", "error", err)
	}
	if !background {
		return
	}
	if err := sys.SetBackgroundPriority(); err != nil {
		e.logger.Warn("lowering process priority", "error", err)
		return
	}
	e.logger.Info("background priority enabled", "work_ms", workMs, "idle_ms", idleMs)
}

func (e *Engine[S, C, T]) acquireLock() (func() error, error) {
	base := filepath.Join(e.opts.Dir, "engine")
	release, err := sys.AcquireFileLock(base, 30, 500_000_000, 30_000_000_000)
	if err != nil {
		return nil, fmt.Errorf("searchengine: acquiring lock: %w", err)
	}
	return release, nil
}

func (e *Engine[S, C, T]) resumePoint() (core.FrameGroup, error) {
	groups, err := scanGroups(e.opts.Dir, "closed")
	if err != nil {
		return 0, fmt.Errorf("searchengine: scanning closed groups: %w", err)
	}
	if len(groups) == 0 {
		return 0, nil
	}
	return groups[len(groups)-1] + 1, nil
}

func (e *Engine[S, C, T]) reopenQueues(resume core.FrameGroup) error {
	groups, err := scanGroups(e.opts.Dir, "open")
	if err != nil {
		return fmt.Errorf("searchengine: scanning open groups: %w", err)
	}
	for _, g := range groups {
		if g < resume {
			// A crash between promotion's rename and its cleanup can leave
			// the consumed frontier behind; the group is already closed, so
			// the file is garbage.
			closed, err := fileExists(core.ClosedPath(e.opts.Dir, g))
			if err != nil {
				return err
			}
			if closed {
				if err := os.Remove(core.OpenPath(e.opts.Dir, g)); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("searchengine: removing stale open-%d: %w", g, err)
				}
			}
			continue
		}
		if err := e.queues.ReopenForAppend(g); err != nil {
			return fmt.Errorf("searchengine: reopening group %d: %w", g, err)
		}
	}

	merged, err := scanGroups(e.opts.Dir, "merged")
	if err != nil {
		return fmt.Errorf("searchengine: scanning merged groups: %w", err)
	}
	for _, g := range merged {
		if g >= resume {
			continue
		}
		if err := os.Remove(core.MergedPath(e.opts.Dir, g)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("searchengine: removing stale merged-%d: %w", g, err)
		}
	}
	return nil
}

func (e *Engine[S, C, T]) seedInitialStates() error {
	for _, s := range e.prob.InitialStates() {
		cs := e.prob.Compress(s)
		if err := e.writeOpenState(cs, 0); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine[S, C, T]) writeOpenState(cs C, frame core.Frame) error {
	return e.queues.WriteOpenState(frame, func(sub uint32) []byte {
		return cs.WithSubframe(sub).Bytes()
	})
}

// addState joins the cache to the open queues: the cache decides whether a
// state at frame is worth writing, and the engine performs the write.
func (e *Engine[S, C, T]) addState(cs C, frame core.Frame) error {
	if e.cache.AddState(cs.Payload(), uint32(frame)) {
		return e.writeOpenState(cs, frame)
	}
	return nil
}

func (e *Engine[S, C, T]) recordExit(cs C, frame core.Frame) {
	e.exitMu.Lock()
	defer e.exitMu.Unlock()
	if !e.exitFound || frame < e.exitFrame {
		e.exitFound = true
		e.exitFrame = frame
		e.exitState = cs
	}
}

func (e *Engine[S, C, T]) exitSnapshot() (core.Frame, C, bool) {
	e.exitMu.Lock()
	defer e.exitMu.Unlock()
	return e.exitFrame, e.exitState, e.exitFound
}

// processState is the worker handler bound during a search step: it
// decodes a surviving record, and either records a goal or expands its
// children into the cache/queue pipeline.
func (e *Engine[S, C, T]) processState(ctx context.Context, job workerpool.Job) error {
	cs := e.prob.DecodeCompressed(job.Record)
	s := e.prob.Decompress(cs)
	if e.prob.IsFinish(s) {
		e.recordExit(cs, job.Frame)
		return nil
	}
	var emitErr error
	e.prob.ExpandChildren(job.Frame, s, func(_ S, _ core.Frame, _ T, child S, childFrame core.Frame) {
		if emitErr != nil {
			return
		}
		if err := e.addState(e.prob.Compress(child), childFrame); err != nil {
			emitErr = err
		}
	})
	return emitErr
}

func (e *Engine[S, C, T]) checkStop() (bool, error) {
	_, err := os.Stat(core.StopPath(e.opts.Dir))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("searchengine: checking stop sentinel: %w", err)
}

func (e *Engine[S, C, T]) maybeReclaimDiskSpace(g core.FrameGroup) error {
	if e.opts.DiskFreeThresholdBytes <= 0 {
		return nil
	}
	usage, err := disk.Usage(e.opts.Dir)
	if err != nil {
		e.logger.Warn("disk usage check failed, skipping reclaim", "error", err)
		return nil
	}
	if usage.Free >= uint64(e.opts.DiskFreeThresholdBytes) {
		return nil
	}
	e.logger.Warn("free disk below threshold, compacting open groups inline",
		"free_bytes", usage.Free, "threshold_bytes", e.opts.DiskFreeThresholdBytes)
	// Close, not just flush: sort-open replaces open-g by rename, and a
	// writer left open across the rename would append to the orphaned
	// inode. The writer is lazily recreated in append mode on next write.
	// Every open group on disk is sorted, since filter-open rejects unsorted
	// input and runGroup has already closed every writer by this point.
	openGroups, err := scanGroups(e.opts.Dir, "open")
	if err != nil {
		return fmt.Errorf("searchengine: listing open groups: %w", err)
	}
	for _, og := range openGroups {
		if err := e.queues.FlushAndClose(og); err != nil {
			return err
		}
		if err := maintenance.SortOpen(e.opts.Dir, og, e.prob); err != nil {
			return fmt.Errorf("searchengine: inline sort-open group %d: %w", og, err)
		}
	}
	if err := maintenance.FilterOpen(e.opts.Dir, e.prob); err != nil {
		return fmt.Errorf("searchengine: inline filter-open: %w", err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("searchengine: stat %s: %w", path, err)
}

// scanGroups lists every core.FrameGroup g with a "<prefix>-g.bin" file
// under dir, sorted ascending.
func scanGroups(dir, prefix string) ([]core.FrameGroup, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.bin"))
	if err != nil {
		return nil, err
	}
	groups := make([]core.FrameGroup, 0, len(matches))
	for _, m := range matches {
		var g uint32
		if _, err := fmt.Sscanf(filepath.Base(m), prefix+"-%d.bin", &g); err == nil {
			groups = append(groups, core.FrameGroup(g))
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}

func openReaderIfExists(path string, recSize, bufferRecords int) (*recbuf.Reader, error) {
	rs, err := recio.OpenRead(path, recSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return recbuf.NewReader(rs, recSize, bufferRecords), nil
}

func (e *Engine[S, C, T]) closedReader(g core.FrameGroup) (*recbuf.Reader, error) {
	return openReaderIfExists(core.ClosedPath(e.opts.Dir, g), e.recSize, recbuf.DefaultBufferRecords)
}

// runGroup executes the driver's main-loop step for frame group g:
// close the open queue, sort/merge it, re-expand every surviving
// state through the pool, filter the result against everything already
// closed, and promote closing-g to closed-g. It reports done=true once the
// goal has been traced.
func (e *Engine[S, C, T]) runGroup(ctx context.Context, g core.FrameGroup) (done bool, err error) {
	if e.queues.HasActiveQueue(g) {
		if err := e.queues.FlushAndClose(g); err != nil {
			return false, fmt.Errorf("searchengine: closing open group %d: %w", g, err)
		}
	}
	// The group is runnable if its frontier is on disk, or if a prior crash
	// already consumed open-g into merged-g.
	hasOpen, err := fileExists(core.OpenPath(e.opts.Dir, g))
	if err != nil {
		return false, err
	}
	hasMerged, err := fileExists(core.MergedPath(e.opts.Dir, g))
	if err != nil {
		return false, err
	}
	if !hasOpen && !hasMerged {
		return false, nil
	}

	ctx, span := e.startSpan(ctx, "searchengine.sortmerge")
	result, err := sortmerge.SortAndMerge(e.opts.Dir, g, e.recSize, int(e.opts.RAMArenaBytes), e.order())
	endSpan(span)
	if err != nil {
		return false, fmt.Errorf("searchengine: sort/merge group %d: %w", g, err)
	}
	e.logger.Info("sorted frame group", "group", g, "records", result.Records, "ram_used_bytes", result.RAMUsed)

	e.cache.Reset()

	mergedReader, err := openReaderIfExists(core.MergedPath(e.opts.Dir, g), e.recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return false, fmt.Errorf("searchengine: opening merged group %d: %w", g, err)
	}
	if mergedReader == nil {
		return false, nil
	}
	defer mergedReader.Close()

	closingStream, err := recio.CreateWrite(core.ClosingPath(e.opts.Dir, g), e.recSize)
	if err != nil {
		return false, fmt.Errorf("searchengine: creating closing-%d: %w", g, err)
	}
	// Filtering only removes records, so merged-g's count is an upper bound.
	if err := closingStream.Preallocate(result.Records); err != nil {
		closingStream.Close()
		return false, err
	}
	closingWriter := recbuf.NewWriter(closingStream, e.recSize, recbuf.DefaultBufferRecords)

	var allNewWriter *recbuf.Writer
	if e.opts.AggregateMode {
		allNewStream, err := recio.CreateWrite(core.AllNewPath(e.opts.Dir, g), e.recSize)
		if err != nil {
			return false, fmt.Errorf("searchengine: creating allnew-%d: %w", g, err)
		}
		allNewWriter = recbuf.NewWriter(allNewStream, e.recSize, recbuf.AllFileBufferRecords)
	}

	var kept int64
	var filterErr error
	ctx, span = e.startSpan(ctx, "searchengine.expand")
	runErr := e.pool.Run(ctx, e.processState, func(submit func(workerpool.Job) error) error {
		if e.opts.AggregateMode {
			kept, filterErr = e.filterAggregate(g, mergedReader, allNewWriter, closingWriter, submit)
		} else {
			kept, filterErr = e.filterAgainstClosed(g, mergedReader, closingWriter, submit)
		}
		return filterErr
	})
	endSpan(span)

	closeErr := closingWriter.Close()
	var allNewCloseErr error
	if allNewWriter != nil {
		allNewCloseErr = allNewWriter.Close()
	}

	if runErr != nil {
		return false, fmt.Errorf("searchengine: expanding group %d: %w", g, runErr)
	}
	if closeErr != nil {
		return false, fmt.Errorf("searchengine: closing closing-%d: %w", g, closeErr)
	}
	if allNewCloseErr != nil {
		return false, fmt.Errorf("searchengine: closing allnew-%d: %w", g, allNewCloseErr)
	}

	if err := e.queues.FlushAll(); err != nil {
		return false, fmt.Errorf("searchengine: flushing open writers: %w", err)
	}
	e.logger.Info("closed frame group", "group", g, "kept", kept)

	if frame, state, found := e.exitSnapshot(); found && core.GroupOf(frame, e.k) == g {
		e.logger.Info("goal discovered", "group", g, "frame", frame)
		if err := e.promote(g); err != nil {
			return false, err
		}
		if err := e.tracer.Trace(ctx, state, frame); err != nil {
			return false, fmt.Errorf("searchengine: tracing solution: %w", err)
		}
		return true, nil
	}

	if err := e.promote(g); err != nil {
		return false, err
	}
	return false, nil
}

// filterAgainstClosed masks merged-g against every closed-g' (g' < g),
// streaming survivors both to closing-g and to the pool for expansion.
// Open files of later groups are deliberately not part of the mask: a
// payload queued for a later frame must still close here, at its earliest
// frame, and the later duplicate is dropped by that group's own filter.
func (e *Engine[S, C, T]) filterAgainstClosed(g core.FrameGroup, mergedReader *recbuf.Reader, closingWriter *recbuf.Writer, submit func(workerpool.Job) error) (int64, error) {
	var sources []mergeheap.Source
	var closers []func() error

	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	defer closeAll()

	for gp := core.FrameGroup(0); gp < g; gp++ {
		r, err := e.closedReader(gp)
		if err != nil {
			return 0, fmt.Errorf("filterAgainstClosed: opening closed-%d: %w", gp, err)
		}
		if r == nil {
			continue
		}
		sources = append(sources, r)
		closers = append(closers, r.Close)
	}

	onKept := func(rec []byte) error {
		cs := e.prob.DecodeCompressed(rec)
		frame := core.FrameOf(g, cs.Subframe(), e.k)
		return submit(workerpool.Job{Record: append([]byte(nil), rec...), Frame: frame})
	}
	return filterpipe.FilterStream(mergedReader, sources, closingWriter, e.lessBytes, e.equalBytes, onKept)
}

// filterAggregate implements the aggregate ("all") path: merged-g is
// compared against the latest all-g' plus any closed-g'' strictly between
// g' and g, writing the union to allnew-g and the survivors to closing-g.
func (e *Engine[S, C, T]) filterAggregate(g core.FrameGroup, mergedReader *recbuf.Reader, allNewWriter, closingWriter *recbuf.Writer, submit func(workerpool.Job) error) (int64, error) {
	allGroup, allReader, err := e.latestAllReader()
	if err != nil {
		return 0, err
	}
	if allReader != nil {
		defer allReader.Close()
	}

	var sources []mergeheap.Source
	if allReader != nil {
		sources = append(sources, allReader)
	}

	startG := core.FrameGroup(0)
	if allGroup >= 0 {
		startG = core.FrameGroup(allGroup) + 1
	}
	var closers []func() error
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	for gp := startG; gp < g; gp++ {
		r, err := e.closedReader(gp)
		if err != nil {
			return 0, fmt.Errorf("filterAggregate: opening closed-%d: %w", gp, err)
		}
		if r == nil {
			continue
		}
		sources = append(sources, r)
		closers = append(closers, r.Close)
	}

	heapB, err := mergeheap.New(sources, e.lessBytes)
	if err != nil {
		return 0, fmt.Errorf("filterAggregate: heap init: %w", err)
	}

	onAKept := func(rec []byte) error {
		cs := e.prob.DecodeCompressed(rec)
		frame := core.FrameOf(g, cs.Subframe(), e.k)
		return submit(workerpool.Job{Record: append([]byte(nil), rec...), Frame: frame})
	}
	_, aMinusB, err := filterpipe.MergeTwoStreams(mergedReader, heapB.AsSource(), allNewWriter, closingWriter, e.lessBytes, e.equalBytes, onAKept)
	return aMinusB, err
}

// latestAllReader opens the highest-numbered all-g.bin, if any. allGroup is
// -1 when no aggregate file exists yet.
func (e *Engine[S, C, T]) latestAllReader() (allGroup int64, reader *recbuf.Reader, err error) {
	groups, err := scanGroups(e.opts.Dir, "all")
	if err != nil {
		return -1, nil, fmt.Errorf("searchengine: scanning all groups: %w", err)
	}
	if len(groups) == 0 {
		return -1, nil, nil
	}
	g := groups[len(groups)-1]
	r, err := openReaderIfExists(core.AllPath(e.opts.Dir, g), e.recSize, recbuf.AllFileBufferRecords)
	if err != nil {
		return -1, nil, fmt.Errorf("searchengine: opening all-%d: %w", g, err)
	}
	return int64(g), r, nil
}

// promote renames closing-g to closed-g (and allnew-g to all-g in
// aggregate mode) and drops the consumed open-g and merged-g files. The
// rename happens first: a crash after it leaves only stale scratch behind,
// while a crash before it leaves the group's input intact for a restart.
func (e *Engine[S, C, T]) promote(g core.FrameGroup) error {
	if err := sys.Rename(core.ClosingPath(e.opts.Dir, g), core.ClosedPath(e.opts.Dir, g)); err != nil {
		return fmt.Errorf("searchengine: promoting closing-%d: %w", g, err)
	}
	if err := os.Remove(core.OpenPath(e.opts.Dir, g)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("searchengine: removing open-%d: %w", g, err)
	}
	if err := os.Remove(core.MergedPath(e.opts.Dir, g)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("searchengine: removing merged-%d: %w", g, err)
	}
	if e.opts.AggregateMode {
		oldAll, err := scanGroups(e.opts.Dir, "all")
		if err != nil {
			return fmt.Errorf("searchengine: scanning stale all files: %w", err)
		}
		for _, og := range oldAll {
			if err := os.Remove(core.AllPath(e.opts.Dir, og)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("searchengine: removing stale all-%d: %w", og, err)
			}
		}
		if err := sys.Rename(core.AllNewPath(e.opts.Dir, g), core.AllPath(e.opts.Dir, g)); err != nil {
			return fmt.Errorf("searchengine: promoting allnew-%d: %w", g, err)
		}
	}
	return nil
}
