// Package maintenance implements the offline disk-management operations
// the enginectl CLI exposes: sort-open, filter-open, seq-filter-open,
// pack-open, unpack, regenerate-open, and create-all. These are the same
// algorithms the driver runs inline, repackaged as standalone operators a
// runbook can invoke between (or instead of) driver passes.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/filterpipe"
	"github.com/INLOpen/diskbfs/mergeheap"
	"github.com/INLOpen/diskbfs/openqueue"
	"github.com/INLOpen/diskbfs/problem"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/sortmerge"
	"github.com/INLOpen/diskbfs/sys"
	"github.com/INLOpen/diskbfs/workerpool"
)

// defaultRAMBytes bounds sort-open's chunk size when run standalone,
// outside the driver's own RAM arena sizing.
const defaultRAMBytes = 64 << 20

func byteComparators[S any, C problem.CompressedState, T problem.Step](prob problem.Problem[S, C, T]) (less, equal func(a, b []byte) bool, subframe func(rec []byte) uint32) {
	less = func(a, b []byte) bool { return prob.DecodeCompressed(a).Less(prob.DecodeCompressed(b)) }
	equal = func(a, b []byte) bool { return prob.DecodeCompressed(a).Equal(prob.DecodeCompressed(b)) }
	subframe = func(rec []byte) uint32 { return prob.DecodeCompressed(rec).Subframe() }
	return
}

// scanGroups lists every core.FrameGroup g with a "<prefix>-g.bin" file
// under dir, sorted ascending.
func scanGroups(dir, prefix string) ([]core.FrameGroup, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.bin"))
	if err != nil {
		return nil, fmt.Errorf("maintenance: globbing %s-*.bin: %w", prefix, err)
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

// Groups lists every frame group with a "<prefix>-g.bin" file under dir,
// sorted ascending. A verb run with no explicit range applies to every
// group present on disk.
func Groups(dir, prefix string) ([]core.FrameGroup, error) {
	return scanGroups(dir, prefix)
}

// ChunkGroups lists every frame group with leftover chunk-g-i.bin files,
// sorted ascending: the groups Convert can recover.
func ChunkGroups(dir string) ([]core.FrameGroup, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "chunk-*-*.bin"))
	if err != nil {
		return nil, fmt.Errorf("maintenance: globbing chunk files: %w", err)
	}
	seen := make(map[core.FrameGroup]struct{})
	groups := make([]core.FrameGroup, 0, len(matches))
	for _, m := range matches {
		var g, i uint32
		if _, err := fmt.Sscanf(filepath.Base(m), "chunk-%d-%d.bin", &g, &i); err == nil {
			if _, dup := seen[core.FrameGroup(g)]; !dup {
				seen[core.FrameGroup(g)] = struct{}{}
				groups = append(groups, core.FrameGroup(g))
			}
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

func closeAll(closers []func() error) {
	for _, c := range closers {
		_ = c()
	}
}

// SortOpen runs the external sort against open-g in isolation, then
// promotes the sorted, deduplicated result back over open-g itself (rather
// than into merged-g, the sort's usual destination).
func SortOpen[S any, C problem.CompressedState, T problem.Step](dir string, g core.FrameGroup, prob problem.Problem[S, C, T]) error {
	less, equal, subframe := byteComparators(prob)
	order := sortmerge.Order{Less: less, Equal: equal, Subframe: subframe}
	result, err := sortmerge.SortAndMerge(dir, g, prob.CompressedSize(), defaultRAMBytes, order)
	if err != nil {
		return fmt.Errorf("maintenance: sort-open group %d: %w", g, err)
	}
	if result.MergedPath == "" {
		return nil // no open-g to sort
	}
	if err := sys.Rename(result.MergedPath, core.OpenPath(dir, g)); err != nil {
		return fmt.Errorf("maintenance: promoting sorted open-%d: %w", g, err)
	}
	return nil
}

// FilterOpen rewrites every open-g (the full range found on disk) against
// the union of every closed-g', dropping records already resolved
// elsewhere, via the filtering-g.bin scratch-then-rename pattern. Each
// open-g must already be sorted (run SortOpen first); an unsorted input
// is rejected rather than silently mishandled.
func FilterOpen[S any, C problem.CompressedState, T problem.Step](dir string, prob problem.Problem[S, C, T]) error {
	recSize := prob.CompressedSize()
	less, equal, _ := byteComparators(prob)

	closedGroups, err := scanGroups(dir, "closed")
	if err != nil {
		return err
	}
	openGroups, err := scanGroups(dir, "open")
	if err != nil {
		return err
	}

	for _, g := range openGroups {
		if err := filterOneOpen(dir, g, recSize, closedGroups, less, equal); err != nil {
			return err
		}
	}
	return nil
}

func filterOneOpen(dir string, g core.FrameGroup, recSize int, closedGroups []core.FrameGroup, less, equal func(a, b []byte) bool) error {
	src, err := openReaderIfExists(core.OpenPath(dir, g), recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return fmt.Errorf("maintenance: opening open-%d: %w", g, err)
	}
	if src == nil {
		return nil
	}
	defer src.Close()
	src.CheckOrder(less)

	var sources []mergeheap.Source
	var closers []func() error
	for _, cg := range closedGroups {
		r, err := openReaderIfExists(core.ClosedPath(dir, cg), recSize, recbuf.DefaultBufferRecords)
		if err != nil {
			return fmt.Errorf("maintenance: opening closed-%d: %w", cg, err)
		}
		if r == nil {
			continue
		}
		sources = append(sources, r)
		closers = append(closers, r.Close)
	}
	defer closeAll(closers)

	outStream, err := recio.CreateWrite(core.FilteringPath(dir, g), recSize)
	if err != nil {
		return fmt.Errorf("maintenance: creating filtering-%d: %w", g, err)
	}
	outWriter := recbuf.NewWriter(outStream, recSize, recbuf.DefaultBufferRecords)

	if _, err := filterpipe.FilterStream(src, sources, outWriter, less, equal, nil); err != nil {
		outWriter.Close()
		return fmt.Errorf("maintenance: filter-open group %d: %w", g, err)
	}
	if err := outWriter.Close(); err != nil {
		return fmt.Errorf("maintenance: closing filtering-%d: %w", g, err)
	}
	if err := sys.Rename(core.FilteringPath(dir, g), core.OpenPath(dir, g)); err != nil {
		return fmt.Errorf("maintenance: promoting filtering-%d: %w", g, err)
	}
	return nil
}

// SeqFilterOpen rewrites open-g against every closed-g' in place, using
// recio.RewriteStream's read-ahead/write-behind cursor pair instead of a
// scratch file, the frugal counterpart to FilterOpen for operators short
// on spare disk.
func SeqFilterOpen[S any, C problem.CompressedState, T problem.Step](dir string, g core.FrameGroup, prob problem.Problem[S, C, T]) error {
	recSize := prob.CompressedSize()
	less, equal, _ := byteComparators(prob)

	closedGroups, err := scanGroups(dir, "closed")
	if err != nil {
		return err
	}
	var sources []mergeheap.Source
	var closers []func() error
	for _, cg := range closedGroups {
		r, err := openReaderIfExists(core.ClosedPath(dir, cg), recSize, recbuf.DefaultBufferRecords)
		if err != nil {
			return fmt.Errorf("maintenance: opening closed-%d: %w", cg, err)
		}
		if r == nil {
			continue
		}
		sources = append(sources, r)
		closers = append(closers, r.Close)
	}
	defer closeAll(closers)

	mask, err := mergeheap.New(sources, less)
	if err != nil {
		return fmt.Errorf("maintenance: seq-filter-open mask init: %w", err)
	}

	rw, err := recio.OpenRewrite(core.OpenPath(dir, g), recSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("maintenance: opening open-%d for rewrite: %w", g, err)
	}
	defer rw.Close()

	buf := make([]byte, recSize)
	for {
		ok, err := rw.ReadNext(buf)
		if err != nil {
			return fmt.Errorf("maintenance: seq-filter-open reading: %w", err)
		}
		if !ok {
			break
		}
		if err := mask.ScanTo(buf, less); err != nil {
			return fmt.Errorf("maintenance: seq-filter-open mask scan: %w", err)
		}
		if head, _, ok := mask.Head(); ok && equal(head, buf) {
			continue // masked out: drop by not advancing writePos
		}
		if err := rw.WriteNext(buf); err != nil {
			return fmt.Errorf("maintenance: seq-filter-open writing: %w", err)
		}
	}
	if err := rw.Truncate(); err != nil {
		return fmt.Errorf("maintenance: seq-filter-open truncate: %w", err)
	}
	return nil
}

// PackOpen compacts adjacent payload-equal duplicates in open-g (keeping
// the minimum subframe), via the openpacked-g.bin scratch-then-rename
// pattern. Input need not be globally sorted (an out-of-order run simply
// passes through unmodified), but compaction only finds duplicates that
// are already adjacent, so this is most useful right after SortOpen.
func PackOpen[S any, C problem.CompressedState, T problem.Step](dir string, g core.FrameGroup, prob problem.Problem[S, C, T]) error {
	recSize := prob.CompressedSize()
	less, equal, subframe := byteComparators(prob)

	reader, err := openReaderIfExists(core.OpenPath(dir, g), recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return fmt.Errorf("maintenance: opening open-%d: %w", g, err)
	}
	if reader == nil {
		return nil
	}
	defer reader.Close()

	outStream, err := recio.CreateWrite(core.OpenPackedPath(dir, g), recSize)
	if err != nil {
		return fmt.Errorf("maintenance: creating openpacked-%d: %w", g, err)
	}
	outWriter := recbuf.NewWriter(outStream, recSize, recbuf.DefaultBufferRecords)

	var pending []byte
	flush := func() error {
		if pending == nil {
			return nil
		}
		err := outWriter.Write(pending)
		pending = nil
		return err
	}
	for {
		rec, rerr := reader.Read()
		if rerr != nil {
			outWriter.Close()
			return fmt.Errorf("maintenance: pack-open reading: %w", rerr)
		}
		if rec == nil {
			break
		}
		switch {
		case pending == nil:
			pending = append([]byte(nil), rec...)
		case equal(pending, rec):
			if subframe(rec) < subframe(pending) {
				pending = append(pending[:0], rec...)
			}
		case less(pending, rec):
			if err := flush(); err != nil {
				outWriter.Close()
				return fmt.Errorf("maintenance: pack-open writing: %w", err)
			}
			pending = append([]byte(nil), rec...)
		default:
			if err := flush(); err != nil {
				outWriter.Close()
				return fmt.Errorf("maintenance: pack-open writing: %w", err)
			}
			pending = append([]byte(nil), rec...)
		}
	}
	if err := flush(); err != nil {
		outWriter.Close()
		return fmt.Errorf("maintenance: pack-open final write: %w", err)
	}
	if err := outWriter.Close(); err != nil {
		return fmt.Errorf("maintenance: closing openpacked-%d: %w", g, err)
	}
	return sys.Rename(core.OpenPackedPath(dir, g), core.OpenPath(dir, g))
}

// Unpack aborts a pack-open that was interrupted before promotion,
// restoring open-g from the still-present openpacked-g scratch file.
func Unpack(dir string, g core.FrameGroup) error {
	packedPath := core.OpenPackedPath(dir, g)
	if _, err := os.Stat(packedPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("maintenance: no openpacked-%d to unpack", g)
		}
		return err
	}
	return sys.Rename(packedPath, core.OpenPath(dir, g))
}

// RegenerateOpen re-expands every state of closed-g for each group g in
// [from, to] and appends the children to their groups' open files,
// suppressing writes to any group that already has its own closed file
// (a forward search pass limited to already-resolved history). Useful after an operator has deleted open-g files to reclaim
// space and then needs to inspect what a still-open frontier would have
// contained.
func RegenerateOpen[S any, C problem.CompressedState, T problem.Step](ctx context.Context, dir string, from, to core.FrameGroup, prob problem.Problem[S, C, T], pool *workerpool.Pool) error {
	recSize := prob.CompressedSize()
	queues := openqueue.New(dir, recSize, prob.FramesPerGroup())

	closedGroups, err := scanGroups(dir, "closed")
	if err != nil {
		return err
	}
	for _, cg := range closedGroups {
		queues.SuppressGroup(cg, true)
	}

	for g := core.FrameGroup(0); g <= to; g++ {
		if g < from {
			continue
		}
		reader, err := openReaderIfExists(core.ClosedPath(dir, g), recSize, recbuf.DefaultBufferRecords)
		if err != nil {
			return fmt.Errorf("maintenance: opening closed-%d: %w", g, err)
		}
		if reader == nil {
			continue
		}

		handler := func(ctx context.Context, job workerpool.Job) error {
			cs := prob.DecodeCompressed(job.Record)
			s := prob.Decompress(cs)
			var emitErr error
			prob.ExpandChildren(job.Frame, s, func(_ S, _ core.Frame, _ T, child S, childFrame core.Frame) {
				if emitErr != nil {
					return
				}
				childCS := prob.Compress(child)
				emitErr = queues.WriteOpenState(childFrame, func(sub uint32) []byte {
					return childCS.WithSubframe(sub).Bytes()
				})
			})
			return emitErr
		}

		runErr := pool.Run(ctx, handler, func(submit func(workerpool.Job) error) error {
			for {
				rec, rerr := reader.Read()
				if rerr != nil {
					return fmt.Errorf("reading closed-%d: %w", g, rerr)
				}
				if rec == nil {
					return nil
				}
				cs := prob.DecodeCompressed(rec)
				frame := core.FrameOf(g, cs.Subframe(), prob.FramesPerGroup())
				if err := submit(workerpool.Job{Record: append([]byte(nil), rec...), Frame: frame}); err != nil {
					return err
				}
			}
		})
		reader.Close()
		if runErr != nil {
			return fmt.Errorf("maintenance: regenerate-open group %d: %w", g, runErr)
		}
	}
	return queues.FlushAll()
}

// CreateAll builds an aggregate all-g.bin from scratch by k-way merging
// every closed-g file present (closed groups are pairwise disjoint by
// construction, so no filtering pass is needed, just a merge), replacing
// any existing all-*.bin.
func CreateAll[S any, C problem.CompressedState, T problem.Step](dir string, prob problem.Problem[S, C, T]) error {
	recSize := prob.CompressedSize()
	less, _, _ := byteComparators(prob)

	groups, err := scanGroups(dir, "closed")
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	var sources []mergeheap.Source
	var closers []func() error
	for _, g := range groups {
		r, err := openReaderIfExists(core.ClosedPath(dir, g), recSize, recbuf.DefaultBufferRecords)
		if err != nil {
			return fmt.Errorf("maintenance: opening closed-%d: %w", g, err)
		}
		if r == nil {
			continue
		}
		sources = append(sources, r)
		closers = append(closers, r.Close)
	}
	defer closeAll(closers)

	top := groups[len(groups)-1]
	heap, err := mergeheap.New(sources, less)
	if err != nil {
		return fmt.Errorf("maintenance: create-all heap init: %w", err)
	}

	outStream, err := recio.CreateWrite(core.AllNewPath(dir, top), recSize)
	if err != nil {
		return fmt.Errorf("maintenance: creating allnew-%d: %w", top, err)
	}
	outWriter := recbuf.NewWriter(outStream, recSize, recbuf.AllFileBufferRecords)
	for heap.Len() > 0 {
		rec, _, _ := heap.Head()
		if err := outWriter.Write(rec); err != nil {
			outWriter.Close()
			return fmt.Errorf("maintenance: create-all write: %w", err)
		}
		if err := heap.Next(); err != nil {
			outWriter.Close()
			return fmt.Errorf("maintenance: create-all advance: %w", err)
		}
	}
	if err := outWriter.Close(); err != nil {
		return fmt.Errorf("maintenance: closing allnew-%d: %w", top, err)
	}

	staleAll, err := scanGroups(dir, "all")
	if err != nil {
		return err
	}
	for _, sg := range staleAll {
		if err := os.Remove(core.AllPath(dir, sg)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("maintenance: removing stale all-%d: %w", sg, err)
		}
	}
	return sys.Rename(core.AllNewPath(dir, top), core.AllPath(dir, top))
}
