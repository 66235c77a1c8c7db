// inspect.go holds the read-only maintenance verbs: dump, count, verify,
// compare, convert, sample, find-exit, and write-partial-solution. None of
// these mutate engine-owned files except Convert, which recovers from an
// interrupted sort-open.
package maintenance

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring"
	tdigest "github.com/caio/go-tdigest/v4"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/mergeheap"
	"github.com/INLOpen/diskbfs/problem"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/sys"
)

// Dump decodes and decompresses every record in path, writing one line per
// state to w via fmt's default struct formatting. Returns the record count.
func Dump[S any, C problem.CompressedState, T problem.Step](path string, prob problem.Problem[S, C, T], w io.Writer) (int64, error) {
	reader, err := openReaderIfExists(path, prob.CompressedSize(), recbuf.DefaultBufferRecords)
	if err != nil {
		return 0, fmt.Errorf("maintenance: dump opening %s: %w", path, err)
	}
	if reader == nil {
		return 0, fmt.Errorf("maintenance: dump: %s does not exist", path)
	}
	defer reader.Close()

	var n int64
	for {
		rec, rerr := reader.Read()
		if rerr != nil {
			return n, fmt.Errorf("maintenance: dump reading: %w", rerr)
		}
		if rec == nil {
			break
		}
		cs := prob.DecodeCompressed(rec)
		s := prob.Decompress(cs)
		if _, err := fmt.Fprintf(w, "%d: %+v\n", n, s); err != nil {
			return n, fmt.Errorf("maintenance: dump writing: %w", err)
		}
		n++
	}
	return n, nil
}

// Count reports the record count of every "<prefix>-g.bin" file under dir,
// derived from file size and the problem's fixed record width.
func Count[S any, C problem.CompressedState, T problem.Step](dir, prefix string, prob problem.Problem[S, C, T]) (map[core.FrameGroup]int64, error) {
	groups, err := scanGroups(dir, prefix)
	if err != nil {
		return nil, err
	}
	recSize := int64(prob.CompressedSize())
	counts := make(map[core.FrameGroup]int64, len(groups))
	for _, g := range groups {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.bin", prefix, g))
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("maintenance: stat %s-%d: %w", prefix, g, err)
		}
		counts[g] = info.Size() / recSize
	}
	return counts, nil
}

// VerifyReport summarizes a sortedness/uniqueness check over one file.
type VerifyReport struct {
	Records    int64
	OutOfOrder int64
	Duplicates int64
	UsedBitmap bool
}

// Verify checks that closed-g is sorted and payload-unique. When the
// problem's compressed payload fits in 32 bits it cross-checks uniqueness
// against a roaring.Bitmap for an extra O(1)-membership-test sanity pass;
// otherwise it relies purely on the sorted adjacency scan.
func Verify[S any, C problem.CompressedState, T problem.Step](dir string, g core.FrameGroup, prob problem.Problem[S, C, T]) (VerifyReport, error) {
	recSize := prob.CompressedSize()
	less, equal, _ := byteComparators(prob)

	reader, err := openReaderIfExists(core.ClosedPath(dir, g), recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("maintenance: verify opening closed-%d: %w", g, err)
	}
	if reader == nil {
		return VerifyReport{}, fmt.Errorf("maintenance: verify: closed-%d does not exist", g)
	}
	defer reader.Close()

	report := VerifyReport{}
	useBitmap := prob.CompressedBits() <= 32 && recSize >= 4
	var bm *roaring.Bitmap
	if useBitmap {
		bm = roaring.New()
		report.UsedBitmap = true
	}

	var prev []byte
	for {
		rec, rerr := reader.Read()
		if rerr != nil {
			return report, fmt.Errorf("maintenance: verify reading: %w", rerr)
		}
		if rec == nil {
			break
		}
		report.Records++
		if prev != nil {
			if equal(prev, rec) {
				report.Duplicates++
			} else if !less(prev, rec) {
				report.OutOfOrder++
			}
		}
		if useBitmap {
			key := binary.LittleEndian.Uint32(rec[:4])
			// Only count duplicates the adjacency scan above cannot see
			// (repeats separated by other records in an unsorted file).
			if bm.Contains(key) && (prev == nil || !equal(prev, rec)) {
				report.Duplicates++
			}
			bm.Add(key)
		}
		if prev == nil {
			prev = make([]byte, recSize)
		}
		copy(prev, rec)
	}
	return report, nil
}

// CompareReport summarizes a two-file set comparison.
type CompareReport struct {
	OnlyA, OnlyB, Both int64
}

// Compare counts records only in A, only in B, and in both, across two
// sorted files. When the problem's payload fits in 32 bits it builds
// roaring bitmaps and uses AndNot/And for the comparison; otherwise it
// streams a two-pointer merge-diff.
func Compare[S any, C problem.CompressedState, T problem.Step](pathA, pathB string, prob problem.Problem[S, C, T]) (CompareReport, error) {
	recSize := prob.CompressedSize()
	less, equal, _ := byteComparators(prob)

	if prob.CompressedBits() <= 32 && recSize >= 4 {
		bmA, err := bitmapOf(pathA, recSize)
		if err != nil {
			return CompareReport{}, err
		}
		bmB, err := bitmapOf(pathB, recSize)
		if err != nil {
			return CompareReport{}, err
		}
		onlyA := roaring.AndNot(bmA, bmB)
		onlyB := roaring.AndNot(bmB, bmA)
		both := roaring.And(bmA, bmB)
		return CompareReport{
			OnlyA: int64(onlyA.GetCardinality()),
			OnlyB: int64(onlyB.GetCardinality()),
			Both:  int64(both.GetCardinality()),
		}, nil
	}

	ra, err := openReaderIfExists(pathA, recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return CompareReport{}, fmt.Errorf("maintenance: compare opening A: %w", err)
	}
	if ra == nil {
		return CompareReport{}, fmt.Errorf("maintenance: compare: %s does not exist", pathA)
	}
	defer ra.Close()
	rb, err := openReaderIfExists(pathB, recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return CompareReport{}, fmt.Errorf("maintenance: compare opening B: %w", err)
	}
	if rb == nil {
		return CompareReport{}, fmt.Errorf("maintenance: compare: %s does not exist", pathB)
	}
	defer rb.Close()

	var report CompareReport
	recA, errA := ra.Read()
	if errA != nil {
		return report, fmt.Errorf("maintenance: compare reading A: %w", errA)
	}
	recB, errB := rb.Read()
	if errB != nil {
		return report, fmt.Errorf("maintenance: compare reading B: %w", errB)
	}
	for recA != nil || recB != nil {
		var err error
		switch {
		case recA == nil:
			report.OnlyB++
			recB, err = rb.Read()
		case recB == nil:
			report.OnlyA++
			recA, err = ra.Read()
		case equal(recA, recB):
			report.Both++
			recA, err = ra.Read()
			if err == nil {
				recB, err = rb.Read()
			}
		case less(recA, recB):
			report.OnlyA++
			recA, err = ra.Read()
		default:
			report.OnlyB++
			recB, err = rb.Read()
		}
		if err != nil {
			return report, fmt.Errorf("maintenance: compare advancing: %w", err)
		}
	}
	return report, nil
}

func bitmapOf(path string, recSize int) (*roaring.Bitmap, error) {
	reader, err := openReaderIfExists(path, recSize, recbuf.DefaultBufferRecords)
	if err != nil {
		return nil, fmt.Errorf("maintenance: opening %s: %w", path, err)
	}
	bm := roaring.New()
	if reader == nil {
		return bm, nil
	}
	defer reader.Close()
	for {
		rec, rerr := reader.Read()
		if rerr != nil {
			return nil, fmt.Errorf("maintenance: reading %s: %w", path, rerr)
		}
		if rec == nil {
			break
		}
		bm.Add(binary.LittleEndian.Uint32(rec[:4]))
	}
	return bm, nil
}

// Convert recovers from a sort-open that was interrupted after chunking but
// before the final merge, by k-way merging every leftover chunk-g-*.bin into
// openpacked-g.bin and promoting it over open-g.
func Convert[S any, C problem.CompressedState, T problem.Step](dir string, g core.FrameGroup, prob problem.Problem[S, C, T]) error {
	recSize := prob.CompressedSize()
	less, equal, subframe := byteComparators(prob)

	matches, err := globChunks(dir, g)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("maintenance: convert: no leftover chunks for group %d", g)
	}

	var sources []mergeheap.Source
	var closers []func() error
	for _, p := range matches {
		rs, err := recio.OpenRead(p, recSize)
		if err != nil {
			return fmt.Errorf("maintenance: convert opening %s: %w", p, err)
		}
		r := recbuf.NewReader(rs, recSize, recbuf.DefaultBufferRecords)
		sources = append(sources, r)
		closers = append(closers, r.Close)
	}
	defer closeAll(closers)

	heap, err := mergeheap.New(sources, less)
	if err != nil {
		return fmt.Errorf("maintenance: convert heap init: %w", err)
	}

	outStream, err := recio.CreateWrite(core.OpenPackedPath(dir, g), recSize)
	if err != nil {
		return fmt.Errorf("maintenance: convert creating openpacked-%d: %w", g, err)
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
	for heap.Len() > 0 {
		rec, _, _ := heap.Head()
		switch {
		case pending == nil:
			pending = append([]byte(nil), rec...)
		case equal(pending, rec):
			if subframe(rec) < subframe(pending) {
				pending = append(pending[:0], rec...)
			}
		default:
			if err := flush(); err != nil {
				outWriter.Close()
				return fmt.Errorf("maintenance: convert write: %w", err)
			}
			pending = append([]byte(nil), rec...)
		}
		if err := heap.Next(); err != nil {
			outWriter.Close()
			return fmt.Errorf("maintenance: convert advance: %w", err)
		}
	}
	if err := flush(); err != nil {
		outWriter.Close()
		return fmt.Errorf("maintenance: convert final write: %w", err)
	}
	if err := outWriter.Close(); err != nil {
		return fmt.Errorf("maintenance: convert closing openpacked-%d: %w", g, err)
	}
	if err := sys.Rename(core.OpenPackedPath(dir, g), core.OpenPath(dir, g)); err != nil {
		return fmt.Errorf("maintenance: convert promoting openpacked-%d: %w", g, err)
	}
	for _, p := range matches {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("maintenance: convert removing chunk %s: %w", p, err)
		}
	}
	return nil
}

// Sample streams path, decompressing each record and feeding metric(s) into
// a t-digest for later quantile queries: a way to characterize a closed or
// aggregate file's distribution of some scalar (path cost so far, branching
// factor, whatever metric the caller supplies) without loading it into RAM.
func Sample[S any, C problem.CompressedState, T problem.Step](path string, prob problem.Problem[S, C, T], metric func(S) float64) (*tdigest.TDigest, error) {
	td, err := tdigest.New(tdigest.Compression(100))
	if err != nil {
		return nil, fmt.Errorf("maintenance: sample digest init: %w", err)
	}
	reader, err := openReaderIfExists(path, prob.CompressedSize(), recbuf.DefaultBufferRecords)
	if err != nil {
		return nil, fmt.Errorf("maintenance: sample opening %s: %w", path, err)
	}
	if reader == nil {
		return td, nil
	}
	defer reader.Close()
	for {
		rec, rerr := reader.Read()
		if rerr != nil {
			return nil, fmt.Errorf("maintenance: sample reading: %w", rerr)
		}
		if rec == nil {
			break
		}
		cs := prob.DecodeCompressed(rec)
		s := prob.Decompress(cs)
		if err := td.Add(metric(s)); err != nil {
			return nil, fmt.Errorf("maintenance: sample adding value: %w", err)
		}
	}
	return td, nil
}

// SampleRandom picks one uniformly random record from closed-g, falling
// back to open-g when the group is not closed yet, and returns the decoded
// state with its frame, a cheap spot check that a group's records still
// decode to plausible states.
func SampleRandom[S any, C problem.CompressedState, T problem.Step](dir string, g core.FrameGroup, prob problem.Problem[S, C, T], rnd *rand.Rand) (S, core.Frame, error) {
	var zero S
	path := core.ClosedPath(dir, g)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = core.OpenPath(dir, g)
	}
	rs, err := recio.OpenRead(path, prob.CompressedSize())
	if err != nil {
		return zero, 0, fmt.Errorf("maintenance: sample opening group %d: %w", g, err)
	}
	defer rs.Close()
	if rs.Size() == 0 {
		return zero, 0, fmt.Errorf("maintenance: sample: group %d is empty", g)
	}
	if err := rs.Seek(rnd.Int63n(rs.Size())); err != nil {
		return zero, 0, fmt.Errorf("maintenance: sample seeking: %w", err)
	}
	rec := make([]byte, prob.CompressedSize())
	if n, rerr := rs.Read(rec, 1); rerr != nil {
		return zero, 0, fmt.Errorf("maintenance: sample reading: %w", rerr)
	} else if n != 1 {
		return zero, 0, fmt.Errorf("maintenance: sample: short read in group %d", g)
	}
	cs := prob.DecodeCompressed(rec)
	frame := core.FrameOf(g, cs.Subframe(), prob.FramesPerGroup())
	return prob.Decompress(cs), frame, nil
}

// FindExit scans closed groups [from, to] for any finished state, returning
// the one with the smallest frame (the engine's own exit criterion, usable
// offline for recovery after a crash lost the in-memory exit record).
func FindExit[S any, C problem.CompressedState, T problem.Step](dir string, from, to core.FrameGroup, prob problem.Problem[S, C, T]) (found bool, state C, frame core.Frame, err error) {
	k := prob.FramesPerGroup()
	for g := from; g <= to; g++ {
		reader, rerr := openReaderIfExists(core.ClosedPath(dir, g), prob.CompressedSize(), recbuf.DefaultBufferRecords)
		if rerr != nil {
			return false, state, 0, fmt.Errorf("maintenance: find-exit opening closed-%d: %w", g, rerr)
		}
		if reader == nil {
			continue
		}
		for {
			rec, rerr := reader.Read()
			if rerr != nil {
				reader.Close()
				return false, state, 0, fmt.Errorf("maintenance: find-exit reading: %w", rerr)
			}
			if rec == nil {
				break
			}
			cs := prob.DecodeCompressed(rec)
			s := prob.Decompress(cs)
			if !prob.IsFinish(s) {
				continue
			}
			candFrame := core.FrameOf(g, cs.Subframe(), k)
			if !found || candFrame < frame {
				found, state, frame = true, cs, candFrame
			}
		}
		reader.Close()
	}
	return found, state, frame, nil
}

// WritePartialSolution renders solution.bin's in-progress backward trace to
// solution.txt, for inspection while a trace is still underway. The
// "initial" state it passes to WriteSolution is really just the furthest
// point the backward search has reached so far, not a true initial state.
// This is a best-effort inspection tool, not a substitute for letting the
// trace finish.
func WritePartialSolution[S any, C problem.CompressedState, T problem.Step](dir string, prob problem.Problem[S, C, T]) error {
	data, err := os.ReadFile(core.SolutionBinPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("maintenance: no solution.bin checkpoint to render")
		}
		return fmt.Errorf("maintenance: reading checkpoint: %w", err)
	}
	r := bytes.NewReader(data)

	var gi int32
	if err := binary.Read(r, binary.LittleEndian, &gi); err != nil {
		return fmt.Errorf("maintenance: corrupt checkpoint: %w", err)
	}
	stateBytes := make([]byte, prob.CompressedSize())
	if _, err := io.ReadFull(r, stateBytes); err != nil {
		return fmt.Errorf("maintenance: corrupt checkpoint: %w", err)
	}
	cs := prob.DecodeCompressed(stateBytes)

	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("maintenance: corrupt checkpoint: %w", err)
	}
	steps := make([]T, count)
	stepBuf := make([]byte, prob.StepSize())
	for i := range steps {
		if _, err := io.ReadFull(r, stepBuf); err != nil {
			return fmt.Errorf("maintenance: corrupt checkpoint: %w", err)
		}
		steps[i] = prob.DecodeStep(stepBuf)
	}

	forward := make([]T, len(steps))
	for i, st := range steps {
		forward[len(steps)-1-i] = st
	}
	return prob.WriteSolution(prob.Decompress(cs), forward)
}

// globChunks lists every leftover chunk-g-*.bin file for group g, sorted by
// chunk index so Convert merges them (and the caller's later cleanup removes
// them) in a stable order.
func globChunks(dir string, g core.FrameGroup) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("chunk-%d-*.bin", g)))
	if err != nil {
		return nil, fmt.Errorf("maintenance: globbing chunk-%d-*.bin: %w", g, err)
	}
	sort.Strings(matches)
	return matches, nil
}
