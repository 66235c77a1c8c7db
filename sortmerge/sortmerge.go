// Package sortmerge implements SortAndMerge: the external
// sort of one frame group's open file. RAM-sized chunks are read, sorted in
// place, and duplicate payloads compacted to the minimum subframe; chunks
// are then k-way merged (again compacting duplicates) into merged-g.bin.
// The merge compacts across chunk boundaries too, so the output is sorted
// and payload-unique regardless of how the input was chunked.
package sortmerge

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/mergeheap"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
	"github.com/INLOpen/diskbfs/sys"
)

// ErrUnsorted is the sentinel for a stream found not to be sorted. No
// function in this module returns it: order violations detected by
// recbuf.Reader.CheckOrder are reported with recbuf's own error.
var ErrUnsorted = errors.New("sortmerge: stream is not sorted")

// Order is the payload comparator and subframe accessor used to sort and
// dedup raw records; it operates on bytes only, never decompressing into a
// problem.State; comparison and subframe extraction stay on raw bytes.
type Order struct {
	// Less orders two records by payload, ignoring subframe bits.
	Less func(a, b []byte) bool
	// Equal reports payload equality, ignoring subframe bits.
	Equal func(a, b []byte) bool
	// Subframe extracts the subframe bits from a record.
	Subframe func(rec []byte) uint32
}

// Result reports what SortAndMerge produced. RAMUsed is informational: the
// sort buffer is its own allocation, separate from the cache, and the
// driver only logs it.
type Result struct {
	MergedPath string
	RAMUsed    int // bytes of the sort buffer actually touched
	Records    int64
}

// recSlice is a sortable view over a flat byte buffer of fixed-width
// records, used to sort.Sort one RAM-sized chunk in place.
type recSlice struct {
	buf     []byte
	recSize int
	order   Order
	swapBuf []byte
}

func (s *recSlice) Len() int { return len(s.buf) / s.recSize }
func (s *recSlice) rec(i int) []byte {
	return s.buf[i*s.recSize : (i+1)*s.recSize]
}
func (s *recSlice) Less(i, j int) bool { return s.order.Less(s.rec(i), s.rec(j)) }
func (s *recSlice) Swap(i, j int) {
	a, b := s.rec(i), s.rec(j)
	copy(s.swapBuf, a)
	copy(a, b)
	copy(b, s.swapBuf)
}

// compactDuplicates walks sorted records in buf[:n*recSize] and compacts
// maximal runs of payload-equal records to one, keeping the minimum
// subframe, appending the result to out (which is truncated first). The
// per-record "best" buffers come from pool rather than a fresh make, since
// a large open file is chunked into many such runs per SortAndMerge call.
func compactDuplicates(buf []byte, n, recSize int, order Order, out [][]byte, pool *core.BytesPool) [][]byte {
	out = out[:0]
	for i := 0; i < n; {
		best := append(pool.Get(), buf[i*recSize:(i+1)*recSize]...)
		j := i + 1
		for j < n && order.Equal(buf[i*recSize:(i+1)*recSize], buf[j*recSize:(j+1)*recSize]) {
			cand := buf[j*recSize : (j+1)*recSize]
			if order.Subframe(cand) < order.Subframe(best) {
				best = append(best[:0], cand...)
			}
			j++
		}
		out = append(out, best)
		i = j
	}
	return out
}

// SortAndMerge externally sorts dir/open-g.bin, producing
// dir/merged-g.bin. ramBytes bounds the size of each sorted-and-compacted
// chunk; a larger open file is processed in multiple chunks, merged via a
// k-way heap.
func SortAndMerge(dir string, g core.FrameGroup, recSize int, ramBytes int, order Order) (Result, error) {
	openPath := core.OpenPath(dir, g)
	if _, err := os.Stat(openPath); err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("sortmerge: stat %s: %w", openPath, err)
	}

	// Resume: a prior crash may have left merged-g already complete.
	mergedPath := core.MergedPath(dir, g)
	if info, err := os.Stat(mergedPath); err == nil && info.Size() >= 0 {
		return Result{MergedPath: mergedPath, RAMUsed: 0, Records: info.Size() / int64(recSize)}, nil
	}

	recordsPerChunk := ramBytes / recSize
	if recordsPerChunk < 1 {
		recordsPerChunk = 1
	}

	in, err := recio.OpenRead(openPath, recSize)
	if err != nil {
		return Result{}, fmt.Errorf("sortmerge: open %s: %w", openPath, err)
	}
	defer in.Close()

	buf := make([]byte, recordsPerChunk*recSize)
	swap := make([]byte, recSize)
	scratchPool := core.NewBytesPool(recSize)
	var chunkPaths []string
	var maxRAMUsed int
	var totalRecords int64

	for chunkIdx := 0; ; chunkIdx++ {
		n, rerr := in.Read(buf, recordsPerChunk)
		if rerr != nil {
			return Result{}, fmt.Errorf("sortmerge: reading chunk %d: %w", chunkIdx, rerr)
		}
		if n == 0 {
			break
		}
		used := n * recSize
		if used > maxRAMUsed {
			maxRAMUsed = used
		}
		rs := &recSlice{buf: buf[:used], recSize: recSize, order: order, swapBuf: swap}
		sort.Sort(rs)

		compacted := compactDuplicates(buf, n, recSize, order, nil, scratchPool)
		chunkPath := core.ChunkPath(dir, g, chunkIdx)
		if err := writeRecords(chunkPath, recSize, compacted); err != nil {
			return Result{}, err
		}
		chunkPaths = append(chunkPaths, chunkPath)
		totalRecords += int64(len(compacted))
		for _, rec := range compacted {
			scratchPool.Put(rec)
		}
	}

	if len(chunkPaths) == 0 {
		// open-g existed but was empty; produce an empty merged-g.
		w, err := recio.CreateWrite(mergedPath, recSize)
		if err != nil {
			return Result{}, fmt.Errorf("sortmerge: create empty %s: %w", mergedPath, err)
		}
		if err := w.Close(); err != nil {
			return Result{}, err
		}
		return Result{MergedPath: mergedPath, RAMUsed: maxRAMUsed, Records: 0}, nil
	}

	if len(chunkPaths) == 1 {
		if err := renameInto(chunkPaths[0], mergedPath); err != nil {
			return Result{}, err
		}
		return Result{MergedPath: mergedPath, RAMUsed: maxRAMUsed, Records: totalRecords}, nil
	}

	mergingPath := core.MergingPath(dir, g)
	merged, err := mergeChunks(chunkPaths, mergingPath, recSize, order)
	if err != nil {
		return Result{}, err
	}
	if err := renameInto(mergingPath, mergedPath); err != nil {
		return Result{}, err
	}
	for _, cp := range chunkPaths {
		if err := os.Remove(cp); err != nil && !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("sortmerge: removing chunk %s: %w", cp, err)
		}
	}
	return Result{MergedPath: mergedPath, RAMUsed: maxRAMUsed, Records: merged}, nil
}

func writeRecords(path string, recSize int, records [][]byte) error {
	w, err := recio.CreateWrite(path, recSize)
	if err != nil {
		return fmt.Errorf("sortmerge: create chunk %s: %w", path, err)
	}
	if err := w.Preallocate(int64(len(records))); err != nil {
		w.Close()
		return err
	}
	bw := recbuf.NewWriter(w, recSize, recbuf.DefaultBufferRecords)
	for _, r := range records {
		if err := bw.Write(r); err != nil {
			bw.Close()
			return fmt.Errorf("sortmerge: write chunk %s: %w", path, err)
		}
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("sortmerge: close chunk %s: %w", path, err)
	}
	return nil
}

// mergeChunks k-way merges sorted, already-deduplicated chunk files into
// out, additionally compacting duplicates that span chunk boundaries.
func mergeChunks(chunkPaths []string, outPath string, recSize int, order Order) (int64, error) {
	readers := make([]*recbuf.Reader, len(chunkPaths))
	sources := make([]mergeheap.Source, len(chunkPaths))
	var totalRecords int64
	for i, p := range chunkPaths {
		rs, err := recio.OpenRead(p, recSize)
		if err != nil {
			return 0, fmt.Errorf("sortmerge: open chunk %s: %w", p, err)
		}
		totalRecords += rs.Size()
		readers[i] = recbuf.NewReader(rs, recSize, recbuf.DefaultBufferRecords)
		sources[i] = readers[i]
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	heap, err := mergeheap.New(sources, order.Less)
	if err != nil {
		return 0, fmt.Errorf("sortmerge: heap init: %w", err)
	}

	w, err := recio.CreateWrite(outPath, recSize)
	if err != nil {
		return 0, fmt.Errorf("sortmerge: create %s: %w", outPath, err)
	}
	// Upper bound: cross-chunk duplicates shrink the output, and Close
	// trims any reservation that extended the visible file size.
	if err := w.Preallocate(totalRecords); err != nil {
		w.Close()
		return 0, err
	}
	bw := recbuf.NewWriter(w, recSize, recbuf.DefaultBufferRecords)

	var pending []byte
	var count int64
	flushPending := func() error {
		if pending == nil {
			return nil
		}
		if err := bw.Write(pending); err != nil {
			return err
		}
		count++
		pending = nil
		return nil
	}

	for heap.Len() > 0 {
		rec, _, ok := heap.Head()
		if !ok {
			break
		}
		switch {
		case pending == nil:
			pending = append([]byte(nil), rec...)
		case order.Equal(pending, rec):
			if order.Subframe(rec) < order.Subframe(pending) {
				pending = append(pending[:0], rec...)
			}
		default:
			if err := flushPending(); err != nil {
				bw.Close()
				return 0, fmt.Errorf("sortmerge: merge write: %w", err)
			}
			pending = append([]byte(nil), rec...)
		}
		if err := heap.Next(); err != nil {
			bw.Close()
			return 0, fmt.Errorf("sortmerge: merge advance: %w", err)
		}
	}
	if err := flushPending(); err != nil {
		bw.Close()
		return 0, fmt.Errorf("sortmerge: merge final write: %w", err)
	}
	if err := bw.Close(); err != nil {
		return 0, fmt.Errorf("sortmerge: close %s: %w", outPath, err)
	}
	return count, nil
}

func renameInto(src, dst string) error {
	if err := sys.Rename(src, dst); err != nil {
		return fmt.Errorf("sortmerge: rename %s -> %s: %w", src, dst, err)
	}
	return nil
}
