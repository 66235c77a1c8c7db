// Package filterpipe implements the subtract/filter pipeline:
// FilterStream removes a sorted mask from a sorted source; MergeTwoStreams
// additionally writes the union, used for the optional "all" aggregate.
// The mask may be many sorted input streams, folded through a merge heap
// and fast-forwarded with ScanTo rather than read record by record.
package filterpipe

import (
	"fmt"

	"github.com/INLOpen/diskbfs/mergeheap"
	"github.com/INLOpen/diskbfs/recbuf"
)

// Less and Equal are the same payload comparators sortmerge.Order carries.
type Less func(a, b []byte) bool
type Equal func(a, b []byte) bool

// OnKept is invoked, in sorted order, for every record emitted by the
// filter/subtract pipelines (e.g. to feed the worker pool during a BFS
// step).
type OnKept func(rec []byte) error

// FilterStream writes source \ union(inputs) to output, in sorted order,
// invoking onKept for each emitted record. source and every stream in
// inputs must be sorted and payload-unique. Any nil entry in inputs is
// skipped during both setup and iteration.
func FilterStream(source *recbuf.Reader, inputs []mergeheap.Source, output *recbuf.Writer, less Less, equal Equal, onKept OnKept) (int64, error) {
	mask, err := mergeheap.New(inputs, mergeheap.Less(less))
	if err != nil {
		return 0, fmt.Errorf("filterpipe: mask heap init: %w", err)
	}

	var kept int64
	for {
		rec, err := source.Read()
		if err != nil {
			return kept, fmt.Errorf("filterpipe: reading source: %w", err)
		}
		if rec == nil {
			break
		}
		if err := mask.ScanTo(rec, mergeheap.Less(less)); err != nil {
			return kept, fmt.Errorf("filterpipe: mask scanTo: %w", err)
		}
		if head, _, ok := mask.Head(); ok && equal(head, rec) {
			continue // masked out
		}
		if err := output.Write(rec); err != nil {
			return kept, fmt.Errorf("filterpipe: writing output: %w", err)
		}
		kept++
		if onKept != nil {
			if err := onKept(rec); err != nil {
				return kept, fmt.Errorf("filterpipe: onKept callback: %w", err)
			}
		}
	}
	return kept, nil
}

// MergeTwoStreams writes union(sourceA, sourceB) to outUnion and
// sourceA \ sourceB to outAMinusB, invoking onAKept exactly on the records
// written to outAMinusB. Both sources must be sorted and payload-unique.
// sourceB accepts anything satisfying mergeheap.Source (a plain
// *recbuf.Reader, or a mergeheap.Heap wrapped as one) so the driver can fold
// several disjoint closed-g streams into B while the "all" aggregate lags
// behind the current frame group.
func MergeTwoStreams(sourceA *recbuf.Reader, sourceB mergeheap.Source, outUnion, outAMinusB *recbuf.Writer, less Less, equal Equal, onAKept OnKept) (unionCount, aMinusBCount int64, retErr error) {
	recA, errA := sourceA.Read()
	if errA != nil {
		return 0, 0, fmt.Errorf("filterpipe: reading A: %w", errA)
	}
	recB, errB := sourceB.Read()
	if errB != nil {
		return 0, 0, fmt.Errorf("filterpipe: reading B: %w", errB)
	}

	writeUnion := func(rec []byte) error {
		if err := outUnion.Write(rec); err != nil {
			return err
		}
		unionCount++
		return nil
	}
	writeAMinusB := func(rec []byte) error {
		if err := outAMinusB.Write(rec); err != nil {
			return err
		}
		aMinusBCount++
		if onAKept != nil {
			return onAKept(rec)
		}
		return nil
	}

	var err error
	for recA != nil || recB != nil {
		switch {
		case recA == nil:
			if err := writeUnion(recB); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: union write (B-only): %w", err)
			}
			recB, err = sourceB.Read()
		case recB == nil:
			if err := writeUnion(recA); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: union write (A-only): %w", err)
			}
			if err := writeAMinusB(recA); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: A\\B write (A-only): %w", err)
			}
			recA, err = sourceA.Read()
		case equal(recA, recB):
			if err := writeUnion(recA); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: union write (both): %w", err)
			}
			recA, err = sourceA.Read()
			if err == nil {
				recB, err = sourceB.Read()
			}
		case less(recA, recB):
			if err := writeUnion(recA); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: union write (A<B): %w", err)
			}
			if err := writeAMinusB(recA); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: A\\B write (A<B): %w", err)
			}
			recA, err = sourceA.Read()
		default:
			if err := writeUnion(recB); err != nil {
				return 0, 0, fmt.Errorf("filterpipe: union write (B<A): %w", err)
			}
			recB, err = sourceB.Read()
		}
		if err != nil {
			return 0, 0, fmt.Errorf("filterpipe: advancing streams: %w", err)
		}
	}
	return unionCount, aMinusBCount, nil
}
