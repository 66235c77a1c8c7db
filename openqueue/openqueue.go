// Package openqueue implements the per-frame-group open-node queues:
// lazily-created, buffered, append-only writers indexed by frame group,
// safe for concurrent producers.
package openqueue

import (
	"fmt"
	"sync"

	"github.com/INLOpen/diskbfs/core"
	"github.com/INLOpen/diskbfs/recbuf"
	"github.com/INLOpen/diskbfs/recio"
)

// Queues owns one lazily-created buffered writer per frame group. All
// methods are safe for concurrent use by multiple worker goroutines.
type Queues struct {
	dir     string
	recSize int
	k       uint32

	mu      sync.Mutex
	writers map[core.FrameGroup]*recbuf.Writer
	noQueue map[core.FrameGroup]bool // suppresses writes for regenerate-open
}

// New creates a queue manager rooted at dir, grouping frames by k.
func New(dir string, recSize int, k uint32) *Queues {
	return &Queues{
		dir:     dir,
		recSize: recSize,
		k:       k,
		writers: make(map[core.FrameGroup]*recbuf.Writer),
		noQueue: make(map[core.FrameGroup]bool),
	}
}

// SuppressGroup marks g so WriteOpenState silently drops writes to it; used
// by maintenance.RegenerateOpen to avoid re-deriving an already-closed
// group's frontier.
func (q *Queues) SuppressGroup(g core.FrameGroup, suppress bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.noQueue[g] = suppress
}

// ReopenForAppend reopens an existing open-g file (e.g. on driver resume)
// so subsequent writes append after its current contents rather than
// truncating it.
func (q *Queues) ReopenForAppend(g core.FrameGroup) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.writers[g]; ok {
		return nil
	}
	w, err := recio.AppendWrite(core.OpenPath(q.dir, g), q.recSize)
	if err != nil {
		return fmt.Errorf("openqueue: reopen group %d: %w", g, err)
	}
	q.writers[g] = recbuf.NewWriter(w, q.recSize, recbuf.DefaultBufferRecords)
	return nil
}

// WriteOpenState computes g = frame/K and the subframe, asks encode for the
// record (payload bytes plus that subframe), and appends it to group g's
// writer, lazily creating it.
func (q *Queues) WriteOpenState(frame core.Frame, encode func(sub uint32) []byte) error {
	g := core.GroupOf(frame, q.k)
	sub := core.SubframeOf(frame, q.k)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.noQueue[g] {
		return nil
	}

	w, ok := q.writers[g]
	if !ok {
		// Append, never truncate: the driver closes writers between frame
		// groups, and a group's open file may already hold records flushed
		// by an earlier step.
		ws, err := recio.AppendWrite(core.OpenPath(q.dir, g), q.recSize)
		if err != nil {
			return fmt.Errorf("openqueue: create group %d: %w", g, err)
		}
		w = recbuf.NewWriter(ws, q.recSize, recbuf.DefaultBufferRecords)
		q.writers[g] = w
	}
	rec := encode(sub)
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("openqueue: write group %d: %w", g, err)
	}
	return nil
}

// FlushAndClose flushes and closes the writer for g, if one exists, and
// removes it from the active set so a later WriteOpenState recreates it
// fresh (matching the driver's per-step "flush and close queue[g]" step).
func (q *Queues) FlushAndClose(g core.FrameGroup) error {
	q.mu.Lock()
	w, ok := q.writers[g]
	if ok {
		delete(q.writers, g)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("openqueue: close group %d: %w", g, err)
	}
	return nil
}

// FlushAll flushes and closes every currently active writer, used before
// process shutdown.
func (q *Queues) FlushAll() error {
	q.mu.Lock()
	groups := make([]core.FrameGroup, 0, len(q.writers))
	for g := range q.writers {
		groups = append(groups, g)
	}
	q.mu.Unlock()
	for _, g := range groups {
		if err := q.FlushAndClose(g); err != nil {
			return err
		}
	}
	return nil
}

// FlushGroup writes g's buffered records through to open-g, if a writer is
// active, without closing it, so the file's contents can be inspected
// while the run continues.
func (q *Queues) FlushGroup(g core.FrameGroup) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.writers[g]
	if !ok {
		return nil
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("openqueue: flush group %d: %w", g, err)
	}
	return nil
}

// ActiveGroups lists every frame group with a currently open writer.
func (q *Queues) ActiveGroups() []core.FrameGroup {
	q.mu.Lock()
	defer q.mu.Unlock()
	groups := make([]core.FrameGroup, 0, len(q.writers))
	for g := range q.writers {
		groups = append(groups, g)
	}
	return groups
}

// HasActiveQueue reports whether group g currently has an open writer.
func (q *Queues) HasActiveQueue(g core.FrameGroup) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.writers[g]
	return ok
}
