// Package recio is the byte-sequence I/O layer: sequential
// read/write/rewrite streams over fixed-width records, built on the sys
// package's platform file handles. Files are raw concatenations of
// records, no headers or delimiters.
package recio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/INLOpen/diskbfs/sys"
)

// SectorSize is the 512-byte sector unit of the unbuffered on-disk layout.
// The streams in this package use ordinary buffered file I/O and do not
// align reads or writes to it.
const SectorSize = 512

// ErrShortRecord is returned by Read when the underlying file ends in the
// middle of a record.
var ErrShortRecord = errors.New("recio: short record at EOF")

// ErrBackwardRewrite is returned when a rewrite stream's write cursor would
// move past its read cursor, violating the readPos >= writePos invariant.
var ErrBackwardRewrite = errors.New("recio: write would overtake read position")

// ReadStream sequentially reads fixed-width records from a file opened
// read-only. EOF on Read is not an error: a short or empty read is signalled
// via the returned count.
type ReadStream struct {
	f        sys.FileHandle
	recSize  int
	pos      int64 // in records
	sizeRecs int64
}

// OpenRead opens path for sequential record reads. A missing path is
// reported as an error wrapping os.ErrNotExist; callers test it with
// errors.Is.
func OpenRead(path string, recSize int) (*ReadStream, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recio: open %s for read: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recio: stat %s: %w", path, err)
	}
	if info.Size()%int64(recSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("recio: %s size %d is not a multiple of record size %d: %w", path, info.Size(), recSize, ErrShortRecord)
	}
	return &ReadStream{f: f, recSize: recSize, sizeRecs: info.Size() / int64(recSize)}, nil
}

// Size returns the stream's length in records.
func (s *ReadStream) Size() int64 { return s.sizeRecs }

// Position returns the current read cursor, in records.
func (s *ReadStream) Position() int64 { return s.pos }

// Seek moves the read cursor to the given record offset.
func (s *ReadStream) Seek(posRecs int64) error {
	if _, err := s.f.Seek(posRecs*int64(s.recSize), io.SeekStart); err != nil {
		return fmt.Errorf("recio: seek: %w", err)
	}
	s.pos = posRecs
	return nil
}

// Read fills buf (which must be a multiple of recSize) with up to n records
// and returns the number of complete records actually read. A return value
// less than n (including 0) signals EOF; it is not itself an error.
func (s *ReadStream) Read(buf []byte, n int) (int, error) {
	want := n * s.recSize
	if len(buf) < want {
		return 0, fmt.Errorf("recio: buffer too small for %d records", n)
	}
	read, err := io.ReadFull(s.f, buf[:want])
	recs := read / s.recSize
	s.pos += int64(recs)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if read%s.recSize != 0 {
			return recs, ErrShortRecord
		}
		return recs, nil
	}
	if err != nil {
		return recs, fmt.Errorf("recio: read: %w", err)
	}
	return recs, nil
}

// Close closes the underlying file.
func (s *ReadStream) Close() error { return s.f.Close() }

// WriteStream sequentially appends fixed-width records to a file, created
// or truncated at Open time unless Append is requested.
type WriteStream struct {
	f            sys.FileHandle
	recSize      int
	written      int64
	preallocated bool
}

// CreateWrite creates (truncating any existing file) path for sequential
// record writes.
func CreateWrite(path string, recSize int) (*WriteStream, error) {
	f, err := sys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recio: create %s: %w", path, err)
	}
	return &WriteStream{f: f, recSize: recSize}, nil
}

// AppendWrite opens path for sequential record writes, appending after any
// existing content (used to resume a per-group open queue after restart).
func AppendWrite(path string, recSize int) (*WriteStream, error) {
	f, err := sys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recio: open-append %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recio: stat %s: %w", path, err)
	}
	return &WriteStream{f: f, recSize: recSize, written: info.Size() / int64(recSize)}, nil
}

// Preallocate reserves space for n records ahead of writing, where the
// platform and filesystem support it. A filesystem that cannot
// preallocate is not an error; only a genuine allocation failure is
// reported.
func (s *WriteStream) Preallocate(records int64) error {
	if records <= 0 {
		return nil
	}
	if err := sys.Preallocate(s.f, records*int64(s.recSize)); err != nil {
		if errors.Is(err, sys.ErrPreallocNotSupported) {
			return nil
		}
		return fmt.Errorf("recio: preallocate %s: %w", s.f.Name(), err)
	}
	s.preallocated = true
	return nil
}

// Write appends n complete records from buf.
func (s *WriteStream) Write(buf []byte, n int) error {
	want := n * s.recSize
	if len(buf) < want {
		return fmt.Errorf("recio: buffer too small for %d records", n)
	}
	if _, err := s.f.Write(buf[:want]); err != nil {
		return fmt.Errorf("recio: write: %w", err)
	}
	s.written += int64(n)
	return nil
}

// Flush syncs pending writes to stable storage.
func (s *WriteStream) Flush() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("recio: sync: %w", err)
	}
	return nil
}

// Size returns the number of records written so far.
func (s *WriteStream) Size() int64 { return s.written }

// Close flushes and closes the underlying file. A preallocated stream is
// trimmed to its written length first: some platforms can only reserve
// space by extending the visible file, and trailing zero bytes would read
// back as ghost records.
func (s *WriteStream) Close() error {
	if s.preallocated {
		if err := s.f.Truncate(s.written * int64(s.recSize)); err != nil {
			s.f.Close()
			return fmt.Errorf("recio: trimming preallocation: %w", err)
		}
	}
	if err := s.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// RewriteStream supports the read-then-overwrite-in-place access pattern
// used by seq-filter-open: a logical readPos and writePos, readPos >=
// writePos always, with Truncate setting EOF to writePos.
type RewriteStream struct {
	f        sys.FileHandle
	recSize  int
	readPos  int64
	writePos int64
}

// OpenRewrite opens path for combined sequential read/rewrite access.
func OpenRewrite(path string, recSize int) (*RewriteStream, error) {
	f, err := sys.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recio: open-rewrite %s: %w", path, err)
	}
	return &RewriteStream{f: f, recSize: recSize}, nil
}

// ReadPos and WritePos report the logical cursors, in records.
func (s *RewriteStream) ReadPos() int64  { return s.readPos }
func (s *RewriteStream) WritePos() int64 { return s.writePos }

// ReadNext reads one record from the current read cursor and advances it.
// ok is false at EOF.
func (s *RewriteStream) ReadNext(buf []byte) (ok bool, err error) {
	if _, err := s.f.Seek(s.readPos*int64(s.recSize), io.SeekStart); err != nil {
		return false, fmt.Errorf("recio: seek read: %w", err)
	}
	n, err := io.ReadFull(s.f, buf[:s.recSize])
	if err == io.EOF {
		return false, nil
	}
	if err == io.ErrUnexpectedEOF {
		return false, ErrShortRecord
	}
	if err != nil {
		return false, fmt.Errorf("recio: read: %w", err)
	}
	_ = n
	s.readPos++
	return true, nil
}

// WriteNext overwrites the record at the current write cursor and advances
// it. The write cursor may never catch up to the read cursor: that would
// overwrite not-yet-read data (the readPos >= writePos invariant).
func (s *RewriteStream) WriteNext(buf []byte) error {
	if s.writePos >= s.readPos {
		return ErrBackwardRewrite
	}
	if _, err := s.f.Seek(s.writePos*int64(s.recSize), io.SeekStart); err != nil {
		return fmt.Errorf("recio: seek write: %w", err)
	}
	if _, err := s.f.Write(buf[:s.recSize]); err != nil {
		return fmt.Errorf("recio: write: %w", err)
	}
	s.writePos++
	return nil
}

// Truncate sets EOF to the current write cursor, discarding any records
// between writePos and the prior end of file.
func (s *RewriteStream) Truncate() error {
	if err := s.f.Truncate(s.writePos * int64(s.recSize)); err != nil {
		return fmt.Errorf("recio: truncate: %w", err)
	}
	return nil
}

// Close closes the underlying file without an implicit truncate.
func (s *RewriteStream) Close() error { return s.f.Close() }
