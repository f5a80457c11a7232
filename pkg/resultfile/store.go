package resultfile

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
)

// writeBufferSize is the size of the in-memory buffer in front of the file
const writeBufferSize = 64 * 1024

// Store is an append-only result file opened at its resume point.
// Append must be called by a single goroutine, in address sequence order.
type Store struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	resume  uint64
	written uint64
	buf     [RecordSize]byte

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the result file at path and positions it after the
// last complete record. A trailing partial record left by an interrupted
// write is truncated away before anything is appended.
func Open(path string) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &StorageError{Op: "stat", Path: path, Err: err}
	}

	// Integer division rounds a dangling partial record down so it gets rewritten
	numDone := uint64(info.Size()) / RecordSize
	offset := int64(numDone * RecordSize)

	if offset != info.Size() {
		if err := file.Truncate(offset); err != nil {
			_ = file.Close()
			return nil, &StorageError{Op: "truncate", Path: path, Err: err}
		}
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, &StorageError{Op: "seek", Path: path, Err: err}
	}

	return &Store{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, writeBufferSize),
		resume: numDone,
	}, nil
}

// Path returns the file path of the store
func (s *Store) Path() string {
	return s.path
}

// ResumeOffset returns the number of complete records found when the store was opened
func (s *Store) ResumeOffset() uint64 {
	return s.resume
}

// Written returns the number of records appended since the store was opened
func (s *Store) Written() uint64 {
	return s.written
}

// Append buffers one record
func (s *Store) Append(v float32) error {
	putRecord(s.buf[:], v)
	if _, err := s.writer.Write(s.buf[:]); err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	s.written++
	return nil
}

// Flush writes buffered records to the file and syncs it to stable storage
func (s *Store) Flush() error {
	if err := s.writer.Flush(); err != nil {
		return &StorageError{Op: "flush", Path: s.path, Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &StorageError{Op: "sync", Path: s.path, Err: err}
	}
	return nil
}

// Close flushes the store and closes the file. Calling Close more than once
// returns the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		flushErr := s.Flush()
		var closeErr error
		if err := s.file.Close(); err != nil {
			closeErr = &StorageError{Op: "close", Path: s.path, Err: err}
		}
		s.closeErr = errors.Join(flushErr, closeErr)
	})
	return s.closeErr
}
