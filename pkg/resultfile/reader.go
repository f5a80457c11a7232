package resultfile

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/projectdiscovery/pingmap/pkg/subnets"
)

// DefaultPollInterval is how long a following reader waits before retrying a short read
var DefaultPollInterval = 100 * time.Millisecond

// Entry is one decoded record zipped with its address
type Entry struct {
	Index     uint64
	Addr      netip.Addr
	RTT       time.Duration
	Reachable bool
}

// Reader streams the records of a result file in address sequence order.
// The subnet set, and so the address of every record, is derived from the
// file name alone.
type Reader struct {
	file         *os.File
	set          *subnets.Set
	hosts        *subnets.Iterator
	index        uint64
	follow       bool
	pollInterval time.Duration
	poll         *time.Timer

	buf  [RecordSize]byte
	have int // bytes of the current record read so far
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithFollow makes the reader poll past end of file instead of stopping,
// for files that are still being written.
func WithFollow(follow bool) ReaderOption {
	return func(r *Reader) {
		r.follow = follow
	}
}

// WithPollInterval sets the retry interval used in follow mode
func WithPollInterval(d time.Duration) ReaderOption {
	return func(r *Reader) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// OpenReader opens the result file at path for reading
func OpenReader(path string, opts ...ReaderOption) (*Reader, error) {
	set, err := subnets.FromPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	r := &Reader{
		file:         file,
		set:          set,
		hosts:        set.Hosts(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Set returns the subnet set decoded from the file name
func (r *Reader) Set() *subnets.Set {
	return r.set
}

// Next returns the next entry. It returns io.EOF once every address of the
// sequence has been read, or, when not following, at the end of the file.
// A trailing partial record is never returned.
func (r *Reader) Next(ctx context.Context) (Entry, error) {
	if r.index >= r.set.Count() {
		return Entry{}, io.EOF
	}

	for r.have < RecordSize {
		n, err := r.file.Read(r.buf[r.have:])
		r.have += n
		if r.have == RecordSize {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return Entry{}, &StorageError{Op: "read", Path: r.file.Name(), Err: err}
		}
		if n > 0 {
			continue
		}
		if !r.follow {
			return Entry{}, io.EOF
		}
		if err := r.wait(ctx); err != nil {
			return Entry{}, err
		}
	}
	r.have = 0

	addr, ok := r.hosts.Next()
	if !ok {
		return Entry{}, io.EOF
	}
	rtt, reachable := Decode(record(r.buf[:]))
	entry := Entry{
		Index:     r.index,
		Addr:      addr,
		RTT:       rtt,
		Reachable: reachable,
	}
	r.index++
	return entry, nil
}

// wait sleeps one poll interval on the reader's timer
func (r *Reader) wait(ctx context.Context) error {
	if r.poll == nil {
		r.poll = time.NewTimer(r.pollInterval)
	} else {
		r.poll.Reset(r.pollInterval)
	}
	select {
	case <-ctx.Done():
		r.poll.Stop()
		return ctx.Err()
	case <-r.poll.C:
		return nil
	}
}

// Close closes the underlying file
func (r *Reader) Close() error {
	if r.poll != nil {
		r.poll.Stop()
	}
	return r.file.Close()
}
