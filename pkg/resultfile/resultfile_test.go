package resultfile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readRecords(t *testing.T, path string) []float32 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data)%RecordSize != 0 {
		t.Fatalf("file length %d is not a multiple of %d", len(data), RecordSize)
	}
	out := make([]float32, 0, len(data)/RecordSize)
	for i := 0; i < len(data); i += RecordSize {
		out = append(out, record(data[i:]))
	}
	return out
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		rtt    time.Duration
		ok     bool
		want   float32
		wantOK bool
	}{
		{name: "timeout", rtt: 0, ok: false, want: TimeoutValue, wantOK: false},
		{name: "timeout ignores rtt", rtt: time.Second, ok: false, want: TimeoutValue, wantOK: false},
		{name: "ten millis", rtt: 10 * time.Millisecond, ok: true, want: 0.01, wantOK: true},
		{name: "zero latency", rtt: 0, ok: true, want: 0, wantOK: true},
		{name: "negative clamped", rtt: -time.Millisecond, ok: true, want: 0, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.rtt, tt.ok)
			if got != tt.want {
				t.Errorf("Encode() = %v, want %v", got, tt.want)
			}
			_, ok := Decode(got)
			if ok != tt.wantOK {
				t.Errorf("Decode(%v) ok = %v, want %v", got, ok, tt.wantOK)
			}
		})
	}
}

func TestRecordByteOrder(t *testing.T) {
	var b [RecordSize]byte
	putRecord(b[:], -1)
	// -1.0f is 0xBF800000
	want := [RecordSize]byte{0xbf, 0x80, 0x00, 0x00}
	if b != want {
		t.Errorf("putRecord(-1) = % x, want % x", b, want)
	}
}

func TestStoreCreateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.0.0.0-30"+Extension)
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.ResumeOffset() != 0 {
		t.Errorf("ResumeOffset() = %d, want 0", store.ResumeOffset())
	}
	for _, v := range []float32{0.01, TimeoutValue} {
		if err := store.Append(v); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if store.Written() != 2 {
		t.Errorf("Written() = %d, want 2", store.Written())
	}
	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	got := readRecords(t, path)
	if len(got) != 2 || got[0] != 0.01 || got[1] != TimeoutValue {
		t.Errorf("records = %v, want [0.01 -1]", got)
	}
}

func TestStoreResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.0.0.0-24"+Extension)

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const n = 10
	for i := 0; i < n; i++ {
		if err := store.Append(float32(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if store.ResumeOffset() != n {
		t.Fatalf("ResumeOffset() = %d, want %d", store.ResumeOffset(), n)
	}
	if err := store.Append(100); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := readRecords(t, path)
	if len(got) != n+1 {
		t.Fatalf("got %d records, want %d", len(got), n+1)
	}
	for i := 0; i < n; i++ {
		if got[i] != float32(i) {
			t.Errorf("record %d rewritten: %v", i, got[i])
		}
	}
	if got[n] != 100 {
		t.Errorf("record %d = %v, want 100", n, got[n])
	}
}

func TestStoreResumeTornWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.0.0.0-24"+Extension)

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const n = 5
	for i := 0; i < n; i++ {
		if err := store.Append(float32(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash halfway through a record
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open for torn write: %v", err)
	}
	if _, err := f.Write(make([]byte, RecordSize/2)); err != nil {
		t.Fatalf("torn write: %v", err)
	}
	_ = f.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if store.ResumeOffset() != n {
		t.Fatalf("ResumeOffset() = %d, want floor(%d/%d) = %d", store.ResumeOffset(), n*RecordSize+RecordSize/2, RecordSize, n)
	}

	// Truncation happens at open, before any new record is written
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != n*RecordSize {
		t.Errorf("file size after open = %d, want %d", info.Size(), n*RecordSize)
	}

	if err := store.Append(TimeoutValue); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := readRecords(t, path)
	if len(got) != n+1 {
		t.Fatalf("got %d records, want %d", len(got), n+1)
	}
	for i := 0; i < n; i++ {
		if got[i] != float32(i) {
			t.Errorf("record %d rewritten: %v", i, got[i])
		}
	}
	if got[n] != TimeoutValue {
		t.Errorf("record %d = %v, want %v", n, got[n], TimeoutValue)
	}
}

func TestOpenStorageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "10.0.0.0-30"+Extension)
	_, err := Open(path)
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Open error = %v, want *StorageError", err)
	}
	if storageErr.Op != "open" {
		t.Errorf("Op = %q, want open", storageErr.Op)
	}
}

func TestReaderAlternating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.0.0.0-29"+Extension)
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// /29 has 6 hosts
	for i := 0; i < 6; i++ {
		if err := store.Append(Encode(10*time.Millisecond, i%2 == 0)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	var summary Summary
	summary.Total = r.Set().Count()
	ctx := context.Background()
	for i := 0; ; i++ {
		entry, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			if i != 6 {
				t.Fatalf("EOF after %d entries, want 6", i)
			}
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if entry.Reachable != (i%2 == 0) {
			t.Errorf("entry %d reachable = %v", i, entry.Reachable)
		}
		if want := "10.0.0." + string(rune('1'+i)); entry.Addr.String() != want {
			t.Errorf("entry %d addr = %s, want %s", i, entry.Addr, want)
		}
		summary.Add(entry)
	}
	if summary.Reachable != 3 || summary.Timeouts != 3 || !summary.Complete() {
		t.Errorf("summary = %+v", summary)
	}
	if mean := summary.MeanRTT(); mean < 9*time.Millisecond || mean > 11*time.Millisecond {
		t.Errorf("MeanRTT() = %s, want ~10ms", mean)
	}
}

func TestReaderFollowPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.0.0.0-30"+Extension)
	var b [RecordSize]byte
	putRecord(b[:], 0.25)
	if err := os.WriteFile(path, b[:2], 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := OpenReader(path, WithFollow(true), WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		_, _ = f.Write(b[2:])
		_ = f.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !entry.Reachable || entry.RTT != 250*time.Millisecond || entry.Addr.String() != "10.0.0.1" {
		t.Errorf("entry = %+v, want 10.0.0.1 reachable in 250ms", entry)
	}
	timer := r.poll
	if timer == nil {
		t.Fatal("follow mode did not poll")
	}

	// The second record never arrives: following stops with the context
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	if _, err := r.Next(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next error = %v, want deadline exceeded", err)
	}
	if r.poll != timer {
		t.Error("poll timer was replaced between retries")
	}
}

func TestReaderNoFollowStopsAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.0.0.0-30"+Extension)
	var b [RecordSize]byte
	putRecord(b[:], TimeoutValue)
	if err := os.WriteFile(path, append(b[:], 0x01), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(context.Background()); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	// The trailing byte is a partial record and must not be returned
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("second Next error = %v, want io.EOF", err)
	}
}

func TestOpenReaderBadName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results"+Extension)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenReader(path); err == nil {
		t.Error("expected error for a name that does not encode subnets")
	}
}
