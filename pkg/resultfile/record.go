package resultfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/projectdiscovery/pingmap/pkg/subnets"
)

const (
	// RecordSize is the width of one record in bytes
	RecordSize = 4
	// Extension is appended to the canonical subnet name to form the file name
	Extension = subnets.FileExtension
	// TimeoutValue is the record written for a probe that got no reply
	TimeoutValue float32 = -1
)

// ByteOrder of every record in a result file
var ByteOrder = binary.BigEndian

// Encode converts a probe outcome into its record value: the latency in
// seconds when ok, TimeoutValue otherwise.
func Encode(rtt time.Duration, ok bool) float32 {
	if !ok {
		return TimeoutValue
	}
	if rtt < 0 {
		rtt = 0
	}
	return float32(rtt.Seconds())
}

// Decode converts a record value back into a latency and reachability flag.
// Any negative value (or NaN) is a timeout.
func Decode(v float32) (time.Duration, bool) {
	if v < 0 || math.IsNaN(float64(v)) {
		return 0, false
	}
	return time.Duration(float64(v) * float64(time.Second)), true
}

// putRecord writes v into b, which must be at least RecordSize long
func putRecord(b []byte, v float32) {
	ByteOrder.PutUint32(b, math.Float32bits(v))
}

// record reads a value from b, which must be at least RecordSize long
func record(b []byte) float32 {
	return math.Float32frombits(ByteOrder.Uint32(b))
}

// StorageError describes a failed operation on a result file
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
