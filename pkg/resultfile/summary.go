package resultfile

import "time"

// Summary aggregates entries of a result file
type Summary struct {
	Total     uint64        `json:"total"`
	Records   uint64        `json:"records"`
	Reachable uint64        `json:"reachable"`
	Timeouts  uint64        `json:"timeouts"`
	MinRTT    time.Duration `json:"min_rtt"`
	MaxRTT    time.Duration `json:"max_rtt"`
	sumRTT    time.Duration
}

// Add accounts one entry
func (s *Summary) Add(e Entry) {
	s.Records++
	if !e.Reachable {
		s.Timeouts++
		return
	}
	if s.Reachable == 0 || e.RTT < s.MinRTT {
		s.MinRTT = e.RTT
	}
	if e.RTT > s.MaxRTT {
		s.MaxRTT = e.RTT
	}
	s.Reachable++
	s.sumRTT += e.RTT
}

// MeanRTT returns the average latency of reachable entries
func (s *Summary) MeanRTT() time.Duration {
	if s.Reachable == 0 {
		return 0
	}
	return s.sumRTT / time.Duration(s.Reachable)
}

// Complete reports whether every address of the sequence has a record
func (s *Summary) Complete() bool {
	return s.Records >= s.Total
}
