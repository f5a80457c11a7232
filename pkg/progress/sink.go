package progress

import (
	"github.com/dustin/go-humanize"
	"github.com/projectdiscovery/gologger"
)

// Sink consumes progress snapshots
type Sink interface {
	Report(Snapshot)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(Snapshot)

// Report calls f
func (f SinkFunc) Report(s Snapshot) {
	f(s)
}

// LogSink prints one status line per snapshot
type LogSink struct {
	// Verbose adds phase and resident memory to every line
	Verbose bool
}

// Report implements Sink
func (l LogSink) Report(s Snapshot) {
	if l.Verbose {
		gologger.Info().Msgf("%7.3f%% done | %9.2f p/s | %6d active | %s | %s",
			s.Percent, s.Rate, s.InFlight, s.Phase, humanize.Bytes(s.RSS))
		return
	}
	gologger.Info().Msgf("%7.3f%% done | %9.2f p/s | %6d active", s.Percent, s.Rate, s.InFlight)
}
