package sweep

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/projectdiscovery/pingmap/pkg/probe"
	"github.com/projectdiscovery/pingmap/pkg/resultfile"
	syncutil "github.com/projectdiscovery/utils/sync"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConcurrency is returned for a concurrency cap below one
var ErrInvalidConcurrency = errors.New("concurrency must be at least 1")

// Source yields addresses in sequence order
type Source interface {
	Next() (netip.Addr, bool)
}

// Writer receives one record per address, in sequence order
type Writer interface {
	Append(v float32) error
}

type outcome struct {
	rtt time.Duration
	ok  bool
}

// future resolves to the outcome of one launched probe
type future chan outcome

// Scheduler launches probes under an admission cap and writes their records
// in launch order, whatever order they complete in.
type Scheduler struct {
	prober probe.Prober
	state  *State
}

// New returns a scheduler driving prober with the cap and timeout of state
func New(prober probe.Prober, state *State) (*Scheduler, error) {
	if state.Concurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, state.Concurrency)
	}
	if state.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive: got %s", state.Timeout)
	}
	return &Scheduler{prober: prober, state: state}, nil
}

// Run probes every address of hosts and appends one record per address to w.
//
// Cancelling ctx stops admission: probes already launched still run to
// completion and their records are written, so the output always ends at the
// last launched address. Run then returns ctx.Err(). A write error stops
// admission, moves the sweep to PhaseAborted and is returned.
func (s *Scheduler) Run(ctx context.Context, hosts Source, w Writer) error {
	awg, err := syncutil.New(syncutil.WithSize(s.state.Concurrency))
	if err != nil {
		return err
	}

	pipeline := make(chan future, s.state.Concurrency)
	// launched probes are never cut short by an interrupt
	probeCtx := context.WithoutCancel(ctx)

	s.state.SetPhase(PhaseSweeping)
	g, gctx := errgroup.WithContext(ctx)
	writerDone := make(chan struct{})

	g.Go(func() error {
		defer close(writerDone)
		for f := range pipeline {
			out := <-f
			if err := w.Append(resultfile.Encode(out.rtt, out.ok)); err != nil {
				return err
			}
			s.state.done.Add(1)
		}
		return nil
	})

	g.Go(func() error {
		defer close(pipeline)
		defer s.state.SetPhase(PhaseDraining)

		for {
			select {
			case <-gctx.Done():
				return nil
			default:
			}

			addr, ok := hosts.Next()
			if !ok {
				return nil
			}
			if err := awg.AddWithContext(gctx); err != nil {
				return nil
			}

			f := make(future, 1)
			s.state.inFlight.Add(1)
			go func(addr netip.Addr) {
				defer awg.Done()
				rtt, ok := s.prober.Probe(probeCtx, addr, s.state.Timeout)
				s.state.inFlight.Add(-1)
				f <- outcome{rtt: rtt, ok: ok}
			}(addr)

			// a launched probe is always handed to the writer unless the writer is gone
			select {
			case pipeline <- f:
			case <-writerDone:
				return nil
			}
		}
	})

	err = g.Wait()
	awg.Wait()

	if err != nil {
		s.state.SetPhase(PhaseAborted)
		return err
	}
	return ctx.Err()
}
