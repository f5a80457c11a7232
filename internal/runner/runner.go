package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/pingmap/pkg/probe"
	"github.com/projectdiscovery/pingmap/pkg/progress"
	"github.com/projectdiscovery/pingmap/pkg/resultfile"
	"github.com/projectdiscovery/pingmap/pkg/subnets"
	"github.com/projectdiscovery/pingmap/pkg/sweep"
	fileutil "github.com/projectdiscovery/utils/file"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

// closingProber is a prober owning a resource
type closingProber interface {
	probe.Prober
	Close() error
}

func newICMPProber(privileged bool) (closingProber, error) {
	return probe.NewClient(probe.WithPrivileged(privileged))
}

// Runner contains the internal logic of the program
type Runner struct {
	options *Options
	runID   string
	set     *subnets.Set

	newProber func(privileged bool) (closingProber, error)
	prober    closingProber
	sink      progress.Sink
	out       io.Writer
	state     *sweep.State
}

// NewRunner validates options and resolves the subnet set of the sweep
func NewRunner(options *Options) (*Runner, error) {
	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	r := &Runner{
		options:   options,
		runID:     xid.New().String(),
		newProber: newICMPProber,
		sink:      progress.LogSink{Verbose: options.Verbose},
		out:       os.Stdout,
	}
	if options.Inspect != "" {
		return r, nil
	}

	cidrs := append([]string(nil), options.Subnets...)
	if options.Auto {
		local, err := subnets.LocalNetworks()
		if err != nil {
			gologger.Warning().Msgf("Could not discover local networks: %s\n", err)
		}
		for _, prefix := range local {
			gologger.Verbose().Msgf("Adding local network %s", prefix)
			cidrs = append(cidrs, prefix.String())
		}
	}
	set, err := subnets.Parse(cidrs)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	r.set = set
	return r, nil
}

// State returns the state of the current sweep, nil before it started
func (r *Runner) State() *sweep.State {
	return r.state
}

// Run the instance
func (r *Runner) Run(ctx context.Context) error {
	if r.options.Inspect != "" {
		return r.inspect(ctx, r.options.Inspect)
	}
	return r.sweep(ctx)
}

func (r *Runner) sweep(ctx context.Context) error {
	total := r.set.Count()
	r.state = sweep.NewState(total, 0, r.options.Concurrency, r.options.Timeout)
	r.state.SetPhase(sweep.PhaseEnumerating)
	gologger.Info().Msgf("Sweeping %s (%s hosts) [run %s]", r.set, humanize.Comma(int64(total)), r.runID)

	if !fileutil.FolderExists(r.options.OutputDir) {
		if err := fileutil.CreateFolder(r.options.OutputDir); err != nil {
			r.state.SetPhase(sweep.PhaseAborted)
			return fmt.Errorf("storage error: %w", &resultfile.StorageError{Op: "mkdir", Path: r.options.OutputDir, Err: err})
		}
	}

	r.state.SetPhase(sweep.PhaseResuming)
	store, err := resultfile.Open(filepath.Join(r.options.OutputDir, r.set.Name()+resultfile.Extension))
	if err != nil {
		r.state.SetPhase(sweep.PhaseAborted)
		return fmt.Errorf("storage error: %w", err)
	}
	path := store.Path()

	resume := store.ResumeOffset()
	r.state.Resume(resume)
	if resume > 0 {
		gologger.Info().Msgf("Resuming %s at host %s of %s", path, humanize.Comma(int64(resume)), humanize.Comma(int64(total)))
	}
	if resume >= total {
		if err := store.Close(); err != nil {
			r.state.SetPhase(sweep.PhaseAborted)
			return fmt.Errorf("storage error: %w", err)
		}
		r.state.SetPhase(sweep.PhaseDone)
		gologger.Info().Msgf("%s is already complete", path)
		return r.report(ctx, path)
	}

	hosts := r.set.Hosts()
	hosts.Skip(resume)

	prober, err := r.newProber(r.options.Privileged)
	if err != nil {
		_ = store.Close()
		r.state.SetPhase(sweep.PhaseAborted)
		return fmt.Errorf("could not open ICMP socket: %w", err)
	}
	r.prober = prober
	defer r.Close()

	scheduler, err := sweep.New(prober, r.state)
	if err != nil {
		_ = store.Close()
		r.state.SetPhase(sweep.PhaseAborted)
		return fmt.Errorf("configuration error: %w", err)
	}

	reporter := progress.New(r.state, r.options.UpdateInterval, r.sink, progress.WithMemory(r.options.Verbose))
	reporterCtx, stopReporter := context.WithCancel(context.Background())
	defer stopReporter()

	var runErr error
	var g errgroup.Group
	g.Go(func() error {
		reporter.Run(reporterCtx)
		return nil
	})
	g.Go(func() error {
		defer stopReporter()
		runErr = scheduler.Run(ctx, hosts, store)
		return nil
	})
	_ = g.Wait()

	closeErr := store.Close()

	interrupted := errors.Is(runErr, context.Canceled)
	if runErr != nil && !interrupted {
		r.state.SetPhase(sweep.PhaseAborted)
		var storageErr *resultfile.StorageError
		if errors.As(runErr, &storageErr) {
			return fmt.Errorf("storage error: %w", runErr)
		}
		return runErr
	}
	if closeErr != nil {
		r.state.SetPhase(sweep.PhaseAborted)
		return fmt.Errorf("storage error: %w", closeErr)
	}
	r.state.SetPhase(sweep.PhaseDone)

	gologger.Verbose().Msgf("[run %s] wrote %d records to %s", r.runID, store.Written(), path)
	if stats, ok := prober.(interface{ Stats() probe.Stats }); ok {
		s := stats.Stats()
		gologger.Verbose().Msgf("[run %s] sent %d, received %d, late %d, send errors %d", r.runID, s.Sent, s.Received, s.LateReplies, s.SendErrors)
	}

	if interrupted {
		gologger.Warning().Msgf("[run %s] Interrupted after %s of %s hosts, run again with the same subnets to resume", r.runID, humanize.Comma(int64(r.state.Done())), humanize.Comma(int64(total)))
		return nil
	}
	return r.report(context.Background(), path)
}

// report summarizes a finished result file
func (r *Runner) report(ctx context.Context, path string) error {
	summary, err := summarize(ctx, path, nil)
	if err != nil {
		return err
	}
	gologger.Info().Msgf("%s: %s of %s hosts reachable (%s timed out)", path,
		au.Green(humanize.Comma(int64(summary.Reachable))),
		humanize.Comma(int64(summary.Total)),
		au.Red(humanize.Comma(int64(summary.Timeouts))))
	if summary.Reachable > 0 {
		gologger.Info().Msgf("latency min %s / mean %s / max %s", summary.MinRTT, summary.MeanRTT(), summary.MaxRTT)
	}
	return nil
}

// inspect summarizes an existing result file
func (r *Runner) inspect(ctx context.Context, path string) error {
	var opts []resultfile.ReaderOption
	if r.options.Follow {
		opts = append(opts, resultfile.WithFollow(true))
	}

	var onEntry func(resultfile.Entry)
	if r.options.List {
		onEntry = func(e resultfile.Entry) {
			if e.Reachable {
				_, _ = fmt.Fprintf(r.out, "%s\t%s\n", e.Addr, e.RTT)
			}
		}
	}

	summary, err := summarize(ctx, path, onEntry, opts...)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if r.options.JSON {
		report := newInspectReport(path, summary)
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(r.out, string(data))
		return nil
	}

	status := au.Green("complete")
	if !summary.Complete() {
		status = au.Yellow("incomplete")
	}
	gologger.Info().Msgf("%s (%s): %s of %s records, %s reachable, %s timed out", path, status,
		humanize.Comma(int64(summary.Records)), humanize.Comma(int64(summary.Total)),
		humanize.Comma(int64(summary.Reachable)), humanize.Comma(int64(summary.Timeouts)))
	if summary.Reachable > 0 {
		gologger.Info().Msgf("latency min %s / mean %s / max %s", summary.MinRTT, summary.MeanRTT(), summary.MaxRTT)
	}
	return nil
}

// summarize reads every record of path, calling onEntry for each when set
func summarize(ctx context.Context, path string, onEntry func(resultfile.Entry), opts ...resultfile.ReaderOption) (*resultfile.Summary, error) {
	reader, err := resultfile.OpenReader(path, opts...)
	if err != nil {
		var storageErr *resultfile.StorageError
		if errors.As(err, &storageErr) {
			return nil, fmt.Errorf("storage error: %w", err)
		}
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	summary := &resultfile.Summary{Total: reader.Set().Count()}
	for {
		entry, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return summary, err
			}
			return summary, fmt.Errorf("storage error: %w", err)
		}
		summary.Add(entry)
		if onEntry != nil {
			onEntry(entry)
		}
	}
}

type inspectReport struct {
	File      string   `json:"file"`
	Subnets   []string `json:"subnets"`
	Total     uint64   `json:"total"`
	Records   uint64   `json:"records"`
	Reachable uint64   `json:"reachable"`
	Timeouts  uint64   `json:"timeouts"`
	Complete  bool     `json:"complete"`
	MinRTTMs  float64  `json:"min_rtt_ms"`
	MeanRTTMs float64  `json:"mean_rtt_ms"`
	MaxRTTMs  float64  `json:"max_rtt_ms"`
}

func newInspectReport(path string, summary *resultfile.Summary) inspectReport {
	report := inspectReport{
		File:      filepath.Base(path),
		Total:     summary.Total,
		Records:   summary.Records,
		Reachable: summary.Reachable,
		Timeouts:  summary.Timeouts,
		Complete:  summary.Complete(),
		MinRTTMs:  milliseconds(summary.MinRTT),
		MeanRTTMs: milliseconds(summary.MeanRTT()),
		MaxRTTMs:  milliseconds(summary.MaxRTT),
	}
	if set, err := subnets.FromPath(path); err == nil {
		for _, prefix := range set.Prefixes() {
			report.Subnets = append(report.Subnets, prefix.String())
		}
	}
	return report
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Close releases the ICMP socket
func (r *Runner) Close() {
	if r.prober != nil {
		_ = r.prober.Close()
	}
}
