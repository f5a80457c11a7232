package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/projectdiscovery/pingmap/pkg/probe"
	"github.com/projectdiscovery/pingmap/pkg/sweep"
	"github.com/projectdiscovery/pingmap/pkg/version"
	envutil "github.com/projectdiscovery/utils/env"
)

var au = aurora.New(aurora.WithColors(true))

const (
	defaultConcurrency    = 100000
	defaultTimeout        = 2 * time.Second
	defaultUpdateInterval = time.Second
	defaultSubnets        = "142.244.0.0/16,129.128.0.0/16"
	defaultOutputDir      = "."
)

var (
	ConcurrencyEnv    = envutil.GetEnvOrDefault("PINGMAP_CONCURRENCY", strconv.Itoa(defaultConcurrency))
	TimeoutEnv        = envutil.GetEnvOrDefault("PINGMAP_TIMEOUT", defaultTimeout.String())
	UpdateIntervalEnv = envutil.GetEnvOrDefault("PINGMAP_UPDATE_INTERVAL", defaultUpdateInterval.String())
	SubnetsEnv        = envutil.GetEnvOrDefault("PINGMAP_SUBNETS", defaultSubnets)
	OutputDirEnv      = envutil.GetEnvOrDefault("PINGMAP_OUTPUT_DIR", defaultOutputDir)
	VerboseEnv        = envutil.GetEnvOrDefault("PINGMAP_VERBOSE", "")
)

// Options contains the configuration options for a sweep or an inspection
type Options struct {
	// Input
	Subnets goflags.StringSlice
	Auto    bool

	// Sweep
	Concurrency    int
	Timeout        time.Duration
	UpdateInterval time.Duration
	Privileged     bool
	OutputDir      string

	// Inspect
	Inspect string
	Follow  bool
	List    bool
	JSON    bool

	// Debug
	Verbose bool
	Silent  bool
	NoColor bool
	Version bool
}

// DefaultOptions returns the options used when no flag is given, with
// environment overrides applied
func DefaultOptions() *Options {
	return &Options{
		Subnets:        goflags.StringSlice(splitList(SubnetsEnv)),
		Concurrency:    intFromEnv(ConcurrencyEnv, defaultConcurrency),
		Timeout:        durationFromEnv(TimeoutEnv, defaultTimeout),
		UpdateInterval: durationFromEnv(UpdateIntervalEnv, defaultUpdateInterval),
		Privileged:     probe.DefaultPrivileged(),
		OutputDir:      OutputDirEnv,
		Verbose:        VerboseEnv == "true" || VerboseEnv == "1",
	}
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	defaults := DefaultOptions()
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`pingmap sweeps IPv4 subnets with ICMP echo requests and records the latency of every host in a resumable binary file`)

	flagSet.CreateGroup("input", "Input",
		flagSet.StringSliceVarP(&options.Subnets, "subnets", "s", []string(defaults.Subnets), "subnets to sweep (comma separated)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.BoolVarP(&options.Auto, "auto", "a", false, "add the private /24 networks of local interfaces"),
	)

	flagSet.CreateGroup("sweep", "Sweep",
		flagSet.IntVarP(&options.Concurrency, "concurrency", "c", defaults.Concurrency, "maximum number of probes in flight"),
		flagSet.DurationVarP(&options.Timeout, "timeout", "t", defaults.Timeout, "time to wait for an echo reply"),
		flagSet.DurationVarP(&options.UpdateInterval, "update-interval", "ui", defaults.UpdateInterval, "interval between progress updates"),
		flagSet.BoolVar(&options.Privileged, "privileged", defaults.Privileged, "use raw ICMP sockets (requires root)"),
		flagSet.StringVarP(&options.OutputDir, "output-dir", "o", defaults.OutputDir, "directory for result files"),
	)

	flagSet.CreateGroup("inspect", "Inspect",
		flagSet.StringVarP(&options.Inspect, "inspect", "i", "", "summarize an existing result file instead of sweeping"),
		flagSet.BoolVarP(&options.Follow, "follow", "f", false, "keep reading a result file that is still being written"),
		flagSet.BoolVarP(&options.List, "list", "l", false, "print reachable addresses with their latency"),
		flagSet.BoolVarP(&options.JSON, "json", "j", false, "print the summary as JSON"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", defaults.Verbose, "show verbose output"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only results"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	options.configureOutput()

	if options.Version {
		gologger.Info().Msgf("Current %s version: %s\n", version.Name, version.GetVersion())
		os.Exit(0)
	}

	showBanner()

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
		au = aurora.New(aurora.WithColors(false))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

// validate checks the sweep parameters. Subnets are validated when parsed.
func (options *Options) validate() error {
	if options.Inspect != "" {
		return nil
	}
	if options.Concurrency < 1 {
		return fmt.Errorf("%w: got %d", sweep.ErrInvalidConcurrency, options.Concurrency)
	}
	if options.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: got %s", options.Timeout)
	}
	if options.UpdateInterval <= 0 {
		return fmt.Errorf("update interval must be positive: got %s", options.UpdateInterval)
	}
	if options.OutputDir == "" {
		return errors.New("output directory must not be empty")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func intFromEnv(value string, fallback int) int {
	if val, err := strconv.Atoi(value); err == nil && val > 0 {
		return val
	}
	return fallback
}

func durationFromEnv(value string, fallback time.Duration) time.Duration {
	if val, err := time.ParseDuration(value); err == nil && val > 0 {
		return val
	}
	// bare numbers are seconds
	if val, err := strconv.ParseFloat(value, 64); err == nil && val > 0 {
		return time.Duration(val * float64(time.Second))
	}
	return fallback
}
