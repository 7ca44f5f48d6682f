// Command survey decodes vehicle survey bundles: it builds the corrected
// position cache and prints sidescan lines, bathymetry swaths, bundle
// summaries or track statistics.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/version"
)

const usage = `usage: survey [flags] <index|lines|swaths|info|stats> <bundle-dir>...

Commands:
  index   build or load the position cache and report its span
  lines   print sidescan lines as CSV
  swaths  print bathymetry soundings as CSV
  info    print the bathymetry summary as JSON
  stats   print track statistics as JSON

Flags:
`

var errUsage = errors.New("invalid usage")

// options are the parsed command line.
type options struct {
	command   string
	dirs      []string
	from, to  int64
	subsystem int64
	rebuild   bool
	level     monitoring.Level
	cfg       *config.SurveyConfig
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errVersion):
		fmt.Fprintln(stdout, version.String("survey"))
		return 0
	case err != nil:
		fmt.Fprintf(stderr, "survey: %v\n", err)
		return 2
	}

	setupLogging(opts.level, stderr)

	outputs := make([]bytes.Buffer, len(opts.dirs))
	var g errgroup.Group
	g.SetLimit(opts.cfg.GetWorkers())
	for i, dir := range opts.dirs {
		g.Go(func() error {
			if err := processBundle(opts, dir, &outputs[i]); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			return nil
		})
	}
	err = g.Wait()

	// Bundle outputs keep command line order.
	for i := range outputs {
		if _, werr := outputs[i].WriteTo(stdout); werr != nil {
			log.Printf("failed to write output: %v", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "survey: %v\n", err)
		return 1
	}
	return 0
}

var errVersion = errors.New("version requested")

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("survey", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "Path to a JSON or YAML survey config (defaults built in)")
	from := fs.Int64("from", 0, "Start time in ms since epoch (default first ping)")
	to := fs.Int64("to", 0, "End time in ms since epoch (default last ping)")
	subsystem := fs.Int64("subsystem", 0, "Sidescan subsystem to print (default all)")
	rebuild := fs.Bool("rebuild", false, "Discard cached positions, histograms and bathymetry info first")
	verbose := fs.String("verbose", "ops", "Log level: ops, diag or trace")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		return nil, errVersion
	}

	level, err := monitoring.ParseLevel(*verbose)
	if err != nil {
		return nil, err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return nil, fmt.Errorf("%w: need a command and at least one bundle directory", errUsage)
	}
	cmd := fs.Arg(0)
	if _, ok := commands[cmd]; !ok {
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if *from != 0 && *to != 0 && *to < *from {
		return nil, fmt.Errorf("%w: -to %d is before -from %d", errUsage, *to, *from)
	}

	cfg := config.DefaultSurveyConfig()
	if *configPath != "" {
		if cfg, err = config.LoadSurveyConfig(*configPath); err != nil {
			return nil, err
		}
	}

	return &options{
		command:   cmd,
		dirs:      fs.Args()[1:],
		from:      *from,
		to:        *to,
		subsystem: *subsystem,
		rebuild:   *rebuild,
		level:     level,
		cfg:       cfg,
	}, nil
}
