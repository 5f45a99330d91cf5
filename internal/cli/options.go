// internal/cli/options.go
package cli

import (
	"errors"
	"flag"
	"fmt"

	"tcrflow/internal/version"
)

// Options holds all CLI flags and arguments.
type Options struct {
	// Input
	ConfigFile string

	// Overrides (0 / empty = take the config file value)
	Threads  int
	CacheDir string
	WorkDir  string

	// Output
	Output  string // text | json
	Report  string // report path ("-" = stdout)
	Header  bool   // true unless --no-header
	DryRun  bool
	Quiet   bool
	Version bool
}

// NewFlagSet returns a configured FlagSet with custom usage/help.
func NewFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			`%s: chunked parallel TCR repertoire analysis (MiXCR vs TRUST4)

Version: %s

Usage of %s:
`, name, version.Version, name)
		fs.PrintDefaults()
	}
	return fs
}

// ParseArgs registers and parses all flags, returns an Options struct.
func ParseArgs(fs *flag.FlagSet, argv []string) (Options, error) {
	var opt Options
	var help bool

	fs.StringVar(&opt.ConfigFile, "config", "", "YAML run configuration file [*]")
	fs.StringVar(&opt.ConfigFile, "c", "", "alias of --config")

	// Overrides
	fs.IntVar(&opt.Threads, "threads", 0, "override total thread budget (0 = config value) [0]")
	fs.StringVar(&opt.CacheDir, "cache-dir", "", "override cache store location")
	fs.StringVar(&opt.WorkDir, "work-dir", "", "override run working directory")

	// Output
	fs.StringVar(&opt.Output, "output", "text", "report format: text | json [text]")
	fs.StringVar(&opt.Report, "report", "-", "report destination path ('-' = stdout) [-]")
	noHeader := false
	fs.BoolVar(&noHeader, "no-header", false, "suppress header line in text report [false]")
	fs.BoolVar(&opt.DryRun, "dry-run", false, "plan chunks and print the work plan without running tools [false]")
	fs.BoolVar(&opt.Quiet, "quiet", false, "suppress progress logging [false]")

	fs.BoolVar(&opt.Version, "v", false, "print version and exit (shorthand) [false]")
	fs.BoolVar(&opt.Version, "version", false, "print version and exit [false]")
	fs.BoolVar(&help, "h", false, "show this help message (shorthand) [false]")

	if err := fs.Parse(argv); err != nil {
		return opt, err
	}
	if help {
		fs.Usage()
		return opt, flag.ErrHelp
	}
	if opt.Version {
		return opt, nil
	}
	opt.Header = !noHeader

	// Validation
	if opt.ConfigFile == "" {
		return opt, errors.New("--config is required")
	}
	if opt.Threads < 0 {
		return opt, errors.New("--threads must be ≥ 0")
	}
	if opt.Output != "text" && opt.Output != "json" {
		return opt, fmt.Errorf("invalid --output %q", opt.Output)
	}
	return opt, nil
}
