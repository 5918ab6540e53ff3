package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
)

type Flags struct {
	ConfigPath     string
	Version        bool
	Account        string
	NoCompact      bool
	Setup          bool
	RunDiagnosis   bool
	DiagnosisFlags DiagnosisFlags
}

type DiagnosisFlags struct {
	Level      int
	Account    string
	OutputFile string
}

// ParseFlags parses the process arguments and exits on bad usage.
func ParseFlags(args []string) Flags {
	flags, err := ParseArgs(args, nil)
	if err != nil {
		// flag has already printed the problem and usage
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	return flags
}

// ParseArgs parses args without touching global flag state. Usage and
// errors go to output, or stderr when output is nil.
func ParseArgs(args []string, output io.Writer) (Flags, error) {
	flags := Flags{}
	fs := flag.NewFlagSet("toot-scraper", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	fs.StringVar(&flags.ConfigPath, "c", "", "Path to config.toml")
	fs.StringVar(&flags.ConfigPath, "cfg", "", "Path to config.toml")
	fs.BoolVar(&flags.Version, "v", false, "Display version information")
	fs.BoolVar(&flags.Version, "version", false, "Display version information")
	fs.StringVar(&flags.Account, "a", "", "Only download this account (id or acct)")
	fs.StringVar(&flags.Account, "account", "", "Only download this account (id or acct)")
	fs.BoolVar(&flags.NoCompact, "no-compact", false, "Skip compacting the database after the run")
	fs.BoolVar(&flags.Setup, "setup", false, "Run the login wizard again")
	fs.BoolVar(&flags.RunDiagnosis, "diagnose", false, "Check config, database and instance access, then write a report")
	fs.IntVar(&flags.DiagnosisFlags.Level, "diagnose-level", 1, "Diagnosis verbosity (1-3)")
	fs.StringVar(&flags.DiagnosisFlags.OutputFile, "diagnose-output", "", "Where to write the diagnosis report")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		fmt.Fprintln(fs.Output(), err)
		return Flags{}, err
	}

	flags.DiagnosisFlags.Account = flags.Account
	return flags, nil
}
