package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/uploadkeeper/internal/flagx"
)

// parseFlags overrides selected Config fields from command-line flags.
//
//	-host string    backend base address
//	-state string   resume state directory
//
// Only these flags are parsed, so -c / -config and flags owned by other
// components do not cause errors here.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-host", "-state"})

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "backend base address")
	fs.StringVar(&cfg.StateDir, "state", cfg.StateDir, "resume state directory")

	return fs.Parse(args)
}
