package config

import (
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// ErrHelp is returned by ParseFlags when usage was requested and printed.
var ErrHelp = errors.New("help requested")

type Options struct {
	ConfigPath        string `long:"config" short:"c" default:"config.yaml" description:"YAML configuration file, optional"`
	EnvFile           string `long:"env-file" default:".env" description:"dotenv file loaded before the configuration, optional"`
	UpdateExisting    bool   `long:"update-existing" description:"Refresh statistics of videos already in the table"`
	UpdateTranscripts bool   `long:"update-transcripts" description:"Retry transcripts of videos that have none"`
	NoTranscripts     bool   `long:"no-transcripts" description:"Do not fetch transcripts for newly found videos"`
}

func ParseFlags(args []string) (Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return Options{}, ErrHelp
		}
		return Options{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return opts, nil
}

// Apply returns cfg with the command line switches layered on top. Switches
// only ever turn a phase on (or off, for --no-transcripts).
func (o Options) Apply(cfg Config) Config {
	if o.UpdateExisting {
		cfg.Pipeline.UpdateExisting = true
	}
	if o.UpdateTranscripts {
		cfg.Pipeline.UpdateTranscripts = true
	}
	if o.NoTranscripts {
		cfg.Pipeline.FetchTranscripts = false
	}

	return cfg
}
