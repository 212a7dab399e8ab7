// Package config is for app wide settings that are unmarshalled
// from Viper (see: /cmd)
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// RootSettingsFile is the default settings file. It sits next to the
// binary and is overridden per run with the --settings flag.
var RootSettingsFile = defaultSettingsPath()

// VerdictConfig is the quality bar an assembled locus must clear to be
// marked resolved.
type VerdictConfig struct {
	// the minimum identity percent against the best matching allele, 0-100
	MinIdentity float64 `mapstructure:"min-identity"`

	// how much of a locus's expected length the contig's aligned span
	// must cover, 0-1
	MinLengthFraction float64 `mapstructure:"min-length-fraction"`
}

// AssessConfig is the pairwise alignment tool that scores assembled
// contigs against their reference alleles.
type AssessConfig struct {
	// the executable name or path, EMBOSS needle by default
	Bin string `mapstructure:"bin"`

	// arguments with {ref}, {query} and {out} placeholders
	Args []string `mapstructure:"args"`

	// contigs shorter than this fraction of the locus's expected length
	// are not worth scoring, 0-1
	MinContigRatio float64 `mapstructure:"min-contig-ratio"`
}

// Config is the root-level settings struct and is a mix
// of settings available in settings.yaml and those
// available from the command line
type Config struct {
	// the number of loci assembled concurrently
	Workers int `mapstructure:"workers"`

	// the wall clock limit per external tool invocation
	Timeout time.Duration `mapstructure:"timeout"`

	// threads handed to each aligner/assembler invocation
	Threads int `mapstructure:"threads"`

	// the hard cap on iterations, 0 means bounded by the strategy list
	MaxIterations int `mapstructure:"max-iterations"`

	// whether to keep only single mapped read templates
	Filter bool `mapstructure:"filter"`

	// whether to keep the per run scratch tree after the run
	KeepWork bool `mapstructure:"keep-work"`

	// isolate name prefix preferred when allele identities tie
	Priority string `mapstructure:"priority"`

	// whether to suppress the per iteration progress bar
	Quiet bool `mapstructure:"quiet"`

	// whether to log debug detail
	Verbose bool `mapstructure:"verbose"`

	// path to a strategy list YAML, empty for the built in defaults
	Strategies string `mapstructure:"strategies"`

	// verdict thresholds
	Verdict VerdictConfig `mapstructure:"verdict"`

	// contig assessment tool settings
	Assess AssessConfig `mapstructure:"assess"`
}

// New returns a new Config struct populated by Viper settings, merged
// from the settings file (when one exists) and bound command line flags.
func New() Config {
	setDefaults()

	file := viper.GetString("settings")
	if file == "" {
		file = RootSettingsFile
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("failed to read settings file %s: %v", file, err)
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		log.Fatalf("unable to decode settings into struct, %v", err)
	}

	if err := c.Validate(); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	return c
}

// Validate fails fast on settings no run could finish with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, have %d", c.Workers)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, have %s", c.Timeout)
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, have %d", c.Threads)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max-iterations cannot be negative, have %d", c.MaxIterations)
	}
	if c.Verdict.MinIdentity < 0 || c.Verdict.MinIdentity > 100 {
		return fmt.Errorf("verdict.min-identity must be within 0-100, have %g", c.Verdict.MinIdentity)
	}
	if c.Verdict.MinLengthFraction < 0 || c.Verdict.MinLengthFraction > 1 {
		return fmt.Errorf("verdict.min-length-fraction must be within 0-1, have %g", c.Verdict.MinLengthFraction)
	}
	if c.Assess.Bin == "" {
		return fmt.Errorf("assess.bin is required")
	}
	if c.Assess.MinContigRatio < 0 || c.Assess.MinContigRatio > 1 {
		return fmt.Errorf("assess.min-contig-ratio must be within 0-1, have %g", c.Assess.MinContigRatio)
	}

	return nil
}

// setDefaults seeds viper so settings absent from both the settings file
// and the flags still carry workable values.
func setDefaults() {
	viper.SetDefault("workers", runtime.NumCPU())
	viper.SetDefault("timeout", "45m")
	viper.SetDefault("threads", 1)
	viper.SetDefault("verdict.min-identity", 80.0)
	viper.SetDefault("verdict.min-length-fraction", 0.5)
	viper.SetDefault("assess.bin", "needle")
	viper.SetDefault("assess.args", []string{
		"-asequence", "{ref}",
		"-bsequence", "{query}",
		"-gapopen", "10",
		"-gapextend", "0.5",
		"-outfile", "{out}",
	})
	viper.SetDefault("assess.min-contig-ratio", 0.5)
}

// defaultSettingsPath looks next to the binary for settings.yaml. The
// ISCA_SETTINGS environment variable overrides it.
func defaultSettingsPath() string {
	if p := os.Getenv("ISCA_SETTINGS"); p != "" {
		return p
	}

	ex, err := os.Executable()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(filepath.Dir(ex), "settings.yaml")
}
