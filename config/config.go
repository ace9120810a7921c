// Package config holds the campaign parameters. Values come from Default,
// then an optional JSON file, then command-line flags.
package config

import (
	"encoding/json"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/feedback"
)

// Config is the full set of campaign parameters.
type Config struct {
	Target             string        `mapstructure:"target"`
	Timeout            time.Duration `mapstructure:"timeout"`
	SeedCount          int           `mapstructure:"seed_count"`
	Iterations         uint64        `mapstructure:"iterations"`
	SeedLength         int           `mapstructure:"seed_length"`
	Port               int           `mapstructure:"port"`
	CrashDir           string        `mapstructure:"crash_dir"`
	WorkDir            string        `mapstructure:"work_dir"`
	SeedDir            string        `mapstructure:"seed_dir"`
	ForceSeeds         bool          `mapstructure:"force_seeds"`
	TimeFeedback       string        `mapstructure:"time_feedback"`
	ReportInterval     time.Duration `mapstructure:"report_interval"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	MaxStackPow        int           `mapstructure:"max_stack_pow"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	RandSeed           uint64        `mapstructure:"rand_seed"`
	LogLevel           string        `mapstructure:"log_level"`
}

func Default() Config {
	return Config{
		Target:             "vuln",
		Timeout:            10 * time.Second,
		SeedCount:          8,
		Iterations:         1_000_000,
		SeedLength:         1024,
		Port:               1337,
		CrashDir:           "./crashes",
		WorkDir:            "./.greybox",
		TimeFeedback:       "record",
		ReportInterval:     5 * time.Second,
		CheckpointInterval: 30 * time.Second,
		MaxStackPow:        7,
		LogLevel:           "info",
	}
}

// Load overlays the JSON file at path onto cfg. Durations are strings such
// as "10s"; unknown keys are rejected.
func Load(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.Wrap(err, "parse config")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      cfg,
	})
	if err != nil {
		return errors.Wrap(err, "config decoder")
	}
	return errors.Wrapf(dec.Decode(m), "decode config %s", path)
}

func (c *Config) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Target, "target", c.Target, "registered target to fuzz")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "per-execution timeout")
	fs.IntVar(&c.SeedCount, "seeds", c.SeedCount, "number of generated initial inputs")
	fs.Uint64Var(&c.Iterations, "iterations", c.Iterations, "mutation iterations, 0 for unbounded")
	fs.IntVar(&c.SeedLength, "seed-length", c.SeedLength, "length of generated inputs")
	fs.IntVar(&c.Port, "port", c.Port, "supervisor port on 127.0.0.1")
	fs.StringVar(&c.CrashDir, "crashes", c.CrashDir, "directory for crash records")
	fs.StringVar(&c.WorkDir, "workdir", c.WorkDir, "directory for checkpoints and the in-flight region")
	fs.StringVar(&c.SeedDir, "seed-dir", c.SeedDir, "optional directory of initial inputs")
	fs.BoolVar(&c.ForceSeeds, "force-seeds", c.ForceSeeds, "keep every initial input that is not an objective")
	fs.StringVar(&c.TimeFeedback, "time-feedback", c.TimeFeedback, "timing feedback: record or bucket")
	fs.DurationVar(&c.ReportInterval, "report", c.ReportInterval, "progress report interval")
	fs.DurationVar(&c.CheckpointInterval, "checkpoint", c.CheckpointInterval, "checkpoint interval")
	fs.IntVar(&c.MaxStackPow, "stack-pow", c.MaxStackPow, "log2 of the maximum stacked mutations")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "address for the Prometheus endpoint, empty to disable")
	fs.Uint64Var(&c.RandSeed, "rand-seed", c.RandSeed, "random seed, 0 for time based")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "logrus level")
}

// Parse builds a Config from command-line args. When -config names a file it
// is applied first; flags given explicitly still win.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()
	var path string
	newSet := func() *flag.FlagSet {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.StringVar(&path, "config", path, "JSON config file")
		cfg.bind(fs)
		return fs
	}

	if err := newSet().Parse(args); err != nil {
		return cfg, errors.Wrap(err, "parse flags")
	}
	if path != "" {
		cfg = Default()
		if err := Load(path, &cfg); err != nil {
			return cfg, err
		}
		if err := newSet().Parse(args); err != nil {
			return cfg, errors.Wrap(err, "parse flags")
		}
	}
	return cfg, cfg.Validate()
}

// Usage writes the flag documentation to w.
func Usage(name string, w io.Writer) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	fs.String("config", "", "JSON config file")
	cfg.bind(fs)
	fs.PrintDefaults()
}

func (c Config) Validate() error {
	var problems []string
	if c.Target == "" {
		problems = append(problems, "target is empty")
	}
	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.SeedCount < 0 {
		problems = append(problems, "seed count is negative")
	}
	if c.SeedLength <= 0 {
		problems = append(problems, "seed length must be positive")
	}
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, "port out of range")
	}
	if c.CrashDir == "" || c.WorkDir == "" {
		problems = append(problems, "crash and work directories are required")
	}
	if _, err := feedback.ParseTimeMode(c.TimeFeedback); err != nil {
		problems = append(problems, err.Error())
	}
	if c.MaxStackPow < 1 || c.MaxStackPow > 16 {
		problems = append(problems, "stack-pow must be within [1, 16]")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Level is the parsed LogLevel.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Seed returns RandSeed, or a time based seed when it is zero.
func (c Config) Seed() uint64 {
	if c.RandSeed != 0 {
		return c.RandSeed
	}
	return uint64(time.Now().UnixNano())
}
