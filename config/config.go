// Package config holds the run configuration. Values come from the
// defaults, then an optional YAML file, then command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/notargets/CPTrack/engine"
	"github.com/notargets/CPTrack/scanner"
)

// Config is the complete configuration of one process
type Config struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	Timesteps int `yaml:"timesteps"`

	// Blocks is the number of blocks in a simulated run. With peers it
	// is the number of peers.
	Blocks int      `yaml:"blocks"`
	Rank   int      `yaml:"rank"`
	Peers  []string `yaml:"peers"`

	Ghost int `yaml:"ghost"`
	// Split lists the decomposed axes, any of "x", "y" and "t"
	Split string `yaml:"split"`

	Scaling   float64 `yaml:"scaling"`
	Threshold float64 `yaml:"threshold"`
	Policy    string  `yaml:"policy"`

	Input  string `yaml:"input"`
	Format string `yaml:"format"`

	ReadDump  string `yaml:"read_dump"`
	WriteDump string `yaml:"write_dump"`
	ReadTraj  string `yaml:"read_traj"`
	WriteTraj string `yaml:"write_traj"`
	WriteSets string `yaml:"write_sets"`
	Print     bool   `yaml:"print"`

	Threads  int    `yaml:"threads"`
	Exchange string `yaml:"exchange"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the configuration of the synthetic 128x128x10 run
func Default() Config {
	return Config{
		Width:     128,
		Height:    128,
		Timesteps: 10,
		Blocks:    1,
		Ghost:     1,
		Split:     "xyt",
		Scaling:   15,
		Policy:    "maxima",
		Format:    "float32",
		Threads:   1,
		Exchange:  "sync",
		LogLevel:  "info",
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// peerList is a comma separated flag value
type peerList struct{ peers *[]string }

func (p peerList) String() string {
	if p.peers == nil {
		return ""
	}
	return strings.Join(*p.peers, ",")
}

func (p peerList) Set(s string) error {
	*p.peers = nil
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			*p.peers = append(*p.peers, addr)
		}
	}
	return nil
}

// RegisterFlags binds the configuration fields to fs, using the current
// values as defaults
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Width, "width", c.Width, "field width")
	fs.IntVar(&c.Height, "height", c.Height, "field height")
	fs.IntVar(&c.Timesteps, "timesteps", c.Timesteps, "number of timesteps")
	fs.IntVar(&c.Blocks, "blocks", c.Blocks, "number of blocks simulated in this process")
	fs.IntVar(&c.Rank, "rank", c.Rank, "rank of this process when peers are given")
	fs.Var(peerList{&c.Peers}, "peers", "comma separated host:port of every rank, in rank order")
	fs.IntVar(&c.Ghost, "ghost", c.Ghost, "ghost width in lattice points")
	fs.StringVar(&c.Split, "split", c.Split, "axes to decompose, any of x, y, t")
	fs.Float64Var(&c.Scaling, "scaling-factor", c.Scaling, "scaling factor for synthetic data")
	fs.Float64Var(&c.Threshold, "threshold", c.Threshold, "minimum curve value")
	fs.StringVar(&c.Policy, "policy", c.Policy, "critical points to track: maxima, minima, saddles, extrema, all")
	fs.StringVar(&c.Input, "input", c.Input, "raw float32 input field, synthetic data when empty")
	fs.StringVar(&c.Format, "format", c.Format, "input file format")
	fs.StringVar(&c.ReadDump, "read-dump", c.ReadDump, "read intersections from a dump file instead of scanning")
	fs.StringVar(&c.WriteDump, "write-dump", c.WriteDump, "write intersections to a dump file")
	fs.StringVar(&c.ReadTraj, "read-traj", c.ReadTraj, "read and print a trajectory file, skipping the analysis")
	fs.StringVar(&c.WriteTraj, "write-traj", c.WriteTraj, "write trajectories")
	fs.StringVar(&c.WriteSets, "write-sets", c.WriteSets, "write the sets of connected elements")
	fs.BoolVar(&c.Print, "print", c.Print, "print trajectories")
	fs.IntVar(&c.Threads, "threads", c.Threads, "scanning goroutines per block")
	fs.StringVar(&c.Exchange, "exchange", c.Exchange, "exchange strategy: sync or async")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve prometheus metrics on this address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
}

// Parse builds the configuration from args. A -config flag names a YAML
// file whose values the other flags override.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "YAML configuration file")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if *path != "" {
		loaded, err := Load(*path)
		if err != nil {
			return cfg, err
		}
		again := flag.NewFlagSet(name, flag.ContinueOnError)
		again.String("config", "", "")
		loaded.RegisterFlags(again)
		if err := again.Parse(args); err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	return cfg, cfg.Validate()
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration, reporting all problems at once
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Width < 6 || c.Height < 6 {
		add("field of %dx%d is too small, need at least 6x6", c.Width, c.Height)
	}
	if c.Timesteps < 2 {
		add("need at least 2 timesteps, got %d", c.Timesteps)
	}
	if len(c.Peers) > 0 {
		if c.Rank < 0 || c.Rank >= len(c.Peers) {
			add("rank %d outside %d peers", c.Rank, len(c.Peers))
		}
	} else if c.Blocks < 1 {
		add("block count %d, must be at least 1", c.Blocks)
	}
	if c.Ghost < 1 {
		add("ghost width %d, must be at least 1", c.Ghost)
	}
	if _, err := c.SplitAxes(); err != nil {
		add("%v", err)
	}
	if _, err := scanner.ParsePolicy(c.Policy); err != nil {
		add("%v", err)
	}
	if _, err := engine.ParseStrategy(c.Exchange); err != nil {
		add("%v", err)
	}
	if c.Input != "" && c.Format != "float32" {
		add("unsupported input format %q", c.Format)
	}
	if c.Threads < 1 {
		add("thread count %d, must be at least 1", c.Threads)
	}
	if _, err := c.Level(); err != nil {
		add("%v", err)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// NumBlocks is the number of blocks of the run
func (c Config) NumBlocks() int {
	if len(c.Peers) > 0 {
		return len(c.Peers)
	}
	return c.Blocks
}

// SplitAxes decodes the split flag
func (c Config) SplitAxes() ([3]bool, error) {
	var split [3]bool
	for _, r := range strings.ToLower(c.Split) {
		switch r {
		case 'x':
			split[0] = true
		case 'y':
			split[1] = true
		case 't':
			split[2] = true
		default:
			return split, fmt.Errorf("unknown split axis %q in %q", r, c.Split)
		}
	}
	return split, nil
}

// Level decodes the log level
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, errors.New("unknown log level " + c.LogLevel)
	}
	return l, nil
}
