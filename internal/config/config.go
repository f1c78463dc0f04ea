// Package config loads the service configuration: YAML on disk, overlaid on
// defaults, checked against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/swipematch/internal/consensus"
	"github.com/roach88/swipematch/internal/sweeper"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "SWIPEMATCH_CONFIG"

//go:embed schema.cue
var schemaSource string

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full service configuration. Durations are Go duration strings.
type Config struct {
	Store     Store     `yaml:"store" json:"store"`
	Consensus Consensus `yaml:"consensus" json:"consensus"`
	Publish   Publish   `yaml:"publish" json:"publish"`
	Feed      Feed      `yaml:"feed" json:"feed"`
	Sweeper   Sweeper   `yaml:"sweeper" json:"sweeper"`
	HTTP      HTTP      `yaml:"http" json:"http"`
	Log       Log       `yaml:"log" json:"log"`
}

type Store struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type Consensus struct {
	Policy string `yaml:"policy" json:"policy"`
}

type Publish struct {
	Sink          string `yaml:"sink" json:"sink"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`
	Attempts      int    `yaml:"attempts" json:"attempts"`
	Backoff       string `yaml:"backoff" json:"backoff"`
	Retention     string `yaml:"retention" json:"retention"`
}

type Feed struct {
	Consumer  string `yaml:"consumer" json:"consumer"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Interval  string `yaml:"interval" json:"interval"`
}

// Sweeper holds cron specs. An empty spec disables the job.
type Sweeper struct {
	Redeliver string `yaml:"redeliver" json:"redeliver"`
	Purge     string `yaml:"purge" json:"purge"`
}

type HTTP struct {
	Addr string `yaml:"addr" json:"addr"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store:     Store{Driver: "sqlite", Path: "swipematch.db"},
		Consensus: Consensus{Policy: "unanimous"},
		Publish: Publish{
			Sink:          "log",
			ChannelPrefix: "swipematch:room:",
			Attempts:      3,
			Backoff:       "100ms",
			Retention:     "24h",
		},
		Feed: Feed{
			Consumer:  "vote-processor",
			BatchSize: 100,
			Interval:  "1s",
		},
		Sweeper: Sweeper{
			Redeliver: sweeper.DefaultRedeliverSpec,
			Purge:     sweeper.DefaultPurgeSpec,
		},
		HTTP: HTTP{Addr: ":8080"},
		Log:  Log{Level: "info", Format: "text"},
	}
}

// Load reads path, or the file named by SWIPEMATCH_CONFIG when path is
// empty, over the defaults and validates the result. With neither set the
// defaults are returned.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.overlay(data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.overlay(data); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlay(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks c against the schema and the rules that span fields.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}

	switch {
	case c.Store.Driver == "sqlite" && c.Store.Path == "":
		return fmt.Errorf("%w: store.path is required for the sqlite driver", ErrInvalid)
	case c.Store.Driver == "postgres" && c.Store.DSN == "":
		return fmt.Errorf("%w: store.dsn is required for the postgres driver", ErrInvalid)
	case c.Publish.Sink == "redis" && c.Publish.RedisAddr == "":
		return fmt.Errorf("%w: publish.redis_addr is required for the redis sink", ErrInvalid)
	}
	if _, err := consensus.ParsePolicy(c.Consensus.Policy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, spec := range []string{c.Sweeper.Redeliver, c.Sweeper.Purge} {
		if err := sweeper.ValidateSpec(spec); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	for name, d := range map[string]string{
		"publish.backoff":   c.Publish.Backoff,
		"publish.retention": c.Publish.Retention,
		"feed.interval":     c.Feed.Interval,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
	return nil
}

// Policy returns the parsed consensus policy.
func (c Config) Policy() consensus.Policy {
	p, err := consensus.ParsePolicy(c.Consensus.Policy)
	if err != nil {
		return consensus.Unanimous
	}
	return p
}

// BackoffDuration returns publish.backoff. Call only on a validated Config.
func (p Publish) BackoffDuration() time.Duration { return mustDuration(p.Backoff) }

// RetentionDuration returns publish.retention.
func (p Publish) RetentionDuration() time.Duration { return mustDuration(p.Retention) }

// IntervalDuration returns feed.interval.
func (f Feed) IntervalDuration() time.Duration { return mustDuration(f.Interval) }

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// SlogLevel maps log.level onto a slog level; unknown values are info.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. verbose forces debug level.
func (l Log) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := l.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
