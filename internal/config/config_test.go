package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/consensus"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, consensus.Unanimous, cfg.Policy())
	assert.Equal(t, 100*time.Millisecond, cfg.Publish.BackoffDuration())
	assert.Equal(t, 24*time.Hour, cfg.Publish.RetentionDuration())
	assert.Equal(t, time.Second, cfg.Feed.IntervalDuration())
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "redis.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "swipematch.db", cfg.Store.Path, "unset keys keep defaults")
	assert.Equal(t, consensus.Policy{Kind: consensus.PolicyPercent, Percent: 75}, cfg.Policy())
	assert.Equal(t, "redis", cfg.Publish.Sink)
	assert.Equal(t, 5, cfg.Publish.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.BackoffDuration())
	assert.Equal(t, "24h", cfg.Publish.Retention)
	assert.Equal(t, 50, cfg.Feed.BatchSize)
	assert.Equal(t, "vote-processor", cfg.Feed.Consumer)
}

func TestLoad_UsesEnvironment(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join("testdata", "redis.yaml"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Publish.Sink)
}

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(filepath.Join("testdata", "typo.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drivr")
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "store:\n  driver: mysql\n"},
		{"unknown sink", "publish:\n  sink: kafka\n"},
		{"zero attempts", "publish:\n  attempts: 0\n"},
		{"bad backoff", "publish:\n  backoff: soon\n"},
		{"bad policy", "consensus:\n  policy: most\n"},
		{"percent out of range", "consensus:\n  policy: \"percent:101\"\n"},
		{"batch too large", "feed:\n  batch_size: 100000\n"},
		{"empty consumer", "feed:\n  consumer: \"\"\n"},
		{"bad level", "log:\n  level: trace\n"},
		{"empty http addr", "http:\n  addr: \"\"\n"},
		{"sqlite without path", "store:\n  path: \"\"\n"},
		{"postgres without dsn", "store:\n  driver: postgres\n"},
		{"redis without addr", "publish:\n  sink: redis\n"},
		{"bad cron", "sweeper:\n  purge: nightly\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_DisabledSweeperJob(t *testing.T) {
	cfg, err := Parse([]byte("sweeper:\n  purge: \"\"\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Sweeper.Purge)
}

func TestLog_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	Log{Level: "warn", Format: "json"}.NewLogger(&buf, false).Info("hidden")
	assert.Empty(t, buf.String())

	Log{Level: "warn", Format: "json"}.NewLogger(&buf, true).Debug("shown", "room_id", "R1")
	assert.Contains(t, buf.String(), `"room_id":"R1"`)

	buf.Reset()
	Log{Level: "info", Format: "text"}.NewLogger(&buf, false).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
