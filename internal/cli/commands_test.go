package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/store"
)

// writeConfig writes a config pointing at a fresh sqlite file and returns
// its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`store:
  driver: sqlite
  path: %s
publish:
  sink: log
log:
  level: error
`, filepath.Join(dir, "swipematch.db"))

	path := filepath.Join(dir, "swipematch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func dbPath(t *testing.T, cfgPath string) string {
	t.Helper()
	return filepath.Join(filepath.Dir(cfgPath), "swipematch.db")
}

// execute runs the root command with --config and returns stdout and stderr.
func execute(t *testing.T, cfgPath string, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func decodeData(t *testing.T, raw string) map[string]any {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRoomLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, cfg, "room", "create", "R1", "--members", "2", "--status", "ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, "room R1: status=ACTIVE members=2\n", out)

	out, _, err = execute(t, cfg, "--format", "json", "room", "show", "R1")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, "R1", data["roomId"])
	assert.Equal(t, "ACTIVE", data["status"])
	assert.Equal(t, float64(2), data["memberCount"])

	out, _, err = execute(t, cfg, "room", "status", "R1", "PAUSED")
	require.NoError(t, err)
	assert.Contains(t, out, "status=PAUSED")

	out, _, err = execute(t, cfg, "room", "status", "R1", "ACTIVE", "--from", "PAUSED")
	require.NoError(t, err)
	assert.Contains(t, out, "status=ACTIVE")
}

func TestRoomCreateDuplicate(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := execute(t, cfg, "room", "create", "R1", "--members", "2")
	require.NoError(t, err)

	out, _, err := execute(t, cfg, "room", "create", "R1", "--members", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, model.ErrRoomExists)
	assert.Contains(t, out, "Error [E004]")
}

func TestRoomCreateRequiresMembers(t *testing.T) {
	_, _, err := execute(t, writeConfig(t), "room", "create", "R1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "members")
}

func TestRoomShowNotFound(t *testing.T) {
	out, _, err := execute(t, writeConfig(t), "--format", "json", "room", "show", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRoomNotFound)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestRoomStatusRejected(t *testing.T) {
	cfg := writeConfig(t)
	_, _, err := execute(t, cfg, "room", "create", "R1", "--members", "2")
	require.NoError(t, err)

	t.Run("forbidden_edge", func(t *testing.T) {
		out, _, err := execute(t, cfg, "room", "status", "R1", "MATCHED")
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
		assert.Contains(t, out, "Error [E004]")
	})

	t.Run("stale_from", func(t *testing.T) {
		out, _, err := execute(t, cfg, "room", "status", "R1", "ACTIVE", "--from", "PAUSED")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "is not in status PAUSED")
	})
}

func TestVoteMatchesRoom(t *testing.T) {
	cfg := writeConfig(t)
	_, _, err := execute(t, cfg, "room", "create", "R1", "--members", "2", "--status", "ACTIVE")
	require.NoError(t, err)

	out, _, err := execute(t, cfg, "vote", "R1", "M1", "U1", "POSITIVE")
	require.NoError(t, err)
	assert.Equal(t, "vote R1/M1 by U1: counted (1/2 positive)\n", out)

	out, _, err = execute(t, cfg, "vote", "R1", "M1", "U1", "POSITIVE")
	require.NoError(t, err)
	assert.Contains(t, out, "duplicate")

	out, _, err = execute(t, cfg, "--format", "json", "vote", "R1", "M1", "U2", "POSITIVE")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, "matched", data["outcome"])
	assert.Equal(t, true, data["matched"])
	assert.Equal(t, float64(2), data["positiveCount"])

	out, _, err = execute(t, cfg, "room", "show", "R1")
	require.NoError(t, err)
	assert.Equal(t, "room R1: status=MATCHED members=2 matched_item=M1\n", out)

	out, _, err = execute(t, cfg, "vote", "R1", "M2", "U1", "NEGATIVE")
	require.NoError(t, err)
	assert.Equal(t, "vote R1/M2 by U1: recorded\n", out)
}

func TestVoteRejected(t *testing.T) {
	out, _, err := execute(t, writeConfig(t), "vote", "R1", "M1", "U1", "MAYBE")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, model.IsValidationError(err))
	assert.Contains(t, out, "Error [E003]")
}

func TestVoteArgs(t *testing.T) {
	_, _, err := execute(t, writeConfig(t), "vote", "R1", "M1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 4 arg(s)")
}

func TestFeedDispatch(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()

	st, err := store.Open(dbPath(t, cfg))
	require.NoError(t, err)
	require.NoError(t, st.CreateRoom(ctx, model.Room{ID: "R1", MemberCount: 2, Status: model.RoomStatusActive}))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, user := range []string{"U1", "U2"} {
		rec, err := engine.SubmissionRecord(model.Submission{
			RoomID: "R1", ItemID: "M1", UserID: user, VoteType: model.VoteTypePositive,
		}, at)
		require.NoError(t, err)
		_, err = st.AppendChange(ctx, rec)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	out, _, err := execute(t, cfg, "--format", "json", "feed", "dispatch")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(2), data["Received"])
	assert.Equal(t, float64(2), data["Processed"])
	assert.Equal(t, float64(1), data["Matches"])
	assert.Equal(t, float64(2), data["LastSeq"])

	// The cursor was committed, so a second run sees nothing.
	out, _, err = execute(t, cfg, "feed", "dispatch")
	require.NoError(t, err)
	assert.Contains(t, out, "dispatched 0 records")

	out, _, err = execute(t, cfg, "room", "show", "R1")
	require.NoError(t, err)
	assert.Contains(t, out, "matched_item=M1")
}

func TestFeedRedeliverAndPurge(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, cfg, "feed", "redeliver")
	require.NoError(t, err)
	assert.Equal(t, "redelivered 0 consensus events\n", out)

	out, _, err = execute(t, cfg, "--format", "json", "feed", "purge")
	require.NoError(t, err)
	assert.Equal(t, float64(0), decodeData(t, out)["purged"])
}

func TestScenarioRun(t *testing.T) {
	scenario := filepath.Join("..", "harness", "testdata", "scenarios", "r1_unanimous_match.yaml")

	out, _, err := execute(t, writeConfig(t), "scenario", "run", scenario)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS r1_unanimous_match")
}

func TestScenarioRunFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: wrong_expectation
description: "One vote cannot match a two-member room"
rooms:
  - id: R1
    members: 2
steps:
  - vote: { room: R1, item: M1, user: u1, type: POSITIVE }
    expect: matched
assertions:
  - type: room
    room: R1
    status: ACTIVE
`), 0644))

	out, _, err := execute(t, writeConfig(t), "scenario", "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 1 scenarios failed")
	assert.Contains(t, out, "FAIL wrong_expectation")
}

func TestScenarioRunMissingFile(t *testing.T) {
	out, _, err := execute(t, writeConfig(t), "scenario", "run", "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "/nonexistent/swipematch.yaml", "room", "show", "R1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := writeConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "serve", "--addr", "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
