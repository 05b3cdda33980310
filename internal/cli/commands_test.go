package cli

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/harness"
	"github.com/roach88/toursync/internal/queue"
	"github.com/roach88/toursync/internal/status"
	"github.com/roach88/toursync/internal/tourpack"
)

const boarded = `{"passengerId":"p1","status":"boarded"}`

func TestEnqueueAndList(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("enqueue", "manifest_status", "tour-1", "--id", "a1", "--payload", boarded,
		"--created-at", "2026-03-14T09:00:00Z")
	assert.Equal(t, "Queued a1 (manifest_status for tour-1)\n", out)

	env.mustRun("enqueue", "checkin", "tour-1", "--id", "a0",
		"--payload", `{"stopId":"s1","lat":45.5,"lng":-122.6}`,
		"--created-at", "2026-03-14T08:00:00Z")

	var actions []action.QueuedAction
	env.runJSON(&actions, "queue", "list")
	require.Len(t, actions, 2)
	assert.Equal(t, "a0", actions[0].ID)
	assert.Equal(t, "a1", actions[1].ID)
	assert.Equal(t, action.StatusQueued, actions[1].Status)
	assert.Equal(t, action.ManifestStatus{PassengerID: "p1", Status: "boarded"}, actions[1].Payload)

	text := env.mustRun("queue", "list")
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "a1")
	assert.Contains(t, text, "manifest_status")
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("enqueue", "manifest_status", "tour-1", "--id", "a1",
		"--payload", `{"passengerId":"p1","status":"flying"}`)
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "action rejected")

	res = env.run("enqueue", "manifest_status", "tour-1", "--payload", `{not json`)
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "--payload is not valid JSON")

	var s queue.Stats
	env.runJSON(&s, "queue", "stats")
	assert.Zero(t, s.Total)
}

func TestEnqueueContentIDIsIdempotent(t *testing.T) {
	env := newCLIEnv(t)

	var first, second action.QueuedAction
	env.runJSON(&first, "enqueue", "manifest_status", "tour-1", "--content-id", "--payload", boarded)
	env.runJSON(&second, "enqueue", "manifest_status", "tour-1", "--content-id", "--payload", `{"status":"boarded","passengerId":"p1"}`)

	assert.Equal(t, first.ID, second.ID)
	assert.Regexp(t, `^act_[0-9a-f]{32}$`, first.ID)

	var s queue.Stats
	env.runJSON(&s, "queue", "stats")
	assert.Equal(t, 1, s.Total)
}

func TestEnqueueGeneratesUUIDv7(t *testing.T) {
	env := newCLIEnv(t)

	var qa action.QueuedAction
	env.runJSON(&qa, "enqueue", "unknown_kind", "tour-1", "--payload", `{"anything":true}`)

	id, err := uuid.Parse(qa.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestQueueRequeueAndRemove(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("enqueue", "manifest_status", "tour-1", "--id", "a1", "--payload", boarded)

	res := env.run("queue", "requeue", "a1")
	assert.Equal(t, ExitFailure, res.code, "only failed actions can be re-queued")
	assert.Contains(t, res.stderr, "INVALID_PATCH")

	res = env.run("queue", "requeue")
	assert.Equal(t, ExitCommandError, res.code)

	var counts map[string]int
	env.runJSON(&counts, "queue", "requeue", "--all")
	assert.Equal(t, 0, counts["requeued"])

	assert.Equal(t, "Removed a1\n", env.mustRun("queue", "remove", "a1"))

	res = env.run("queue", "remove", "a1")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "action not found: a1")

	assert.Equal(t, "Recovered 0 stuck action(s)\n", env.mustRun("queue", "recover"))
}

func TestQueueHealth(t *testing.T) {
	env := newCLIEnv(t)
	assert.Contains(t, env.mustRun("queue", "health"), "✓ Queue healthy")

	env.mustRun("enqueue", "manifest_status", "tour-1", "--id", "old", "--payload", boarded,
		"--created-at", "2020-01-01T00:00:00Z")

	res := env.run("queue", "health")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "✗ stale_backlog")
	assert.Contains(t, res.stderr, "queue unhealthy")
}

func TestReplayRequiresRemote(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("replay")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "remote.base_url is not configured")
}

func TestReplayDeliversQueuedActions(t *testing.T) {
	env := newCLIEnv(t)
	stub, _ := newRemoteStub(t, http.StatusOK)

	env.mustRun("enqueue", "manifest_status", "tour-1", "--id", "a1", "--payload", boarded)
	env.mustRun("enqueue", "checkin", "tour-1", "--id", "a2", "--payload", `{"stopId":"s1","lat":1,"lng":2}`)

	out := env.mustRun("replay")
	assert.Contains(t, out, "2 synced / 0 pending / 0 failed")

	body, ok := stub.written("/tours/tour-1/manifest/p1.json")
	require.True(t, ok)
	assert.JSONEq(t, boarded, body)
	_, ok = stub.written("/tours/tour-1/checkins/s1.json")
	assert.True(t, ok)

	var s queue.Stats
	env.runJSON(&s, "queue", "stats")
	assert.Zero(t, s.Total)

	var report StatusReport
	env.runJSON(&report, "status")
	assert.Equal(t, status.OnlineHealthy, report.State.Key)
	assert.NotNil(t, report.Summary.LastSuccessAt)
}

func TestReplayFailureKeepsActionQueued(t *testing.T) {
	env := newCLIEnv(t)
	newRemoteStub(t, http.StatusServiceUnavailable)

	env.mustRun("enqueue", "manifest_status", "tour-1", "--id", "a1", "--payload", boarded)

	res := env.run("replay", "--verbose")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "retry")
	assert.Contains(t, res.stdout, "0 synced / 1 pending / 1 failed")

	var actions []action.QueuedAction
	env.runJSON(&actions, "queue", "list")
	require.Len(t, actions, 1)
	assert.Equal(t, 1, actions[0].Attempts)
	assert.Equal(t, action.StatusQueued, actions[0].Status)
	assert.Contains(t, actions[0].LastError, "503")
	assert.NotNil(t, actions[0].NextAttemptAt)

	var report StatusReport
	env.runJSON(&report, "status")
	assert.Equal(t, status.OnlineBacklogPending, report.State.Key)
	assert.Nil(t, report.Summary.LastSuccessAt)
}

func TestStatus(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("status")
	assert.Contains(t, out, "All changes synced")
	assert.NotContains(t, out, "Last sync")

	out = env.mustRun("status", "--offline")
	assert.Contains(t, out, "Offline")
	assert.Contains(t, out, "Last sync: never")

	out = env.mustRun("status", "--degraded")
	assert.Contains(t, out, "Service issues")

	env.mustRun("enqueue", "manifest_status", "tour-1", "--id", "a1", "--payload", boarded)
	out = env.mustRun("status")
	assert.Contains(t, out, "Syncing")
	assert.Contains(t, out, "Backlog: 1 pending, 0 failed")
}

func TestStatusProbe(t *testing.T) {
	env := newCLIEnv(t)
	newRemoteStub(t, http.StatusInternalServerError)

	var report StatusReport
	env.runJSON(&report, "status", "--probe")
	assert.Equal(t, status.OnlineBackendDegraded, report.State.Key)
}

func TestPackCommands(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("pack", "get", "tour-1", "guide")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "no cached pack for tour-1/guide")

	out := env.mustRun("pack", "freshness", "tour-1", "guide")
	assert.Equal(t, "Not synced yet (old)\n", out)

	env.mustRun("pack", "save", "tour-1", "guide", "--data", `{"itinerary":[1,2],"title":"Coast"}`, "--source-version", "v3")

	fragment := filepath.Join(t.TempDir(), "fragment.json")
	require.NoError(t, os.WriteFile(fragment, []byte(`{"title":"Coast Road"}`), 0644))
	env.mustRun("pack", "save", "tour-1", "guide", "--file", fragment)

	var pack tourpack.Pack
	env.runJSON(&pack, "pack", "get", "tour-1", "guide")
	assert.JSONEq(t, `[1,2]`, string(pack.Data["itinerary"]))
	assert.JSONEq(t, `"Coast Road"`, string(pack.Data["title"]))
	assert.Empty(t, pack.SourceVersion)

	out = env.mustRun("pack", "freshness", "tour-1", "guide")
	assert.Equal(t, "Updated just now (fresh)\n", out)

	res = env.run("pack", "save", "tour-1", "guide", "--data", `[1]`)
	assert.Equal(t, ExitCommandError, res.code)
}

func TestTestCommand(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("test", "../../testdata/scenarios", "--golden-dir", "../harness/testdata/golden")
	assert.Contains(t, out, "✓ fifo_replay")
	assert.Contains(t, out, "6 passed, 0 failed, 6 total")

	var result TestResult
	env.runJSON(&result, "test", "../../testdata/scenarios", "--golden-dir", "../harness/testdata/golden", "--filter", "retry_*")
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "retry_backoff", result.Scenarios[0].Name)
}

func TestTestCommandFailuresAndUpdate(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()

	scenario := `
name: lonely
description: one action that syncs
steps:
  - enqueue: {id: a1, type: checkin, entity: t1, at: 0s}
  - replay: {expect: {synced: 1}}
assertions:
  - {type: apply_count, id: a1, count: 1}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lonely.yaml"), []byte(scenario), 0644))

	env.mustRun("test", dir, "--update")
	golden, err := os.ReadFile(filepath.Join(dir, "golden", "lonely.golden"))
	require.NoError(t, err)

	parsed, err := harness.ParseScenario([]byte(scenario))
	require.NoError(t, err)
	result, err := harness.Run(parsed)
	require.NoError(t, err)
	want, err := harness.Snapshot("lonely", result)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(golden))

	env.mustRun("test", dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "lonely.golden"), []byte(`{}`), 0644))
	res := env.run("test", dir)
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "trace does not match golden file")

	res = env.run("test", filepath.Join(dir, "nope"))
	assert.Equal(t, ExitCommandError, res.code)
}
