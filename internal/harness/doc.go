// Package harness runs replay conformance scenarios.
//
// A scenario is a YAML file that drives a real queue and replay engine
// against a scripted applier, with a fake clock, then asserts on the
// order of applier calls and the final queue state.
//
// # Scenario Format
//
//	name: backoff_then_success
//	description: "A failing action waits out its backoff and then syncs"
//	policy:
//	  max_attempts: 5
//	steps:
//	  - enqueue: { id: a1, type: manifest_status, entity: tour-1, at: 0s,
//	               payload: { passengerId: p1, status: boarded } }
//	  - fail: { id: a1, error: "503", times: 1 }
//	  - replay: { expect: { synced: 0, failed: 1 } }
//	  - advance: 2m
//	  - replay: { expect: { synced: 1 } }
//	assertions:
//	  - type: apply_count
//	    id: a1
//	    count: 2
//	  - type: action_absent
//	    id: a1
//
// # Steps
//
// Each step does exactly one thing:
//
//   - enqueue: add an action; "at" offsets createdAt from the scenario epoch
//   - fail: make the applier fail an id, "times" times (0 means always)
//   - heal: stop failing an id
//   - replay: run one pass; "without" drops appliers for the listed types
//     and "expect" checks the pass counters
//   - advance: move the clock forward
//   - requeue, remove: call the queue operation for an id
//   - recover: revert syncing actions to queued
//   - mark_processed: record an id as already delivered
//   - mark_syncing: leave an id stuck in syncing, as after a crash
//
// # Assertion Types
//
//   - apply_order: ids were first applied in this relative order
//   - apply_count: an id was applied exactly count times
//   - action_state: a queued action has the expected fields
//   - action_absent: an id is no longer queued
//   - stats: queue counters
//   - watermark: whether last_success_at has been set
//
// Every scenario starts from an empty in-memory store at a fixed epoch,
// so traces are reproducible and can be compared with golden files.
package harness
