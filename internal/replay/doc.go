// Package replay drains the durable action queue against the remote store.
//
// # Pass
//
// Engine.Replay runs one pass. Passes are single-flight: a call made while
// another pass is running returns a Result with Skipped set and touches
// nothing. A pass reads the queue once, in createdAt order, and for each
// action:
//
//  1. drops it if its id is already in the processed set (a duplicate left
//     by a pass interrupted between recording and removal)
//  2. skips it if it is failed; failed actions wait for an explicit re-queue
//  3. skips it if its backoff gate is still closed
//  4. marks it syncing and counts the attempt, then calls the applier
//     registered for its type
//  5. on success records the id as processed, then removes the action
//  6. on failure either re-queues it behind a backoff of
//     min(2^n, 60) minutes, n being attempts since the last re-queue, or
//     marks it failed once n reaches the attempt cap
//
// An action whose type has no applier is marked failed at once.
//
// After the pass subscribers get fresh stats, and the last_success_at
// watermark advances only when the pass had no failures.
//
// # Crash recovery
//
// Before its first pass an Engine reverts every action stuck in syncing
// to queued. Appliers must tolerate at-least-once delivery.
package replay
