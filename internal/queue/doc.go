// Package queue implements the durable action queue.
//
// The queue is one versioned JSON blob stored under "queue_v1" in a
// namespaced kv.Provider. Every operation re-reads the blob, applies its
// change and writes the whole list back sorted by createdAt; no copy of the
// list is kept between calls. A blob that fails to decode is replaced with
// an empty queue and the caller sees an empty list.
//
// Mutations are serialized by a per-Queue mutex. After each mutation the
// queue recomputes Stats and hands them to every subscriber, outside the
// lock.
//
// Alongside the queue lives the ProcessedSet, a bounded FIFO record of ids
// that completed delivery, used by the replay engine to drop duplicates
// left behind by an interrupted pass.
package queue
