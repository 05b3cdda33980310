// Package action defines the durable mutation intents queued while offline.
//
// A QueuedAction targets one entity (usually a tour) and carries a payload
// whose shape is determined by its Type. Known types decode to concrete
// payload structs; unknown or future types are preserved verbatim as Opaque
// so an older client never drops a newer client's intent.
package action
