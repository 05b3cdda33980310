// Package status folds connectivity, backend health and queue state into
// one of four canonical sync states, and normalizes the sync summaries
// shown next to them.
//
// Everything here is pure: no storage, no clock, no errors. Partial input
// always yields a state.
package status
