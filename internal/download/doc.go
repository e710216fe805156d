// Package download coordinates the fetching of historical data files.
//
// Manager runs (id, filename) tasks on a bounded worker pool. Failure
// handling is fully isolated: a failed fetch appends one entry to the error
// ledger and the batch continues; a later success for the same pair removes
// the entry again. Retry mode treats the ledger as a worklist and re-runs
// every entry through the same pool.
//
// Progress is reported two ways, matching the two front ends:
//
//   - a ProgressEvent callback for streaming log-style messages
//   - GetProgress for polling counters (bytes, files done/failed/total)
//
// Cancellation stops new tasks from starting while in-flight tasks finish
// or fail naturally; the HTTP layer guarantees a partially transferred file
// is never visible at its final path.
package download
