// Package dispatch implements the cron-tick delivery engine.
//
// Each tick reclaims stuck items, selects due pending items up to a batch
// cap in scheduled_at order, pre-marks each one processing with an atomic
// status-guarded update (the crash-safety boundary), expands placeholders
// with live subscriber data, and attempts delivery. Failures are retried
// with linear backoff up to a configurable attempt cap; outcome writes are
// conditioned on the row still being in the pre-marked state so a
// concurrent cancel wins the race.
package dispatch
