// Package history keeps the most recent decoded TRBs in a bounded ring,
// tracks per-type statistics and fans new records out to watchers.
package history
