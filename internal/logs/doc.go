// Package logs reads the host's log files for the CLI.
//
// Tail serves both one-shot reads ("last N lines") and cursor-based polling:
// callers hand back the returned offset to pick up where the previous read
// stopped, and follow mode blocks briefly for new content so `vellum logs
// --follow` does not busy-poll. Lines still being written are held back
// until their newline arrives.
package logs
