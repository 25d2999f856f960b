// Package logging assembles structured slog loggers and formatting helpers used
// by the tbloader CLI, the daemon, and the update engine.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can tag log lines
// with session IDs, step names, and device paths. A tee helper duplicates a
// session's lines into a per-session log file that is archived with the
// collected statistics.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// records with the same shape as the rest of the system.
package logging
