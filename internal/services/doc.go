// Package services defines shared utilities consumed by the update engine,
// the daemon, and the command-line tools.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, step names, device paths, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures carry both a
//     classification (corrupt flash, reformat failed, unsupported platform)
//     and a readable component/operation trail.
//
// Use these helpers when wiring new engine code so error handling and
// observability stay uniform across update sessions.
package services
