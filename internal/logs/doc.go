// Package logs reads tbloader log files for the CLI: the daemon log, the
// CLI log and per-session transcripts under paths.log_dir.
//
// Last reads the final lines of a file with bounded memory. Follow streams
// lines appended after an offset until the context ends.
package logs
