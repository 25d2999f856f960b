// Package main hosts the tbloader CLI entrypoint and command graph.
//
// Commands either act on a mounted Talking Book directly (identity, update,
// collect, flash) or talk to a running tbloaderd over its HTTP API (daemon
// status, watch, pause). Configuration resolution and log file setup live in
// the command context so subcommands only describe what they show.
//
// New behavior belongs in the internal packages first; commands here stay a
// thin presentation layer over the workflow manager and the daemon client.
package main
