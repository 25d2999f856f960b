// Package daemon coordinates the long-running tbloaderd process and its
// system integration points.
//
// It wires configuration, the session store, and the workflow manager into a
// single lifecycle with flock-based locking to prevent multiple instances.
// A udev netlink monitor notices Talking Books as they are plugged in and,
// when auto-collection is enabled, starts a statistics-only session on each
// one once its filesystem is mounted. The HTTP API reports status and
// session history, starts sessions on request, streams session progress, and
// serves prometheus metrics.
//
// Keep orchestration logic here: the session itself lives in the updater and
// workflow packages while the daemon focuses on startup, shutdown, and
// device detection.
package daemon
