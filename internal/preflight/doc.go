// Package preflight provides readiness checks for the directories, external
// services, and disk utilities the loader depends on.
//
// These checks run in two contexts:
//   - tbloaderd runs RunAll at startup and logs every failed check so an
//     operator sees a misconfigured station before the first device arrives.
//   - The CLI "tbloader doctor" command prints RunAll and CheckSystemDeps as
//     tables.
//
// Checks for optional features are gated by their config toggle.
package preflight
