// Package workflow runs update and collection sessions for the CLI and the
// daemon.
//
// The Manager turns configuration into the collaborators a session needs:
// the collected-data backend (local directory or S3), the deployments tree,
// the serial number manager backed by the state store, the optional
// DynamoDB audit publisher, disk utilities, and prometheus metrics. Run
// locks the device, drives one updater.Engine, records the outcome in the
// store, and fans progress out through a ProgressHub so API clients can
// follow along.
package workflow
