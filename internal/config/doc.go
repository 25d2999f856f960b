// Package config loads, normalizes, and validates tbloader configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TBLOADER_SRN_TOKEN and AWS_REGION. The Config type centralizes every knob
// the CLI, the daemon, and the update engine need so collected-data, deployment,
// and temp directories are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
