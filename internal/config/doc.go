// Package config loads and validates the meshvm run configuration.
//
// Configuration is assembled from an optional YAML file, environment
// variables, and command-line flags, in that order of increasing precedence.
// The resulting Config is treated as immutable once validated; no
// process-wide mutable state crosses component boundaries.
package config
