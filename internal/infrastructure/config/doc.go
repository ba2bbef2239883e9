// Package config loads meshgate's YAML configuration.
//
// Load reads the file, applies MESHGATE_* environment overrides on top (the
// way to pass broker passwords and the InfluxDB token), then validates the
// result. Sections left out of the file keep the defaults from
// defaultConfig, so a minimal file only needs site.id.
//
// Validation collects every problem into one error rather than stopping at
// the first, so an operator sees all of them after one restart.
package config
