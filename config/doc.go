// Package config provides configuration management for ReviewFlow.
//
// Configuration is loaded once at boot from defaults, an optional YAML
// file, and REVIEWFLOW_* environment variable overrides, then validated.
package config
