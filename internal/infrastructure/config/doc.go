// Package config loads and validates Lumen Core configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// LUMEN_* environment variable overrides. Load returns a validated Config
// or an error describing every problem found.
package config
