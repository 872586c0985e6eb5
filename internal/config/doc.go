// Package config provides configuration structures and utilities for torcrawl.
// It defines the engine parameters (backends, slots per group, ports,
// output directory), Tor launch settings, transfer limits, per-site request
// settings loaded from a YAML file, and report preferences.
package config
