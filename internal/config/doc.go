// Package config provides configuration loading and validation for trbscope.
// It reads YAML over built-in defaults and validates every section before
// the transports are started.
package config
