// Package config loads application configuration from CLEARWAY_* environment
// variables with sane defaults and a single Validate pass at startup.
package config
