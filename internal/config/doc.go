// Package config loads bot configuration with koanf.
//
// Sources are layered defaults, then a YAML file, then OTOGI_ prefixed
// environment variables where a double underscore separates nested keys
// (OTOGI_SNIPE__MAX_AGE sets snipe.max_age). Loader.Watch re-reads the file
// on change so modules can apply new settings without a restart.
package config
