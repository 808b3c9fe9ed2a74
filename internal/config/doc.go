// Package config provides configuration loading and validation for the offline RAG gateway.
// It layers a YAML file over built-in defaults, applies environment overrides once at
// startup and validates every section before the service starts.
package config
