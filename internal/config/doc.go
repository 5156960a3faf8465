// Package config loads and validates the YAML configuration of the call
// recorder service. Sections cover the call-state listener, the HTTP API,
// recording storage, capture and MP3 backends, contact lookup, the change feed
// and logging. Keys absent from the file keep their Default values.
package config
