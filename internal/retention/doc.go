// Package retention periodically deletes recordings older than the configured
// age.
package retention
