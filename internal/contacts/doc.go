// Package contacts resolves phone numbers to display names from a local YAML
// directory or a remote HTTP directory, with an LRU cache in front.
package contacts
