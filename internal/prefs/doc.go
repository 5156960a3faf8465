// Package prefs holds the user-editable recording settings and persists them
// to a YAML file.
package prefs
