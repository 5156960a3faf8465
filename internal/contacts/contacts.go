package contacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fetcher looks a phone number up. ok is false when the number has no contact.
type Fetcher interface {
	LookupName(ctx context.Context, number string) (name string, ok bool, err error)
}

// Normalize reduces a number to its digits, keeping a leading '+'.
func Normalize(number string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(number) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Directory is a fixed set of contacts.
type Directory struct {
	names map[string]string
}

type directoryFile struct {
	Contacts []struct {
		Name    string   `yaml:"name"`
		Numbers []string `yaml:"numbers"`
	} `yaml:"contacts"`
}

// NewDirectory creates a directory from number to name pairs.
func NewDirectory(entries map[string]string) *Directory {
	d := &Directory{names: make(map[string]string, len(entries))}
	for number, name := range entries {
		if n := Normalize(number); n != "" {
			d.names[n] = name
		}
	}
	return d
}

// LoadDirectory reads a YAML file of the form
//
//	contacts:
//	  - name: Alice
//	    numbers: ["+1 555 0100"]
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts file: %w", err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse contacts file: %w", err)
	}

	entries := make(map[string]string)
	for i, c := range f.Contacts {
		if c.Name == "" {
			return nil, fmt.Errorf("contact %d has no name", i)
		}
		for _, number := range c.Numbers {
			entries[number] = c.Name
		}
	}
	return NewDirectory(entries), nil
}

func (d *Directory) LookupName(ctx context.Context, number string) (string, bool, error) {
	name, ok := d.names[Normalize(number)]
	return name, ok, nil
}

// Len returns the number of known numbers.
func (d *Directory) Len() int {
	return len(d.names)
}

// Chain asks each fetcher in order and returns the first match. Errors are
// collected and returned only if no fetcher matched.
type Chain []Fetcher

func (c Chain) LookupName(ctx context.Context, number string) (string, bool, error) {
	var errs []error
	for _, f := range c {
		name, ok, err := f.LookupName(ctx, number)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return name, true, nil
		}
	}
	return "", false, errors.Join(errs...)
}
