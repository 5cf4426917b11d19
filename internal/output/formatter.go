// Package output renders item snapshots for the command line. It supports
// table, JSON and YAML output.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dothq/systray"
)

// Formatter writes item snapshots to w.
// Implementations are stateless and thread-safe.
type Formatter interface {
	Format(w io.Writer, items []systray.ItemSnapshot) error
}

// NewFormatter creates a formatter for the specified format.
// Supported formats: table, json, yaml (case-insensitive).
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}
