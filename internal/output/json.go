package output

import (
	"encoding/json"
	"io"

	"github.com/dothq/systray"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool // Whether to pretty-print with indentation
}

// Format writes items as a JSON array. An empty list is written as [].
func (f *JSONFormatter) Format(w io.Writer, items []systray.ItemSnapshot) error {
	if items == nil {
		items = []systray.ItemSnapshot{}
	}

	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(items)
}
