package output

import (
	"io"

	"github.com/dothq/systray"
	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// Format writes items as a YAML sequence.
func (f *YAMLFormatter) Format(w io.Writer, items []systray.ItemSnapshot) error {
	if items == nil {
		items = []systray.ItemSnapshot{}
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(items); err != nil {
		return err
	}

	return encoder.Close()
}
