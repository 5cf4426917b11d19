package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dothq/systray"
	"golang.org/x/term"
)

var tableHeaders = []string{"#", "ID", "TITLE", "CATEGORY", "STATUS", "ICON", "REGISTRATION"}

// TableFormatter formats output as a human-readable table.
type TableFormatter struct{}

// Format writes one row per item. The index column is the index accepted by
// the activation commands.
func (f *TableFormatter) Format(w io.Writer, items []systray.ItemSnapshot) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No items registered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(tableHeaders, "\t"))

	if isTerminal(w) {
		separators := make([]string, len(tableHeaders))
		for i, header := range tableHeaders {
			separators[i] = strings.Repeat("─", len(header))
		}
		fmt.Fprintln(tw, strings.Join(separators, "\t"))
	}

	for i, item := range items {
		row := []string{
			strconv.Itoa(i),
			orDash(item.ID),
			orDash(item.Title),
			orDash(item.Category.String()),
			orDash(item.Status.String()),
			orDash(item.IconName),
			item.Registration,
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// isTerminal checks if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
