// Package tableprint renders aligned plain-text tables for terminal output.
package tableprint

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Table collects rows under a header.
type Table struct {
	header []string
	rows   [][]string
	right  map[int]bool
}

// New creates a table with the given column headers.
func New(header ...string) *Table {
	return &Table{header: header, right: make(map[int]bool)}
}

// AlignRight right-aligns the given columns (numbers).
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

// Append adds a row. Values are formatted with %v; missing cells are blank.
func (t *Table) Append(values ...any) {
	row := make([]string, len(t.header))
	for i := range row {
		if i < len(values) {
			row[i] = fmt.Sprint(values[i])
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w with two spaces between columns.
func (t *Table) Render(w io.Writer) error {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var b strings.Builder
	t.line(&b, t.header, widths)
	rule := make([]string, len(widths))
	for i, n := range widths {
		rule[i] = strings.Repeat("-", n)
	}
	t.line(&b, rule, widths)
	for _, row := range t.rows {
		t.line(&b, row, widths)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) line(b *strings.Builder, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		if t.right[i] {
			parts[i] = runewidth.FillLeft(c, widths[i])
		} else {
			parts[i] = runewidth.FillRight(c, widths[i])
		}
	}
	b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
	b.WriteByte('\n')
}
