package dataset

import (
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Table is an in-memory CSV: a header row plus data rows. Values are kept as
// the raw strings read from the file. A loaded Table is shared between
// sessions and must not be mutated.
type Table struct {
	Source  string     `json:"source"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Head returns a view over the first n rows. The view shares backing storage
// with t.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{
		Source:  t.Source,
		Columns: t.Columns,
		Rows:    t.Rows[:n:n],
	}
}

// Text renders the table as whitespace-aligned plain text with a leading row
// index column, the layout a dataframe prints to a console.
func (t *Table) Text() string {
	if t == nil {
		return ""
	}

	var builder strings.Builder
	table := tablewriter.NewWriter(&builder)
	table.SetHeader(append([]string{""}, t.Columns...))
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)

	for i, row := range t.Rows {
		line := make([]string, 0, len(row)+1)
		line = append(line, strconv.Itoa(i))
		line = append(line, row...)
		table.Append(line)
	}
	table.Render()

	return strings.TrimRight(builder.String(), "\n")
}
