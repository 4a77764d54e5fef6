package export

import "fmt"

// Format identifies a rendered document type.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts "csv" or "pdf" (empty defaults to csv).
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Table is an ordered, titled grid of cells.
type Table struct {
	Title   string
	Caption []string
	Columns []string
	// Widths are relative column weights; nil means equal widths.
	Widths []float64
	Rows   [][]string
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table requires at least one column")
	}
	if t.Widths != nil && len(t.Widths) != len(t.Columns) {
		return fmt.Errorf("table has %d widths for %d columns", len(t.Widths), len(t.Columns))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Render dispatches to the renderer for format.
func Render(format Format, table Table) ([]byte, error) {
	switch format {
	case FormatPDF:
		return RenderPDF(table)
	default:
		return RenderCSV(table)
	}
}
