// Package export renders list exports. Every renderer consumes the same
// domain.ExportDocument.
package export

import (
	"encoding/csv"
	"io"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

// CSVRenderer writes a UTF-8 file with a byte order mark so spreadsheet tools
// pick the right encoding.
type CSVRenderer struct {
	Delimiter rune
}

var _ ports.ExportRenderer = (*CSVRenderer)(nil)

func NewCSVRenderer(delimiter rune) *CSVRenderer {
	if delimiter == 0 {
		delimiter = ';'
	}
	return &CSVRenderer{Delimiter: delimiter}
}

func (r *CSVRenderer) Format() domain.ExportFormat { return domain.FormatCSV }

func (r *CSVRenderer) ContentType() string { return "text/csv; charset=utf-8" }

func (r *CSVRenderer) Render(w io.Writer, doc domain.ExportDocument) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	out := csv.NewWriter(w)
	out.Comma = r.Delimiter
	if err := out.Write(labels(doc.Columns)); err != nil {
		return err
	}
	if err := out.WriteAll(doc.Rows); err != nil {
		return err
	}
	return out.Error()
}

func labels(cols []domain.ColumnHint) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Label
	}
	return out
}
