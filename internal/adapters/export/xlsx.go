package export

import (
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

const (
	sheetName   = "Datos"
	maxColWidth = 60
)

// XLSXRenderer writes one sheet with a frozen, styled header row. Number
// columns are stored as numbers.
type XLSXRenderer struct{}

var _ ports.ExportRenderer = (*XLSXRenderer)(nil)

func NewXLSXRenderer() *XLSXRenderer { return &XLSXRenderer{} }

func (r *XLSXRenderer) Format() domain.ExportFormat { return domain.FormatXLSX }

func (r *XLSXRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (r *XLSXRenderer) Render(w io.Writer, doc domain.ExportDocument) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   doc.Title,
		Created: doc.GeneratedAt.UTC().Format(time.RFC3339),
		Creator: "contaerp",
	}); err != nil {
		return err
	}

	header := make([]any, len(doc.Columns))
	widths := make([]int, len(doc.Columns))
	for i, c := range doc.Columns {
		header[i] = c.Label
		widths[i] = utf8.RuneCountInString(c.Label)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}

	for n, row := range doc.Rows {
		values := make([]any, len(row))
		for i, cell := range row {
			values[i] = cellValue(doc.Columns, i, cell)
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
		addr, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, addr, &values); err != nil {
			return err
		}
	}

	if len(doc.Columns) > 0 {
		if err := styleHeader(f, len(doc.Columns)); err != nil {
			return err
		}
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, float64(min(width+2, maxColWidth))); err != nil {
			return err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func styleHeader(f *excelize.File, columns int) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#1F4E78"}},
	})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(columns, 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheetName, "A1", last, style)
}

func cellValue(cols []domain.ColumnHint, i int, cell string) any {
	if i < len(cols) && cols[i].Kind == domain.KindNumber && cell != "" {
		if n, err := strconv.ParseFloat(cell, 64); err == nil {
			return n
		}
	}
	return cell
}
