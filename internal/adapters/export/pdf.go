package export

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/ports"
)

const (
	rowHeight    = 6.0
	headerHeight = 7.0
	fontFamily   = "Helvetica"
)

// PDFRenderer lays the rows out as a landscape letter table with a title
// band, the optional logo and page numbers.
type PDFRenderer struct {
	Organization string
	Location     string
}

var _ ports.ExportRenderer = (*PDFRenderer)(nil)

func NewPDFRenderer(organization, location string) *PDFRenderer {
	return &PDFRenderer{Organization: organization, Location: location}
}

func (r *PDFRenderer) Format() domain.ExportFormat { return domain.FormatPDF }

func (r *PDFRenderer) ContentType() string { return "application/pdf" }

func (r *PDFRenderer) Render(w io.Writer, doc domain.ExportDocument) error {
	pdf := fpdf.New("L", "mm", "Letter", "")
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor(r.Organization, true)
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	widths := columnWidths(pdf, doc)
	logo := usableLogo(doc.Logo)

	pdf.SetHeaderFunc(func() {
		if logo != "" {
			pdf.ImageOptions(logo, 10, 8, 0, 14, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
		}
		pdf.SetFont(fontFamily, "B", 14)
		pdf.CellFormat(0, 8, tr(doc.Title), "", 1, "C", false, 0, "")
		pdf.SetFont(fontFamily, "", 9)
		pdf.CellFormat(0, 5, tr(r.subtitle(doc)), "", 1, "C", false, 0, "")
		pdf.Ln(3)
		tableHeader(pdf, tr, doc.Columns, widths)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("Página %d de {nb}", pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont(fontFamily, "", 8)
	for i, row := range doc.Rows {
		fill := i%2 == 1
		pdf.SetFillColor(242, 242, 242)
		for j, cell := range row {
			if j >= len(widths) {
				break
			}
			text := tr(fit(pdf, cell, widths[j]-2))
			pdf.CellFormat(widths[j], rowHeight, text, "LR", 0, align(doc.Columns[j]), fill, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(doc.Rows) == 0 {
		pdf.CellFormat(sum(widths), rowHeight, tr("Sin registros"), "1", 1, "C", false, 0, "")
	} else {
		pdf.CellFormat(sum(widths), 0, "", "T", 1, "", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (r *PDFRenderer) subtitle(doc domain.ExportDocument) string {
	generated := doc.GeneratedAt.Format("2006-01-02 15:04")
	parts := []string{}
	if r.Organization != "" {
		parts = append(parts, r.Organization)
	}
	parts = append(parts, fmt.Sprintf("Generado el %s UTC", generated), fmt.Sprintf("%d registros", len(doc.Rows)))
	return strings.Join(parts, " · ")
}

func tableHeader(pdf *fpdf.Fpdf, tr func(string) string, cols []domain.ColumnHint, widths []float64) {
	pdf.SetFont(fontFamily, "B", 8)
	pdf.SetFillColor(31, 78, 120)
	pdf.SetTextColor(255, 255, 255)
	for i, c := range cols {
		pdf.CellFormat(widths[i], headerHeight, tr(fit(pdf, c.Label, widths[i]-2)), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(fontFamily, "", 8)
}

// columnWidths shares the printable width in proportion to the widest cell of
// each column, capped so one long column cannot starve the others.
func columnWidths(pdf *fpdf.Fpdf, doc domain.ExportDocument) []float64 {
	if len(doc.Columns) == 0 {
		return nil
	}
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageW - left - right

	pdf.SetFont(fontFamily, "", 8)
	natural := make([]float64, len(doc.Columns))
	for i, c := range doc.Columns {
		natural[i] = pdf.GetStringWidth(c.Label) + 4
	}
	for _, row := range doc.Rows {
		for i, cell := range row {
			if i < len(natural) {
				natural[i] = max(natural[i], pdf.GetStringWidth(cell)+4)
			}
		}
	}
	limit := usable / 2
	for i := range natural {
		natural[i] = min(natural[i], limit)
	}
	total := sum(natural)
	out := make([]float64, len(natural))
	for i, n := range natural {
		out[i] = n * usable / total
	}
	return out
}

func fit(pdf *fpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func align(c domain.ColumnHint) string {
	if c.Kind == domain.KindNumber {
		return "R"
	}
	return "L"
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func usableLogo(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
