package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

func sampleDoc() domain.ExportDocument {
	return domain.ExportDocument{
		Title:       "Terceros",
		GeneratedAt: time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC),
		Columns: []domain.ColumnHint{
			{Name: "document_number", Label: "Número de documento", Kind: domain.KindText},
			{Name: "first_name", Label: "Nombre", Kind: domain.KindText},
			{Name: "balance", Label: "Saldo", Kind: domain.KindNumber},
		},
		Rows: [][]string{
			{"900123456-1", "Acme; Ltda", "1500.5"},
			{"1020", "Peña", ""},
		},
	}
}

func TestCSVRendererWritesBOMAndQuotes(t *testing.T) {
	var buf bytes.Buffer
	r := NewCSVRenderer(0)
	require.NoError(t, r.Render(&buf, sampleDoc()))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeff"))
	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\ufeff"), "\n"), "\n")
	assert.Equal(t, []string{
		"Número de documento;Nombre;Saldo",
		`900123456-1;"Acme; Ltda";1500.5`,
		"1020;Peña;",
	}, lines)
	assert.Equal(t, domain.FormatCSV, r.Format())
}

func TestXLSXRendererKeepsNumbersNumeric(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewXLSXRenderer().Render(&buf, sampleDoc()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Número de documento", "Nombre", "Saldo"}, rows[0])
	assert.Equal(t, "Peña", rows[2][1])

	assert.Equal(t, "1500.5", rows[1][2])
	assert.Equal(t, 1500.5, cellValue(sampleDoc().Columns, 2, "1500.5"))
	assert.Equal(t, "n/a", cellValue(sampleDoc().Columns, 2, "n/a"))

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "Terceros", props.Title)
}

func TestPDFRendererProducesDocument(t *testing.T) {
	r := NewPDFRenderer("Contadores Asociados", "")
	doc := sampleDoc()
	doc.Logo = "/does/not/exist.png"

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, doc))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Equal(t, "application/pdf", r.ContentType())

	doc.Rows = nil
	buf.Reset()
	require.NoError(t, r.Render(&buf, doc))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
