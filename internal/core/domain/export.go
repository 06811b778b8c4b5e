package domain

import (
	"fmt"
	"strings"
	"time"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatPDF  ExportFormat = "pdf"
	FormatXLSX ExportFormat = "xlsx"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "pdf":
		return FormatPDF, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ExportDocument is the rendering input shared by every format.
type ExportDocument struct {
	Title       string
	GeneratedAt time.Time
	Columns     []ColumnHint
	Rows        [][]string
	Logo        string
}

type ExportResult struct {
	Body        []byte
	ContentType string
	FileName    string
	Cached      bool
}

func (r ExportResult) Disposition() string {
	return fmt.Sprintf("attachment; filename=%q", r.FileName)
}
