package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "xlsx", "excel":
		return XLSX, nil
	case "csv":
		return CSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) ContentType() string {
	if f == CSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Write encodes the table in the given format.
func Write(w io.Writer, t Table, format Format, sheet string) error {
	switch format {
	case CSV:
		return WriteCSV(w, t)
	case XLSX:
		return WriteXLSX(w, t, sheet)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteCSV writes a UTF-8 CSV with a byte order mark so spreadsheet apps pick
// the right encoding for the rupee sign and Devanagari names.
func WriteCSV(w io.Writer, t Table) error {
	if len(t.Rows) == 0 {
		return ErrNothingToExport
	}
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Projection{Columns: t.Columns}.Headers()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := cw.Write(cellTexts(row)); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := cw.Write(cellTexts(t.Totals)); err != nil {
		return fmt.Errorf("write totals: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook. Identifier columns are stored as
// text cells; currency columns are numeric with a 0.00 format.
func WriteXLSX(w io.Writer, t Table, sheet string) error {
	if len(t.Rows) == 0 {
		return ErrNothingToExport
	}
	sheet = sheetName(sheet)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E5E7EB"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return fmt.Errorf("text style: %w", err)
	}
	currencyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("currency style: %w", err)
	}
	totalsStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 2})
	if err != nil {
		return fmt.Errorf("totals style: %w", err)
	}

	widths := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, col.Header); err != nil {
			return err
		}
		widths[i] = len(col.Header)
	}
	last, err := excelize.CoordinatesToCellName(len(t.Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for r, row := range t.Rows {
		for c, cell := range row {
			name, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := writeCell(f, sheet, name, cell, textStyle, currencyStyle); err != nil {
				return fmt.Errorf("row %d column %s: %w", r+1, t.Columns[c].Key, err)
			}
			if l := len(cell.Text); l > widths[c] {
				widths[c] = l
			}
		}
	}

	totalsRow := len(t.Rows) + 2
	for c, cell := range t.Totals {
		name, err := excelize.CoordinatesToCellName(c+1, totalsRow)
		if err != nil {
			return err
		}
		if !cell.IsNum {
			continue
		}
		if err := f.SetCellFloat(sheet, name, cell.Num.InexactFloat64(), 2, 64); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, name, name, totalsStyle); err != nil {
			return err
		}
	}

	for c, width := range widths {
		col, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return err
		}
		if width > 60 {
			width = 60
		}
		if err := f.SetColWidth(sheet, col, col, float64(width+2)); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	return f.Write(w)
}

func writeCell(f *excelize.File, sheet, name string, cell Cell, textStyle, currencyStyle int) error {
	switch {
	case cell.Kind == Currency && cell.IsNum:
		if err := f.SetCellFloat(sheet, name, cell.Num.InexactFloat64(), 2, 64); err != nil {
			return err
		}
		return f.SetCellStyle(sheet, name, name, currencyStyle)
	case cell.Kind == Number && cell.IsNum:
		return f.SetCellFloat(sheet, name, cell.Num.InexactFloat64(), -1, 64)
	case cell.Kind == Identifier:
		if err := f.SetCellStr(sheet, name, cell.Text); err != nil {
			return err
		}
		return f.SetCellStyle(sheet, name, name, textStyle)
	default:
		return f.SetCellStr(sheet, name, cell.Text)
	}
}

func cellTexts(cells []Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.Text
	}
	return out
}

// sheetName makes title usable as a worksheet name: no :\/?*[] characters,
// no surrounding apostrophes, at most 31 characters.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return ' '
		}
		return r
	}, title)
	name = strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "'"))
	if runes := []rune(name); len(runes) > excelize.MaxSheetNameLength {
		name = strings.TrimSpace(string(runes[:excelize.MaxSheetNameLength]))
	}
	if name == "" {
		return "Report"
	}
	return name
}
