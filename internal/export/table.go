package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phillip-england/distconsole/internal/report"
)

// ErrNothingToExport is returned instead of producing an empty file.
var ErrNothingToExport = errors.New("nothing to export")

type Kind int

const (
	Text Kind = iota
	// Identifier values are kept verbatim as text: account numbers, mobile
	// numbers, UTRs.
	Identifier
	Currency
	Number
	Date
	Status
)

func (k Kind) String() string {
	switch k {
	case Identifier:
		return "identifier"
	case Currency:
		return "currency"
	case Number:
		return "number"
	case Date:
		return "date"
	case Status:
		return "status"
	default:
		return "text"
	}
}

type Column struct {
	Key    string `json:"key"`
	Header string `json:"header"`
	Kind   Kind   `json:"-"`
	Sum    bool   `json:"sum,omitempty"`
}

// Projection fixes which row fields a screen exports and in what order.
type Projection struct {
	Columns []Column
}

func (p Projection) Headers() []string {
	out := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out[i] = c.Header
	}
	return out
}

// Cell is one rendered value. Num is set for Currency and Number cells that
// parsed; writers that support typed cells use it.
type Cell struct {
	Text  string
	Kind  Kind
	Num   decimal.Decimal
	IsNum bool
}

type Table struct {
	Columns []Column
	Rows    [][]Cell
	Totals  []Cell
}

// DataRows is the number of exported records, excluding the totals row.
func (t Table) DataRows() int {
	return len(t.Rows)
}

// Build projects rows into a table and appends one totals row. rows must be
// the filtered set, never a single page.
func Build(rows []report.Row, p Projection) (Table, error) {
	if len(rows) == 0 {
		return Table{}, ErrNothingToExport
	}
	if len(p.Columns) == 0 {
		return Table{}, fmt.Errorf("export projection has no columns")
	}

	sums := make([]decimal.Decimal, len(p.Columns))
	out := Table{Columns: p.Columns, Rows: make([][]Cell, 0, len(rows))}
	for _, row := range rows {
		cells := make([]Cell, len(p.Columns))
		for i, col := range p.Columns {
			v, _ := row.Value(col.Key)
			cells[i] = renderCell(v, col.Kind)
			if col.Sum && cells[i].IsNum {
				sums[i] = sums[i].Add(cells[i].Num)
			}
		}
		out.Rows = append(out.Rows, cells)
	}

	out.Totals = make([]Cell, len(p.Columns))
	for i, col := range p.Columns {
		if !col.Sum {
			out.Totals[i] = Cell{Kind: Text}
			continue
		}
		out.Totals[i] = numericCell(sums[i], col.Kind)
	}
	return out, nil
}

func renderCell(v any, kind Kind) Cell {
	switch kind {
	case Currency, Number:
		d, ok := toDecimal(v)
		if !ok {
			return Cell{Kind: kind}
		}
		return numericCell(d, kind)
	case Date:
		ts, ok := report.ParseTimestamp(v)
		if !ok {
			return Cell{Text: report.FormatValue(v), Kind: Date}
		}
		return Cell{Text: ts.Format("2006-01-02 15:04:05"), Kind: Date}
	case Status:
		return Cell{Text: strings.ToUpper(strings.TrimSpace(report.FormatValue(v))), Kind: Status}
	default:
		return Cell{Text: report.FormatValue(v), Kind: kind}
	}
}

func numericCell(d decimal.Decimal, kind Kind) Cell {
	text := d.String()
	if kind == Currency {
		text = d.StringFixed(2)
	}
	return Cell{Text: text, Kind: kind, Num: d, IsNum: true}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		s = strings.TrimPrefix(s, "₹")
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// Filename builds a deterministic, date-stamped download name such as
// payout_report_RT1001_2026-10-16.xlsx.
func Filename(prefix, scope string, now time.Time, format Format) string {
	parts := []string{sanitize(prefix)}
	if s := sanitize(scope); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, now.Format("2006-01-02"))
	return strings.Join(parts, "_") + "." + string(format)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
