package report

import (
	"encoding/json"
	"testing"
	"time"
)

var fundRequestFields = Fields{
	Search:        []string{"id", "retailer.name", "utr"},
	Status:        "status",
	Timestamp:     "created_at",
	StatusAliases: map[string]string{"APPROVED": "ACCEPTED"},
}

func mustDate(t *testing.T, raw string) *time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	if err != nil {
		t.Fatalf("parse date %q: %v", raw, err)
	}
	return d
}

func ids(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID())
	}
	return out
}

func sameIDs(got []Row, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestApplyStatusFilter(t *testing.T) {
	rows := []Row{
		{"id": json.Number("1"), "status": "PENDING", "created_at": "2024-01-01"},
		{"id": json.Number("2"), "status": "REJECTED", "created_at": "2024-01-03"},
	}
	got := Apply(rows, Criteria{Status: "PENDING"}, fundRequestFields)
	if !sameIDs(got, "1") {
		t.Fatalf("expected only row 1, got %v", ids(got))
	}
}

func TestApplyStatusAllDisablesPredicate(t *testing.T) {
	rows := []Row{
		{"id": "a", "status": "PENDING", "created_at": "2024-01-01"},
		{"id": "b", "status": "REJECTED", "created_at": "2024-01-03"},
	}
	for _, status := range []string{"", "ALL", "all"} {
		got := Apply(rows, Criteria{Status: status}, fundRequestFields)
		if !sameIDs(got, "b", "a") {
			t.Fatalf("status %q: got %v", status, ids(got))
		}
	}
}

func TestApplyStatusAliases(t *testing.T) {
	rows := []Row{
		{"id": "a", "status": "APPROVED", "created_at": "2024-01-01"},
		{"id": "b", "status": "accepted", "created_at": "2024-01-02"},
		{"id": "c", "status": "PENDING", "created_at": "2024-01-03"},
	}
	got := Apply(rows, Criteria{Status: "ACCEPTED"}, fundRequestFields)
	if !sameIDs(got, "b", "a") {
		t.Fatalf("expected aliases folded, got %v", ids(got))
	}
	got = Apply(rows, Criteria{Status: "APPROVED"}, fundRequestFields)
	if !sameIDs(got, "b", "a") {
		t.Fatalf("expected alias criteria folded, got %v", ids(got))
	}
}

func TestApplyTextIsCaseInsensitiveAndScopedToAllowList(t *testing.T) {
	rows := []Row{
		{"id": "1", "retailer": map[string]any{"name": "Sharma Telecom"}, "remark": "kiosk", "created_at": "2024-01-01"},
		{"id": "2", "retailer": map[string]any{"name": "Gupta Store"}, "remark": "sharma", "created_at": "2024-01-02"},
		{"id": "3", "utr": "UTR998877", "created_at": "2024-01-03"},
	}
	got := Apply(rows, Criteria{Text: "SHARMA"}, fundRequestFields)
	if !sameIDs(got, "1") {
		t.Fatalf("remark is not searchable, expected only 1, got %v", ids(got))
	}
	got = Apply(rows, Criteria{Text: "utr998"}, fundRequestFields)
	if !sameIDs(got, "3") {
		t.Fatalf("expected utr match, got %v", ids(got))
	}
}

func TestApplyDateRangeInclusive(t *testing.T) {
	rows := []Row{
		{"id": "1", "created_at": "2024-01-01T09:00:00Z"},
		{"id": "2", "created_at": "2024-01-02T23:59:00Z"},
		{"id": "3", "created_at": "2024-01-03T00:00:00Z"},
		{"id": "4", "created_at": "garbage"},
	}
	got := Apply(rows, Criteria{From: mustDate(t, "2024-01-01"), To: mustDate(t, "2024-01-02")}, fundRequestFields)
	if !sameIDs(got, "2", "1") {
		t.Fatalf("expected 2,1 got %v", ids(got))
	}

	got = Apply(rows, Criteria{From: mustDate(t, "2024-01-02")}, fundRequestFields)
	if !sameIDs(got, "3", "2") {
		t.Fatalf("open upper bound: got %v", ids(got))
	}

	got = Apply(rows, Criteria{To: mustDate(t, "2024-01-01")}, fundRequestFields)
	if !sameIDs(got, "1", "4") {
		t.Fatalf("open lower bound keeps epoch rows: got %v", ids(got))
	}
}

func TestApplyPredicatesAreANDed(t *testing.T) {
	rows := []Row{
		{"id": "1", "status": "PENDING", "utr": "X1", "created_at": "2024-01-01"},
		{"id": "2", "status": "PENDING", "utr": "Y2", "created_at": "2024-01-02"},
		{"id": "3", "status": "REJECTED", "utr": "X3", "created_at": "2024-01-03"},
	}
	got := Apply(rows, Criteria{Status: "PENDING", Text: "x"}, fundRequestFields)
	if !sameIDs(got, "1") {
		t.Fatalf("expected 1, got %v", ids(got))
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	rows := []Row{
		{"id": "1", "status": "PENDING", "created_at": "2024-01-05"},
		{"id": "2", "status": "PENDING", "created_at": "2024-01-02"},
		{"id": "3", "status": "REJECTED", "created_at": "2024-01-03"},
	}
	c := Criteria{Status: "PENDING"}
	once := Apply(rows, c, fundRequestFields)
	twice := Apply(once, c, fundRequestFields)
	if !sameIDs(twice, ids(once)...) {
		t.Fatalf("not idempotent: %v vs %v", ids(once), ids(twice))
	}
	if rows[0].ID() != "1" || rows[1].ID() != "2" {
		t.Fatalf("input slice was reordered")
	}
}

func TestSortNewestFirstStableWithEpochLast(t *testing.T) {
	rows := []Row{
		{"id": "bad1", "created_at": "not a date"},
		{"id": "old", "created_at": "2023-12-31"},
		{"id": "tie1", "created_at": "2024-02-01T10:00:00+05:30"},
		{"id": "missing"},
		{"id": "tie2", "created_at": "2024-02-01T04:30:00Z"},
		{"id": "new", "created_at": json.Number("1717200000")},
	}
	SortNewestFirst(rows, "created_at")
	if !sameIDs(rows, "new", "tie1", "tie2", "old", "bad1", "missing") {
		t.Fatalf("unexpected order %v", ids(rows))
	}
}

func TestParseTimestampMilliseconds(t *testing.T) {
	ts, ok := ParseTimestamp(json.Number("1704067200000"))
	if !ok {
		t.Fatalf("expected millis to parse")
	}
	if !ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", ts)
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, err := ParseDate("31st of never"); err == nil {
		t.Fatalf("expected error")
	}
	d, err := ParseDate("  ")
	if err != nil || d != nil {
		t.Fatalf("blank bound should be unbounded, got %v %v", d, err)
	}
}

func TestCriteriaEqual(t *testing.T) {
	a := Criteria{Text: " x ", Status: "all"}
	b := Criteria{Text: "x"}
	if !a.Equal(b) {
		t.Fatalf("expected equal criteria")
	}
	if a.Equal(Criteria{Text: "x", From: mustDate(t, "2024-01-01")}) {
		t.Fatalf("expected bound to differ")
	}
	if !(Criteria{Status: "ALL"}).IsZero() {
		t.Fatalf("ALL should be zero criteria")
	}
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{"id": i}
	}
	return rows
}

func TestPaginateClampsPastLastPage(t *testing.T) {
	rows := makeRows(25)
	p := Paginate(rows, 5, 10)
	if p.TotalPages != 3 {
		t.Fatalf("expected 3 pages, got %d", p.TotalPages)
	}
	if p.Number != 3 {
		t.Fatalf("expected clamp to page 3, got %d", p.Number)
	}
	if len(p.Items) != 5 {
		t.Fatalf("expected 5 rows on last page, got %d", len(p.Items))
	}
	if p.HasNext() || !p.HasPrev() {
		t.Fatalf("unexpected nav flags on last page")
	}
}

func TestPaginateSlices(t *testing.T) {
	rows := makeRows(25)
	p := Paginate(rows, 2, 10)
	if p.Items[0].Text("id") != "10" || len(p.Items) != 10 {
		t.Fatalf("unexpected page 2: first=%s len=%d", p.Items[0].Text("id"), len(p.Items))
	}
	p = Paginate(rows, 0, 0)
	if p.Number != 1 || p.Size != DefaultPageSize {
		t.Fatalf("expected defaults, got page=%d size=%d", p.Number, p.Size)
	}
}

func TestPaginateEmpty(t *testing.T) {
	p := Paginate(nil, 4, 10)
	if p.Number != 1 || p.TotalPages != 0 || p.TotalCount != 0 {
		t.Fatalf("unexpected empty page %+v", p)
	}
	if p.Items == nil {
		t.Fatalf("items should be an empty slice")
	}
}

func TestPaginateNeverStartsPastCount(t *testing.T) {
	for count := 0; count < 30; count++ {
		rows := makeRows(count)
		for page := -1; page < 8; page++ {
			p := Paginate(rows, page, 7)
			start := (p.Number - 1) * p.Size
			if start > count {
				t.Fatalf("count=%d page=%d start=%d past end", count, page, start)
			}
		}
	}
}

func TestRowValueNested(t *testing.T) {
	r := Row{"bank": map[string]any{"account": map[string]any{"number": json.Number("004512345678901234")}}}
	if got := r.Text("bank.account.number"); got != "004512345678901234" {
		t.Fatalf("unexpected %q", got)
	}
	if _, ok := r.Value("bank.missing"); ok {
		t.Fatalf("expected missing path")
	}
}

func TestParseCriteria(t *testing.T) {
	c, err := ParseCriteria("  FR0001 ", "pending", "2026-10-01", "2026-10-15")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Text != "FR0001" || c.Status != "pending" || c.From == nil || c.To == nil {
		t.Fatalf("unexpected criteria %+v", c)
	}
	if _, err := ParseCriteria("", "", "2026-10-15", "2026-10-01"); err == nil {
		t.Fatalf("expected an inverted range to fail")
	}
	if _, err := ParseCriteria("", "", "last week", ""); err == nil {
		t.Fatalf("expected a bad date to fail")
	}
	if c, err := ParseCriteria("", "", "", ""); err != nil || !c.IsZero() {
		t.Fatalf("empty input should give zero criteria, got %+v %v", c, err)
	}
}
