package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StatusAll disables the status predicate.
const StatusAll = "ALL"

// Criteria is what an operator can narrow a list by. The zero value matches
// every row.
type Criteria struct {
	Text   string
	Status string
	From   *time.Time
	To     *time.Time
}

// Fields names the row fields a screen filters and sorts on.
type Fields struct {
	// Search is the allow-list for free-text matching.
	Search    []string
	Status    string
	Timestamp string
	// StatusAliases folds synonymous status values onto one canonical value
	// before comparison, e.g. APPROVED -> ACCEPTED.
	StatusAliases map[string]string
}

// Equal reports whether two criteria select the same rows.
func (c Criteria) Equal(o Criteria) bool {
	return strings.TrimSpace(c.Text) == strings.TrimSpace(o.Text) &&
		normalizeStatus(c.Status, nil) == normalizeStatus(o.Status, nil) &&
		SameBound(c.From, o.From) && SameBound(c.To, o.To)
}

// ParseCriteria builds criteria from operator input. Dates are YYYY-MM-DD
// or RFC 3339; a range whose end precedes its start is rejected.
func ParseCriteria(text, status, from, to string) (Criteria, error) {
	c := Criteria{Text: strings.TrimSpace(text), Status: strings.TrimSpace(status)}
	var err error
	if c.From, err = ParseDate(from); err != nil {
		return Criteria{}, fmt.Errorf("invalid from date %q", from)
	}
	if c.To, err = ParseDate(to); err != nil {
		return Criteria{}, fmt.Errorf("invalid to date %q", to)
	}
	if c.From != nil && c.To != nil && c.To.Before(*c.From) {
		return Criteria{}, errors.New("the to date is before the from date")
	}
	return c, nil
}

// IsZero reports whether the criteria disable every predicate.
func (c Criteria) IsZero() bool {
	return c.Equal(Criteria{})
}

// Apply filters rows by every predicate in c and returns them newest first.
// The input slice is not modified.
func Apply(rows []Row, c Criteria, f Fields) []Row {
	text := strings.ToLower(strings.TrimSpace(c.Text))
	status := normalizeStatus(c.Status, f.StatusAliases)
	from, to := c.From, c.To
	if to != nil && isDateOnly(*to) {
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if text != "" && !matchesText(row, text, f.Search) {
			continue
		}
		if status != "" && normalizeStatus(row.Text(f.Status), f.StatusAliases) != status {
			continue
		}
		if from != nil || to != nil {
			ts := TimestampOrEpoch(valueOrNil(row, f.Timestamp))
			if from != nil && ts.Before(*from) {
				continue
			}
			if to != nil && ts.After(*to) {
				continue
			}
		}
		out = append(out, row)
	}
	SortNewestFirst(out, f.Timestamp)
	return out
}

// SortNewestFirst orders rows by the timestamp field descending. The sort is
// stable; rows without a parsable timestamp sort as epoch 0.
func SortNewestFirst(rows []Row, field string) {
	keys := make([]time.Time, len(rows))
	for i, row := range rows {
		keys[i] = TimestampOrEpoch(valueOrNil(row, field))
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]].After(keys[idx[b]])
	})
	sorted := make([]Row, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func matchesText(row Row, needle string, fields []string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(row.Text(field)), needle) {
			return true
		}
	}
	return false
}

func normalizeStatus(raw string, aliases map[string]string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == StatusAll {
		return ""
	}
	if canonical, ok := aliases[s]; ok {
		return strings.ToUpper(canonical)
	}
	return s
}

func valueOrNil(row Row, field string) any {
	v, _ := row.Value(field)
	return v
}

// SameBound reports whether two optional bounds are both unset or equal.
func SameBound(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
