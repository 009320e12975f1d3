package report

const (
	DefaultPageSize = 10
	MaxPageSize     = 500
)

// PageSizes are the sizes the console offers.
var PageSizes = []int{10, 25, 50, 100}

type Page struct {
	Items      []Row `json:"items"`
	Number     int   `json:"page"`
	Size       int   `json:"perPage"`
	TotalPages int   `json:"totalPages"`
	TotalCount int   `json:"totalCount"`
}

func (p Page) HasPrev() bool { return p.Number > 1 }
func (p Page) HasNext() bool { return p.Number < p.TotalPages }

// Paginate returns rows [(page-1)*size, page*size). A page past the end is
// clamped to the last page.
func Paginate(rows []Row, page, size int) Page {
	size = NormalizePageSize(size)
	total := len(rows)
	totalPages := (total + size - 1) / size

	if page < 1 {
		page = 1
	}
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}
	if totalPages == 0 {
		page = 1
	}

	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	items := rows[start:end:end]
	if items == nil {
		items = []Row{}
	}
	return Page{
		Items:      items,
		Number:     page,
		Size:       size,
		TotalPages: totalPages,
		TotalCount: total,
	}
}

func NormalizePageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
