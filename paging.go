package fluid

// PagedResult is one page of a list request
type PagedResult[T any] struct {
	Items      []*T  `json:"items"`
	TotalItems int64 `json:"total_items"`
	TotalPages int64 `json:"total_pages"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

func newPagedResult[T any](items []*T, total int64, page, pageSize int) *PagedResult[T] {
	if items == nil {
		items = []*T{}
	}
	return &PagedResult[T]{
		Items:      items,
		TotalItems: total,
		TotalPages: TotalPages(total, pageSize),
		Page:       page,
		PageSize:   pageSize,
	}
}

// TotalPages is ceil(total / pageSize), 0 for a non-positive page size
func TotalPages(total int64, pageSize int) int64 {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	size := int64(pageSize)
	return (total + size - 1) / size
}

// HasNext reports whether a page follows this one
func (p *PagedResult[T]) HasNext() bool {
	return int64(p.Page) < p.TotalPages
}

// HasPrevious reports whether a page precedes this one
func (p *PagedResult[T]) HasPrevious() bool {
	return p.Page > 1
}
