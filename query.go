package fluid

// =====================================
// Query Building
// =====================================

// QueryRequest is a caller's paged list request. Zero values mean "not set":
// a nil Filter and nil Sort fall back to the collection defaults, and a zero
// PageSize uses the collection page size. Page is 1-based.
type QueryRequest struct {
	Filter   Condition
	Sort     *Order
	Page     int
	PageSize int
}

// QuerySpec is the normalized, backend-agnostic query a store executes.
// Stores must AND `DeletedField = false` into the filter when ExcludeDeleted
// is set, apply Orders in sequence, and treat a zero Limit as "no limit".
type QuerySpec struct {
	Filter         Condition
	ExcludeDeleted bool
	DeletedField   string
	Orders         []Order
	Offset         int
	Limit          int
}

// Paged reports whether the query carries a page window
func (q QuerySpec) Paged() bool { return q.Limit > 0 }

// EffectiveFilter returns Filter with the soft-delete exclusion folded in, for
// stores that evaluate a single condition tree.
func (q QuerySpec) EffectiveFilter() Condition {
	if !q.ExcludeDeleted {
		return q.Filter
	}
	return And(q.Filter, Where(q.DeletedField, OpEqual, false))
}

// QueryOption configures a QueryRequest
type QueryOption interface {
	Apply(req *QueryRequest)
}

// QueryOptionFunc adapts a function to QueryOption
type QueryOptionFunc func(req *QueryRequest)

func (f QueryOptionFunc) Apply(req *QueryRequest) { f(req) }

// NewQueryRequest builds a request for page 1 and applies the options
func NewQueryRequest(opts ...QueryOption) QueryRequest {
	req := QueryRequest{Page: 1}
	for _, opt := range opts {
		opt.Apply(&req)
	}
	return req
}

// Filter ANDs a condition into the request filter
func Filter(cond Condition) QueryOption {
	return QueryOptionFunc(func(req *QueryRequest) {
		req.Filter = And(req.Filter, cond)
	})
}

// SortBy sets the request sort
func SortBy(field string, direction SortDirection) QueryOption {
	return QueryOptionFunc(func(req *QueryRequest) {
		req.Sort = &Order{Field: field, Direction: direction}
	})
}

// Page sets the page window
func Page(page, pageSize int) QueryOption {
	return QueryOptionFunc(func(req *QueryRequest) {
		req.Page = page
		req.PageSize = pageSize
	})
}

// BuildQuery resolves a request against a collection: default filter and
// caller filter are ANDed, the sort falls back to the collection default and
// then to the id, and the page window is turned into offset/limit.
func BuildQuery(c *Collection, req QueryRequest) (QuerySpec, error) {
	if err := validateCondition(c.info, req.Filter); err != nil {
		return QuerySpec{}, configError("collection %q: filter: %v", c.alias, err)
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = c.pageSize
	}
	if req.Page < 1 {
		return QuerySpec{}, configError("collection %q: page must be >= 1, got %d", c.alias, req.Page)
	}
	if pageSize < 1 {
		return QuerySpec{}, configError("collection %q: page size must be >= 1, got %d", c.alias, pageSize)
	}

	orders, err := resolveOrders(c, req.Sort)
	if err != nil {
		return QuerySpec{}, err
	}

	spec := baseSpec(c)
	spec.Filter = And(c.defaultFilter, req.Filter)
	spec.Orders = orders
	spec.Offset = (req.Page - 1) * pageSize
	spec.Limit = pageSize
	return spec, nil
}

// ListQuery is the unpaged query used by List and Count
func ListQuery(c *Collection) QuerySpec {
	spec := baseSpec(c)
	spec.Filter = c.defaultFilter
	// resolveOrders cannot fail without a request sort
	spec.Orders, _ = resolveOrders(c, nil)
	return spec
}

// ByIDsQuery matches the given ids, with the soft-delete exclusion but
// without the default filter.
func ByIDsQuery(c *Collection, ids []interface{}) QuerySpec {
	spec := baseSpec(c)
	spec.Filter = WhereIn(c.idField.Name, ids...)
	spec.Orders = []Order{{Field: c.idField.Name, Direction: Ascending}}
	return spec
}

func baseSpec(c *Collection) QuerySpec {
	spec := QuerySpec{}
	if c.deletedField != nil {
		spec.ExcludeDeleted = true
		spec.DeletedField = c.deletedField.Name
	}
	return spec
}

func resolveOrders(c *Collection, sort *Order) ([]Order, error) {
	var primary *Order
	switch {
	case sort != nil:
		if _, ok := c.info.Field(sort.Field); !ok {
			return nil, configError("collection %q: sort references unknown field %q", c.alias, sort.Field)
		}
		if err := validateDirection(sort.Direction); err != nil {
			return nil, configError("collection %q: %v", c.alias, err)
		}
		o := *sort
		if o.Direction == "" {
			o.Direction = Ascending
		}
		primary = &o
	case c.sortField != "":
		primary = &Order{Field: c.sortField, Direction: c.sortDirection}
	}

	idOrder := Order{Field: c.idField.Name, Direction: Ascending}
	if primary == nil {
		return []Order{idOrder}, nil
	}
	if primary.Field == c.idField.Name {
		return []Order{*primary}, nil
	}
	return []Order{*primary, idOrder}, nil
}
