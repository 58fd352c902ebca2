package repository

import "gorm.io/gorm"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is 1-based. Zero values select the first page of
// DefaultPageSize rows.
type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func (r PageRequest) normalized() PageRequest {
	r.Page = max(r.Page, 1)
	switch {
	case r.PageSize < 1:
		r.PageSize = DefaultPageSize
	case r.PageSize > MaxPageSize:
		r.PageSize = MaxPageSize
	}
	return r
}

// paginate counts the rows matched by q and loads the requested page ordered
// by order. q must already carry its Model and filters.
func paginate[T any](q *gorm.DB, req PageRequest, order string, preload ...string) (PageResult[T], error) {
	req = req.normalized()
	out := PageResult[T]{Page: req.Page, PageSize: req.PageSize, Items: []T{}}
	if err := q.Session(&gorm.Session{}).Count(&out.Total).Error; err != nil {
		return PageResult[T]{}, err
	}
	if out.Total == 0 {
		return out, nil
	}
	find := q.Session(&gorm.Session{})
	for _, p := range preload {
		find = find.Preload(p)
	}
	if err := find.Order(order).Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&out.Items).Error; err != nil {
		return PageResult[T]{}, err
	}
	out.TotalPages = int((out.Total + int64(req.PageSize) - 1) / int64(req.PageSize))
	return out, nil
}

// clampLimit bounds unpaged history listings.
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
