package ledger

import (
	"strings"

	"gorm.io/gorm"
)

type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

func (s SortType) sql() string {
	if s == SortTypeAscending {
		return "ASC"
	}
	return "DESC"
}

const (
	DefaultLimit = 25
	MaxLimit     = 500
)

// ListOptions pages and orders list queries.
type ListOptions struct {
	Offset uint32    `json:"offset,omitempty"`
	Limit  uint32    `json:"limit,omitempty"`
	Sort   *SortType `json:"sort,omitempty"`
}

func applyListOptions(db *gorm.DB, sortBy string, defaultSort SortType, options *ListOptions) *gorm.DB {
	sort := defaultSort
	if options != nil && options.Sort != nil {
		sort = *options.Sort
	}
	db = db.Order(sortBy + " " + strings.ToUpper(sort.sql()))
	if options == nil {
		return db
	}

	limit := int(options.Limit)
	if limit == 0 {
		limit = DefaultLimit
	} else if limit > MaxLimit {
		limit = MaxLimit
	}
	return db.Offset(int(options.Offset)).Limit(limit)
}
