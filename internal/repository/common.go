package repository

import (
	"github.com/Masterminds/squirrel"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// pageBounds normalises 1-based paging input into limit and offset.
func pageBounds(page, pageSize int) (limit, offset uint64) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return uint64(pageSize), uint64((page - 1) * pageSize)
}

// whereAll applies the collected predicates, leaving the query unfiltered when
// there are none.
func whereAll(b squirrel.SelectBuilder, where squirrel.And) squirrel.SelectBuilder {
	if len(where) == 0 {
		return b
	}
	return b.Where(where)
}
