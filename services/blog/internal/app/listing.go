package app

import (
	"slices"
	"strings"

	"blogcore/pkg/domain"
)

const maxPageSize = 100

// ListParams is a raw page request as it arrives from a client.
type ListParams struct {
	Page     int
	PageSize int
	Sort     string
	Order    string
}

type listDefaults struct {
	pageSize int
	sort     string
	desc     bool
	allowed  []string
}

func (p ListParams) query(d listDefaults) (domain.ListQuery, error) {
	q := domain.ListQuery{Page: p.Page, PageSize: p.PageSize, SortBy: strings.TrimSpace(p.Sort), Desc: d.desc}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = d.pageSize
	}
	if q.Page < 1 {
		return domain.ListQuery{}, invalid("page must be at least 1")
	}
	if q.PageSize < 1 || q.PageSize > maxPageSize {
		return domain.ListQuery{}, invalid("pageSize must be between 1 and %d", maxPageSize)
	}
	if q.SortBy == "" {
		q.SortBy = d.sort
	}
	if !slices.Contains(d.allowed, q.SortBy) {
		return domain.ListQuery{}, invalid("sort must be one of %s", strings.Join(d.allowed, ", "))
	}
	switch strings.ToLower(strings.TrimSpace(p.Order)) {
	case "":
	case "asc":
		q.Desc = false
	case "desc":
		q.Desc = true
	default:
		return domain.ListQuery{}, invalid("order must be asc or desc")
	}
	return q, nil
}
