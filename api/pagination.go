package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

type page struct {
	limit  int
	offset int
	end    int
}

// paginate reads "limit" and "offset" query parameters and clamps them to
// the collection size. Missing or invalid values fall back to defaults.
func paginate(r *http.Request, total int) page {
	q := r.URL.Query()

	limit := defaultPageLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	if offset > total {
		offset = total
	}

	end := offset + limit
	if end > total {
		end = total
	}
	return page{limit: limit, offset: offset, end: end}
}
