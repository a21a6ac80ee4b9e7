// Package pagination normalizes the page/limit query parameters shared
// by every list endpoint.
package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

// Params is a normalized page/limit pair. Limit always lands in [1, 100]
// so one request cannot drag an unbounded result set through the API.
type Params struct {
	Page  int
	Limit int
}

// Offset converts the page number into a row offset for SQL queries.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Parse reads page and limit from the query string. Malformed or
// out-of-range values fall back to the defaults rather than erroring.
func Parse(c *gin.Context) Params {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = defaultPage
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return Params{Page: page, Limit: limit}
}
