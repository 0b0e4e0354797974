package shared

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultTableLength = 10
	maxTableLength     = 100
)

// TableRequest carries the paging, search and ordering parameters sent by a
// server-driven data table.
type TableRequest struct {
	Draw     int
	Start    int
	Length   int
	Search   string
	OrderBy  string
	OrderDir string
}

// RowAction is a button rendered in the action column of a table row.
type RowAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Route string `json:"route"`
}

// TableResponse is the JSON envelope returned to the data table.
type TableResponse[T any] struct {
	Draw            int `json:"draw"`
	RecordsTotal    int `json:"recordsTotal"`
	RecordsFiltered int `json:"recordsFiltered"`
	Data            []T `json:"data"`
}

// ParseTableRequest reads data table parameters from the query string.
// The order column is resolved against columns[i][data]; unknown columns are
// left to the caller's default ordering.
func ParseTableRequest(r *http.Request) TableRequest {
	q := r.URL.Query()
	req := TableRequest{
		Draw:   atoiDefault(q.Get("draw"), 0),
		Start:  atoiDefault(q.Get("start"), 0),
		Length: atoiDefault(q.Get("length"), defaultTableLength),
		Search: strings.TrimSpace(q.Get("search[value]")),
	}
	if req.Start < 0 {
		req.Start = 0
	}
	if req.Length <= 0 {
		req.Length = defaultTableLength
	}
	if req.Length > maxTableLength {
		req.Length = maxTableLength
	}
	if raw := q.Get("order[0][column]"); raw != "" {
		if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 {
			req.OrderBy = strings.TrimSpace(q.Get(fmt.Sprintf("columns[%d][data]", idx)))
		}
	}
	if strings.EqualFold(q.Get("order[0][dir]"), "asc") {
		req.OrderDir = "asc"
	} else {
		req.OrderDir = "desc"
	}
	return req
}

// OrderColumn maps the requested column onto an allow-listed SQL expression.
func (t TableRequest) OrderColumn(allowed map[string]string, fallback string) string {
	if col, ok := allowed[t.OrderBy]; ok && t.OrderBy != "" {
		return col
	}
	return fallback
}

// Direction returns the SQL sort direction keyword.
func (t TableRequest) Direction() string {
	if t.OrderDir == "asc" {
		return "ASC"
	}
	return "DESC"
}

// NewTableResponse builds the response envelope, always emitting a data array.
func NewTableResponse[T any](req TableRequest, total, filtered int, rows []T) TableResponse[T] {
	if rows == nil {
		rows = []T{}
	}
	return TableResponse[T]{Draw: req.Draw, RecordsTotal: total, RecordsFiltered: filtered, Data: rows}
}

func atoiDefault(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
