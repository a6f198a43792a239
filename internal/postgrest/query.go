package postgrest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query builds a request against one table. Filter methods mutate and
// return the receiver.
type Query struct {
	c      *Client
	table  string
	params url.Values
	order  []string
}

func newQuery(c *Client, table string) *Query {
	return &Query{c: c, table: table, params: url.Values{}}
}

// Select sets the returned columns, including embedded resources such as
// "*,project:projects(*)".
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", strings.Join(strings.Fields(columns), ""))
	return q
}

func (q *Query) filter(column, op, value string) *Query {
	q.params.Add(column, op+"."+value)
	return q
}

// Eq filters column = value
func (q *Query) Eq(column, value string) *Query { return q.filter(column, "eq", value) }

// Neq filters column <> value
func (q *Query) Neq(column, value string) *Query { return q.filter(column, "neq", value) }

// Lt filters column < value
func (q *Query) Lt(column, value string) *Query { return q.filter(column, "lt", value) }

// Lte filters column <= value
func (q *Query) Lte(column, value string) *Query { return q.filter(column, "lte", value) }

// Gt filters column > value
func (q *Query) Gt(column, value string) *Query { return q.filter(column, "gt", value) }

// Gte filters column >= value
func (q *Query) Gte(column, value string) *Query { return q.filter(column, "gte", value) }

// Is filters column IS value, where value is null, true or false.
func (q *Query) Is(column, value string) *Query { return q.filter(column, "is", value) }

// NotIs filters column IS NOT value.
func (q *Query) NotIs(column, value string) *Query { return q.filter(column, "not.is", value) }

// ILike filters with a case-insensitive pattern. "%" is the wildcard.
func (q *Query) ILike(column, pattern string) *Query {
	return q.filter(column, "ilike", strings.ReplaceAll(pattern, "%", "*"))
}

// EqBool filters a boolean column.
func (q *Query) EqBool(column string, value bool) *Query {
	return q.Eq(column, strconv.FormatBool(value))
}

// Order appends a sort key. Calls accumulate in priority order.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, column+"."+dir)
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

func (q *Query) encode() string {
	params := url.Values{}
	for k, v := range q.params {
		params[k] = append([]string(nil), v...)
	}
	if len(q.order) > 0 {
		params.Set("order", strings.Join(q.order, ","))
	}
	return params.Encode()
}

// String renders the request path and query, for logs and tests.
func (q *Query) String() string {
	return "/rest/v1/" + q.table + "?" + q.encode()
}

func (q *Query) request(method string, body interface{}, headers map[string]string) request {
	return request{
		method:  method,
		path:    "/rest/v1/" + q.table,
		query:   q.encode(),
		body:    body,
		headers: headers,
		profile: true,
	}
}

// Execute runs a select and decodes the rows into out, a pointer to a slice.
func (q *Query) Execute(ctx context.Context, out interface{}) error {
	_, err := q.c.do(ctx, q.request(http.MethodGet, nil, nil), out)
	return err
}

// Single runs a select that must match exactly one row.
func (q *Query) Single(ctx context.Context, out interface{}) error {
	_, err := q.c.do(ctx, q.request(http.MethodGet, nil, map[string]string{
		"Accept": "application/vnd.pgrst.object+json",
	}), out)
	return err
}

// Count returns the exact number of matching rows without fetching them.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.params.Get("select") == "" {
		q.Select("id")
	}
	resp, err := q.c.do(ctx, q.request(http.MethodHead, nil, map[string]string{
		"Prefer": "count=exact",
	}), nil)
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.Header.Get("Content-Range"))
}

// parseContentRange reads the total from "0-24/57" or "*/0".
func parseContentRange(v string) (int, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i == len(v)-1 {
		return 0, fmt.Errorf("missing count in Content-Range %q", v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("server did not report an exact count")
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid count in Content-Range %q: %w", v, err)
	}
	return n, nil
}

// Insert creates rows and decodes the created representation into out.
// rows may be a single object or a slice.
func (q *Query) Insert(ctx context.Context, rows interface{}, out interface{}) error {
	_, err := q.c.do(ctx, q.request(http.MethodPost, rows, map[string]string{
		"Prefer": "return=representation",
	}), out)
	return err
}

// Update patches every row matching the filters.
func (q *Query) Update(ctx context.Context, patch interface{}, out interface{}) error {
	if len(q.params) == 0 || (len(q.params) == 1 && q.params.Has("select")) {
		return fmt.Errorf("refusing to update %s without a filter", q.table)
	}
	_, err := q.c.do(ctx, q.request(http.MethodPatch, patch, map[string]string{
		"Prefer": "return=representation",
	}), out)
	return err
}

// Delete removes every row matching the filters.
func (q *Query) Delete(ctx context.Context) error {
	if len(q.params) == 0 || (len(q.params) == 1 && q.params.Has("select")) {
		return fmt.Errorf("refusing to delete from %s without a filter", q.table)
	}
	_, err := q.c.do(ctx, q.request(http.MethodDelete, nil, nil), nil)
	return err
}
