package db

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ParamType defines how a search parameter maps onto SQL.
type ParamType int

const (
	ParamToken  ParamType = iota // exact match on a code-like column
	ParamString                  // case-insensitive substring match
	ParamDate                    // supports ge/le/gt/lt/eq value prefixes
	ParamNumber                  // supports ge/le/gt/lt/eq value prefixes
	ParamRef                     // uuid reference column
)

// ParamConfig maps a search parameter name to its database column.
type ParamConfig struct {
	Type   ParamType
	Column string
}

// Query builds WHERE clauses for repository Search methods from a parameter
// map, with positional argument tracking.
type Query struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewQuery creates a Query for the given table and column list.
func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols, idx: 1}
}

// Add appends a raw WHERE clause fragment (without leading "AND"). The
// fragment must use fmt verbs for positional placeholders starting at Idx.
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// Idx returns the next available positional argument index.
func (q *Query) Idx() int { return q.idx }

// ApplyParams applies every parameter that has a config entry; unknown
// parameters are ignored.
func (q *Query) ApplyParams(params map[string]string, configs map[string]ParamConfig) {
	for name, value := range params {
		cfg, ok := configs[name]
		if !ok {
			continue
		}
		switch cfg.Type {
		case ParamToken, ParamRef:
			q.Add(fmt.Sprintf("%s = $%d", cfg.Column, q.idx), value)
		case ParamString:
			q.Add(fmt.Sprintf("%s ILIKE $%d", cfg.Column, q.idx), "%"+value+"%")
		case ParamDate:
			q.addOrdered(cfg.Column, value, true)
		case ParamNumber:
			q.addOrdered(cfg.Column, value, false)
		}
	}
}

// addOrdered handles the ge/le/gt/lt/eq prefix convention on ordered values.
func (q *Query) addOrdered(column, raw string, isDate bool) {
	op := "="
	value := raw
	if len(raw) > 2 {
		switch raw[:2] {
		case "ge":
			op, value = ">=", raw[2:]
		case "le":
			op, value = "<=", raw[2:]
		case "gt":
			op, value = ">", raw[2:]
		case "lt":
			op, value = "<", raw[2:]
		case "eq":
			op, value = "=", raw[2:]
		}
	}
	if isDate {
		if t, err := parseFlexDate(value); err == nil {
			q.Add(fmt.Sprintf("%s %s $%d", column, op, q.idx), t)
			return
		}
	}
	q.Add(fmt.Sprintf("%s %s $%d", column, op, q.idx), value)
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *Query) OrderBy(orderBy string) { q.orderBy = orderBy }

// CountSQL returns the count query SQL.
func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

// CountArgs returns the arguments for the count query.
func (q *Query) CountArgs() []interface{} { return q.args }

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *Query) DataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *Query) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

// ParamsFromQuery extracts search parameters from a URL query string,
// skipping control parameters (those starting with "_").
func ParamsFromQuery(values url.Values) map[string]string {
	params := map[string]string{}
	for k, v := range values {
		if len(v) == 0 || strings.HasPrefix(k, "_") {
			continue
		}
		params[k] = v[0]
	}
	return params
}

var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parseFlexDate(s string) (time.Time, error) {
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
