package billing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// filterQuery accumulates WHERE fragments and positional args for one table.
type filterQuery struct {
	table   string
	where   string
	args    []interface{}
	orderBy string
}

func newFilterQuery(table string) *filterQuery {
	return &filterQuery{table: table}
}

// next returns the placeholder for the next argument.
func (q *filterQuery) next() string {
	return fmt.Sprintf("$%d", len(q.args)+1)
}

// eq adds "column = $n".
func (q *filterQuery) eq(column string, v interface{}) {
	q.where += fmt.Sprintf(" AND %s = %s", column, q.next())
	q.args = append(q.args, v)
}

// anyOf adds "column = ANY($n::arrayType)". Empty values add nothing.
func (q *filterQuery) anyOf(column, arrayType string, values []string) {
	if len(values) == 0 {
		return
	}
	q.where += fmt.Sprintf(" AND %s = ANY(%s::%s)", column, q.next(), arrayType)
	q.args = append(q.args, values)
}

// dateRange adds inclusive bounds for the non-zero ends of r.
func (q *filterQuery) dateRange(column string, r DateRange) {
	if !r.From.IsZero() {
		q.where += fmt.Sprintf(" AND %s >= %s", column, q.next())
		q.args = append(q.args, r.From)
	}
	if !r.To.IsZero() {
		q.where += fmt.Sprintf(" AND %s <= %s", column, q.next())
		q.args = append(q.args, r.To)
	}
}

// raw appends a fragment that takes no args.
func (q *filterQuery) raw(clause string) {
	q.where += " AND " + clause
}

func (q *filterQuery) selectSQL(cols string) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// pageSQL is selectSQL with LIMIT/OFFSET appended; limit <= 0 means no limit.
func (q *filterQuery) pageSQL(cols string, limit, offset int) (string, []interface{}) {
	sql := q.selectSQL(cols)
	args := append([]interface{}{}, q.args...)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		sql += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}
	return sql, args
}

func (q *filterQuery) countSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *filterQuery) aggregateSQL(exprs ...string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", strings.Join(exprs, ", "), q.table, q.where)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
