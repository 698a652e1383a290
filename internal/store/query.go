package store

import (
	"strings"
	"time"
)

// Cond is a single WHERE predicate with its bound arguments. Column names
// come from code, never from callers' input; values are always bound.
type Cond struct {
	expr string
	args []any
}

func Eq(col string, v any) Cond { return Cond{expr: col + " = ?", args: []any{v}} }
func Ne(col string, v any) Cond { return Cond{expr: col + " != ?", args: []any{v}} }
func Lt(col string, v any) Cond { return Cond{expr: col + " < ?", args: []any{v}} }
func Le(col string, v any) Cond { return Cond{expr: col + " <= ?", args: []any{v}} }
func Gt(col string, v any) Cond { return Cond{expr: col + " > ?", args: []any{v}} }
func Ge(col string, v any) Cond { return Cond{expr: col + " >= ?", args: []any{v}} }

func IsNull(col string) Cond  { return Cond{expr: col + " IS NULL"} }
func NotNull(col string) Cond { return Cond{expr: col + " IS NOT NULL"} }

// In matches rows whose column equals any of vals. An empty list matches nothing.
func In[V any](col string, vals ...V) Cond {
	if len(vals) == 0 {
		return Cond{expr: "0"}
	}
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return Cond{expr: col + " IN (?" + strings.Repeat(", ?", len(vals)-1) + ")", args: args}
}

// Contains matches rows whose JSON array column holds v.
func Contains(col string, v any) Cond {
	return Cond{expr: "EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE json_each.value = ?)", args: []any{v}}
}

// NotContains matches rows whose JSON array column does not hold v.
func NotContains(col string, v any) Cond {
	return Cond{expr: "NOT EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE json_each.value = ?)", args: []any{v}}
}

// Or matches rows satisfying any of conds. An empty Or matches nothing.
func Or(conds ...Cond) Cond {
	if len(conds) == 0 {
		return Cond{expr: "0"}
	}
	parts := make([]string, len(conds))
	var args []any
	for i, c := range conds {
		parts[i] = "(" + c.expr + ")"
		args = append(args, c.args...)
	}
	return Cond{expr: "(" + strings.Join(parts, " OR ") + ")", args: args}
}

// Order is one ORDER BY term. expr may be any SQL expression over the table.
type Order struct {
	expr string
	desc bool
}

func Asc(expr string) Order  { return Order{expr: expr} }
func Desc(expr string) Order { return Order{expr: expr, desc: true} }

// Query selects rows of one table. Rows are always ordered: after the
// explicit terms the rowid breaks ties, so an unsorted query returns rows in
// insertion order.
type Query struct {
	Where   []Cond
	OrderBy []Order
	Limit   int
	// Unique declares that at most one row may match; FetchOne enforces it.
	Unique bool
}

// Where builds a query from conditions.
func Where(conds ...Cond) Query {
	return Query{Where: conds}
}

func (q Query) whereClause() (string, []any) {
	if len(q.Where) == 0 {
		return "", nil
	}
	parts := make([]string, len(q.Where))
	var args []any
	for i, c := range q.Where {
		parts[i] = "(" + c.expr + ")"
		args = append(args, c.args...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func (q Query) orderClause() string {
	var b strings.Builder
	b.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		b.WriteString(o.expr)
		if o.desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", ")
	}
	b.WriteString("rowid")
	return b.String()
}

// Millis converts a time to the store's integer representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
