package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Querier is satisfied by *DB and *Tx. Reads accept either.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Schema is the persistence adapter of one entity type: it maps the domain
// value onto a row and back.
type Schema[T any] struct {
	Name string
	// Columns lists every persisted column; Columns[0] is the primary key.
	Columns []string
	Key     func(*T) string
	Values  func(*T) ([]any, error)
	Scan    func(Scanner) (T, error)
}

// Table stores one entity type, uniquely keyed by id.
type Table[T any] struct {
	schema    Schema[T]
	selectSQL string
	insertSQL string
	updateSQL string
}

// NewTable prepares the SQL statements for a schema.
func NewTable[T any](s Schema[T]) *Table[T] {
	cols := strings.Join(s.Columns, ", ")
	sets := make([]string, len(s.Columns)-1)
	for i, c := range s.Columns[1:] {
		sets[i] = c + " = ?"
	}
	return &Table[T]{
		schema:    s,
		selectSQL: "SELECT " + cols + " FROM " + s.Name,
		insertSQL: "INSERT INTO " + s.Name + " (" + cols + ") VALUES (?" + strings.Repeat(", ?", len(s.Columns)-1) + ")",
		updateSQL: "UPDATE " + s.Name + " SET " + strings.Join(sets, ", ") + " WHERE " + s.Columns[0] + " = ?",
	}
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.schema.Name
}

// Key returns the primary key of e.
func (t *Table[T]) Key(e *T) string {
	return t.schema.Key(e)
}

func (t *Table[T]) values(e *T) (string, []any, error) {
	key := t.schema.Key(e)
	if key == "" {
		return "", nil, invalid("%s: missing id", t.schema.Name)
	}
	vals, err := t.schema.Values(e)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidData, t.schema.Name, key, err)
	}
	return key, vals, nil
}

// Insert adds a new entity. It fails with ErrDuplicateKey if the id exists.
func (t *Table[T]) Insert(ctx context.Context, tx *Tx, e *T) error {
	key, vals, err := t.values(e)
	if err != nil {
		return err
	}
	if _, err := tx.write(ctx, t.schema.Name, t.insertSQL, vals...); err != nil {
		return fmt.Errorf("insert %s %q: %w", t.schema.Name, key, translate(err))
	}
	return nil
}

// InsertBatch adds all entities or none of them.
func (t *Table[T]) InsertBatch(ctx context.Context, tx *Tx, es []*T) error {
	if len(es) == 0 {
		return nil
	}
	sp := "batch_" + t.schema.Name
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, e := range es {
		if err := t.Insert(ctx, tx, e); err != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO "+sp)
			_, _ = tx.ExecContext(ctx, "RELEASE "+sp)
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "RELEASE "+sp); err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}

// Update replaces every column of an existing entity, matched by id.
func (t *Table[T]) Update(ctx context.Context, tx *Tx, e *T) error {
	key, vals, err := t.values(e)
	if err != nil {
		return err
	}
	args := append(vals[1:len(vals):len(vals)], vals[0])
	res, err := tx.write(ctx, t.schema.Name, t.updateSQL, args...)
	if err != nil {
		return fmt.Errorf("update %s %q: %w", t.schema.Name, key, translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s %q: %w", t.schema.Name, key, ErrEntityNotFound)
	}
	return nil
}

// Rekey changes an entity's primary key.
func (t *Table[T]) Rekey(ctx context.Context, tx *Tx, oldID, newID string) error {
	if newID == "" {
		return invalid("%s: missing id", t.schema.Name)
	}
	pk := t.schema.Columns[0]
	res, err := tx.write(ctx, t.schema.Name, "UPDATE "+t.schema.Name+" SET "+pk+" = ? WHERE "+pk+" = ?", newID, oldID)
	if err != nil {
		return fmt.Errorf("rekey %s %q: %w", t.schema.Name, oldID, translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rekey %s %q: %w", t.schema.Name, oldID, ErrEntityNotFound)
	}
	return nil
}

// Delete removes the entity with the given id. Deleting a missing entity is
// not an error.
func (t *Table[T]) Delete(ctx context.Context, tx *Tx, id string) error {
	if _, err := tx.write(ctx, t.schema.Name, "DELETE FROM "+t.schema.Name+" WHERE "+t.schema.Columns[0]+" = ?", id); err != nil {
		return fmt.Errorf("delete %s %q: %w", t.schema.Name, id, err)
	}
	return nil
}

// DeleteAll removes every entity matching q and returns how many went.
// Ordering and limit are ignored.
func (t *Table[T]) DeleteAll(ctx context.Context, tx *Tx, q Query) (int64, error) {
	where, args := q.whereClause()
	res, err := tx.write(ctx, t.schema.Name, "DELETE FROM "+t.schema.Name+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", t.schema.Name, err)
	}
	return res.RowsAffected()
}

// Fetch returns the entities matching q in the query's order.
func (t *Table[T]) Fetch(ctx context.Context, db Querier, q Query) ([]T, error) {
	where, args := q.whereClause()
	stmt := t.selectSQL + where + q.orderClause()
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.schema.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		e, err := t.schema.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.schema.Name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.schema.Name, err)
	}
	return out, nil
}

// FetchOne returns the first entity matching q, or nil if none does. When
// q.Unique is set and more than one row matches it fails with
// ErrMultipleMatches.
func (t *Table[T]) FetchOne(ctx context.Context, db Querier, q Query) (*T, error) {
	q.Limit = 1
	if q.Unique {
		q.Limit = 2
	}
	found, err := t.Fetch(ctx, db, q)
	if err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, nil
	case len(found) > 1:
		return nil, fmt.Errorf("fetch one %s: %w", t.schema.Name, ErrMultipleMatches)
	}
	return &found[0], nil
}

// Get returns the entity with the given id, or nil if it does not exist.
func (t *Table[T]) Get(ctx context.Context, db Querier, id string) (*T, error) {
	return t.FetchOne(ctx, db, Query{Where: []Cond{Eq(t.schema.Columns[0], id)}, Unique: true})
}

// Count returns the number of entities matching q without loading them.
func (t *Table[T]) Count(ctx context.Context, db Querier, q Query) (int, error) {
	where, args := q.whereClause()
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.schema.Name+where, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t.schema.Name, err)
	}
	return n, nil
}
