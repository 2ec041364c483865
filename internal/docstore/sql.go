package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Dialect adapts SQLCollection to one SQL engine. Every engine stores
// documents in a single table:
//
//	documents(seq, collection, id, body)
//
// where body is the JSON encoding of the document.
type Dialect interface {
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// FieldEquals returns a predicate comparing the top-level text key of
	// body to the bind parameter at position n. FieldArg builds the bound
	// value.
	FieldEquals(key string, n int) string
	FieldArg(key, value string) (any, error)
	// ForUpdate is appended to selects made inside a write transaction.
	ForUpdate() string
	// IsDuplicate reports whether err is a primary key violation.
	IsDuplicate(err error) bool
}

var pushdownKey = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLCollection is a types.Collection stored in a SQL documents table.
// Top-level string equalities are pushed into the WHERE clause and the full
// filter is re-applied in Go, so every engine gets identical semantics.
type SQLCollection struct {
	db      *sql.DB
	name    string
	dialect Dialect
}

// NewSQLCollection returns the collection name backed by db.
func NewSQLCollection(db *sql.DB, name string, dialect Dialect) *SQLCollection {
	return &SQLCollection{db: db, name: name, dialect: dialect}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// selectQuery builds the narrowing select for filter.
func (c *SQLCollection) selectQuery(filter types.Filter, lock bool) (string, []any, error) {
	var b strings.Builder
	args := []any{c.name}
	b.WriteString("SELECT id, body FROM documents WHERE collection = ")
	b.WriteString(c.dialect.Placeholder(1))
	for key, cond := range filter {
		value, ok := cond.(string)
		if !ok {
			continue
		}
		switch {
		case key == types.IDKey:
			args = append(args, value)
			b.WriteString(" AND id = " + c.dialect.Placeholder(len(args)))
		case pushdownKey.MatchString(key):
			arg, err := c.dialect.FieldArg(key, value)
			if err != nil {
				return "", nil, err
			}
			args = append(args, arg)
			b.WriteString(" AND " + c.dialect.FieldEquals(key, len(args)))
		}
	}
	b.WriteString(" ORDER BY seq")
	if lock {
		b.WriteString(c.dialect.ForUpdate())
	}
	return b.String(), args, nil
}

type row struct {
	id  string
	doc types.Document
}

func (c *SQLCollection) scan(ctx context.Context, q querier, filter types.Filter, lock, first bool) ([]row, error) {
	query, args, err := c.selectQuery(filter, lock)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Transient("select "+c.name, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, Transient("scan "+c.name, err)
		}
		var doc types.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", c.name, id, err)
		}
		ok, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, row{id: id, doc: doc})
		if first {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, Transient("iterate "+c.name, err)
	}
	return out, nil
}

func (c *SQLCollection) Find(ctx context.Context, filter types.Filter, opts *types.FindOptions) ([]types.Document, error) {
	rows, err := c.scan(ctx, c.db, filter, false, false)
	if err != nil {
		return nil, err
	}
	docs := make([]types.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return Apply(docs, opts), nil
}

func (c *SQLCollection) FindOne(ctx context.Context, filter types.Filter) (types.Document, error) {
	rows, err := c.scan(ctx, c.db, filter, false, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.ErrNotFound
	}
	return rows[0].doc, nil
}

func (c *SQLCollection) Insert(ctx context.Context, doc types.Document) error {
	id, ok := DocumentID(doc)
	if !ok {
		return fmt.Errorf("%w: missing %s", types.ErrInvalidDocument, types.IDKey)
	}
	return c.insert(ctx, c.db, id, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *SQLCollection) insert(ctx context.Context, e execer, id string, doc types.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidDocument, err)
	}
	d := c.dialect
	query := fmt.Sprintf("INSERT INTO documents (collection, id, body) VALUES (%s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	if _, err := e.ExecContext(ctx, query, c.name, id, string(body)); err != nil {
		if d.IsDuplicate(err) {
			return fmt.Errorf("%w: %s", types.ErrDuplicateID, id)
		}
		return Transient("insert "+c.name, err)
	}
	return nil
}

func (c *SQLCollection) UpdateOne(ctx context.Context, filter types.Filter, set types.Document) error {
	_, err := c.update(ctx, filter, set, false)
	return err
}

func (c *SQLCollection) FindOneAndUpdate(ctx context.Context, filter types.Filter, set types.Document, upsert bool) (types.Document, error) {
	return c.update(ctx, filter, set, upsert)
}

// inTx runs fn in a transaction and commits when fn succeeds.
func (c *SQLCollection) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Transient("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return Transient("commit", err)
	}
	return nil
}

func (c *SQLCollection) update(ctx context.Context, filter types.Filter, set types.Document, upsert bool) (types.Document, error) {
	var updated types.Document
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := c.scan(ctx, tx, filter, true, true)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if !upsert {
				return types.ErrNotFound
			}
			id, ok := DocumentID(set)
			if !ok {
				return fmt.Errorf("%w: upsert without %s", types.ErrInvalidDocument, types.IDKey)
			}
			updated = Clone(set)
			return c.insert(ctx, tx, id, updated)
		}
		doc := rows[0].doc
		for k, v := range set {
			if k == types.IDKey {
				continue
			}
			doc[k] = cloneValue(v)
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidDocument, err)
		}
		d := c.dialect
		query := fmt.Sprintf("UPDATE documents SET body = %s WHERE collection = %s AND id = %s",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
		if _, err := tx.ExecContext(ctx, query, string(body), c.name, rows[0].id); err != nil {
			return Transient("update "+c.name, err)
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *SQLCollection) DeleteOne(ctx context.Context, filter types.Filter) error {
	n, err := c.delete(ctx, filter, true)
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (c *SQLCollection) DeleteMany(ctx context.Context, filter types.Filter) (int64, error) {
	return c.delete(ctx, filter, false)
}

func (c *SQLCollection) delete(ctx context.Context, filter types.Filter, first bool) (int64, error) {
	var n int64
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := c.scan(ctx, tx, filter, true, first)
		if err != nil {
			return err
		}
		d := c.dialect
		query := fmt.Sprintf("DELETE FROM documents WHERE collection = %s AND id = %s",
			d.Placeholder(1), d.Placeholder(2))
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, query, c.name, r.id); err != nil {
				return Transient("delete "+c.name, err)
			}
		}
		n = int64(len(rows))
		return nil
	})
	return n, err
}

