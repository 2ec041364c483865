// Package postgres implements the PostgreSQL document store on JSONB
// columns.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// dialect pushes top-level equalities down as JSONB containment, which the
// GIN index serves.
type dialect struct{}

func (dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (dialect) FieldEquals(_ string, n int) string {
	return fmt.Sprintf("body @> $%d::jsonb", n)
}

func (dialect) FieldArg(key, value string) (any, error) {
	b, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (dialect) ForUpdate() string { return " FOR UPDATE" }

func (dialect) IsDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Store implements types.Store on a PostgreSQL database.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	collections map[string]*docstore.SQLCollection
}

// Open connects to dsn and creates the schema when missing.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, docstore.Transient("connect", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, collections: make(map[string]*docstore.SQLCollection)}, nil
}

// Collection returns the named collection.
func (s *Store) Collection(name string) types.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = docstore.NewSQLCollection(s.db, name, dialect{})
		s.collections[name] = c
	}
	return c
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return docstore.Transient("ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
