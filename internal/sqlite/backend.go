// Package sqlite implements the SQLite document store. Every collection is
// a partition of one documents table holding JSON bodies.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// DBFile is the database file created in the data directory.
const DBFile = "shelf.db"

//go:embed schema.sql
var schemaSQL string

// Backend implements types.Store on a SQLite file.
type Backend struct {
	mu          sync.RWMutex
	attached    bool
	config      types.Config
	db          *sql.DB
	collections map[string]*docstore.SQLCollection
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{
		collections: make(map[string]*docstore.SQLCollection),
	}
}

// Attach opens the database in config.DataDir, creating the directory and
// the schema when missing. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dsn := "file:" + filepath.Join(dataDir, DBFile) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// One connection serializes writers instead of failing them with
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	b.db = db
	b.config = config
	b.attached = true
	for _, name := range types.CollectionNames {
		b.collections[name] = docstore.NewSQLCollection(db, name, dialect{})
	}
	return nil
}

// Detach closes the database. After Detach every collection fails with
// ErrStoreClosed. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.collections = make(map[string]*docstore.SQLCollection)
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	return nil
}

// Collection returns the named collection.
func (b *Backend) Collection(name string) types.Collection {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return docstore.Closed()
	}
	c, ok := b.collections[name]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return docstore.Closed()
	}
	if c, ok := b.collections[name]; ok {
		return c
	}
	c = docstore.NewSQLCollection(b.db, name, dialect{})
	b.collections[name] = c
	return c
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrStoreClosed
	}
	if err := b.db.PingContext(ctx); err != nil {
		return docstore.Transient("ping", err)
	}
	return nil
}

// Close detaches the backend.
func (b *Backend) Close() error {
	return b.Detach()
}
