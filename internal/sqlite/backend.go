// Package sqlite implements a durable types.DataStore on SQLite.
//
// The backend keeps every record in an in-memory store that answers all
// queries. Writes are checked against the in-memory store, committed to
// SQLite in one transaction, and only then applied in memory, so the two
// never disagree. Attach loads the database into memory.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/larder/internal/memstore"
	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// DBFile is the database file name inside the data directory.
const DBFile = "larder.db"

// Backend is a DataStore persisted in SQLite. It is safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	mem      *memstore.Store
	logger   *slog.Logger
}

var _ types.DataStore = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach opens the database in config.DataDir, creating the directory and
// schema if needed, and loads every record and counter into memory.
// Returns ErrAlreadyAttached if already attached.
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
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// One connection serializes writers and keeps the schema visible to
	// every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	mem := memstore.New()
	n, err := loadDatabase(db, mem)
	if err != nil {
		db.Close()
		return fmt.Errorf("loading %s: %w", dbPath, err)
	}

	b.db = db
	b.mem = mem
	b.config = config
	b.attached = true
	b.logger.Info("sqlite store attached", "path", dbPath, "records", n)
	return nil
}

// Detach closes the database. After Detach, all operations return
// ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.mem = nil
	db := b.db
	b.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	b.logger.Info("sqlite store detached", "data_dir", b.config.DataDir)
	return nil
}

// Close is Detach, so a Backend can be used as an io.Closer.
func (b *Backend) Close() error { return b.Detach() }

// reader returns the in-memory store for a read. The caller must hold b.mu.
func (b *Backend) reader() (*memstore.Store, error) {
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return b.mem, nil
}

// Find returns the record with the given key.
func (b *Backend) Find(class, key string) (types.Record, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mem, err := b.reader()
	if err != nil {
		return types.Record{}, false, err
	}
	return mem.Find(class, key)
}

// FindOne returns the single record of class matching c.
func (b *Backend) FindOne(class string, c criteria.Criteria) (types.Record, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mem, err := b.reader()
	if err != nil {
		return types.Record{}, false, err
	}
	return mem.FindOne(class, c)
}

// FindAll returns the records of class matching c, ordered and paged.
func (b *Backend) FindAll(class string, c criteria.Criteria, order criteria.OrderBy, page types.Page) ([]types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mem, err := b.reader()
	if err != nil {
		return nil, err
	}
	return mem.FindAll(class, c, order, page)
}

// Count returns the number of records of class matching c.
func (b *Backend) Count(class string, c criteria.Criteria) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mem, err := b.reader()
	if err != nil {
		return 0, err
	}
	return mem.Count(class, c)
}

// Records returns every record ordered by class and key.
func (b *Backend) Records() ([]types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mem, err := b.reader()
	if err != nil {
		return nil, err
	}
	return mem.Records(), nil
}

// Insert adds a record. Returns ErrDuplicateIdentity if the key exists.
func (b *Backend) Insert(rec types.Record) error {
	return b.Apply([]types.Change{{Op: types.OpInsert, Record: rec}})
}

// Update replaces a record. Returns ErrRecordNotFound if absent.
func (b *Backend) Update(rec types.Record) error {
	return b.Apply([]types.Change{{Op: types.OpUpdate, Record: rec}})
}

// Remove deletes a record. Returns ErrRecordNotFound if absent.
func (b *Backend) Remove(class, key string) error {
	return b.Apply([]types.Change{{Op: types.OpDelete, Record: types.Record{Class: class, Key: key}}})
}

// Apply writes a batch atomically. The batch is checked in memory first, so
// a rejected change is reported as *types.ChangeError before SQLite is
// touched; a database failure rolls the SQLite transaction back and leaves
// memory unchanged.
func (b *Backend) Apply(changes []types.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrStoreDetached
	}
	return b.applyLocked(changes)
}

// applyLocked writes a batch to SQLite and then to memory. The caller must
// hold the write lock of an attached backend.
func (b *Backend) applyLocked(changes []types.Change) error {
	if err := b.mem.Check(changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	if err := writeChanges(b.db, changes); err != nil {
		return err
	}
	if err := b.mem.Apply(changes); err != nil {
		return fmt.Errorf("memory out of step with database: %w", err)
	}
	b.logger.Debug("sqlite batch applied", "changes", len(changes))
	return nil
}

// NextAutoIncrement returns the next value of the class counter and stores
// it, so values are never handed out twice across restarts.
func (b *Backend) NextAutoIncrement(class string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return 0, types.ErrStoreDetached
	}
	next, err := b.mem.NextAutoIncrement(class)
	if err != nil {
		return 0, err
	}
	if err := saveSequence(b.db, types.FoldName(class), next); err != nil {
		return 0, fmt.Errorf("saving %s counter: %w", class, err)
	}
	return next, nil
}

// SeedAutoIncrement raises the class counter to at least value and stores
// it. A failure to store the counter is logged; the in-memory counter is
// raised regardless.
func (b *Backend) SeedAutoIncrement(class string, value int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return
	}
	b.mem.SeedAutoIncrement(class, value)
	if err := saveSequence(b.db, types.FoldName(class), value); err != nil {
		b.logger.Warn("saving counter", "class", class, "error", err)
	}
}

func writeChanges(db *sql.DB, changes []types.Change) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, ch := range changes {
		if err := writeChange(tx, ch, now); err != nil {
			return &types.ChangeError{Index: i, Change: ch, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func writeChange(tx *sql.Tx, ch types.Change, now string) error {
	class := types.FoldName(ch.Record.Class)
	if ch.Op == types.OpDelete {
		_, err := tx.Exec(`DELETE FROM records WHERE class = ? AND record_key = ?`, class, ch.Record.Key)
		return err
	}

	data, err := encodeRecord(ch.Record)
	if err != nil {
		return err
	}
	switch ch.Op {
	case types.OpInsert:
		_, err = tx.Exec(`INSERT INTO records (class, record_key, data, updated_at) VALUES (?, ?, ?, ?)`,
			class, ch.Record.Key, string(data), now)
	case types.OpUpdate:
		_, err = tx.Exec(`UPDATE records SET data = ?, updated_at = ? WHERE class = ? AND record_key = ?`,
			string(data), now, class, ch.Record.Key)
	default:
		err = fmt.Errorf("unknown operation %q", ch.Op)
	}
	return err
}

func saveSequence(db *sql.DB, class string, value int64) error {
	_, err := db.Exec(`INSERT INTO sequences (class, value) VALUES (?, ?)
ON CONFLICT(class) DO UPDATE SET value = excluded.value WHERE excluded.value > sequences.value`,
		class, value)
	return err
}
