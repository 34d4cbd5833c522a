package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const layerSQLite = "sqlite"

// SQLiteStorage keeps partitions in a SQLite database so they survive
// restarts.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens (or creates) the database at filename.
// If filename is empty, a private in-memory database is used.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	inMemory := filename == ""
	if inMemory {
		filename = ":memory:"
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if inMemory {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			data BLOB NOT NULL,
			cached_at INTEGER NOT NULL,
			PRIMARY KEY (partition, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// DB returns the underlying database so other state can live next to the
// partitions.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Open returns the named partition, creating it if absent.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Partition, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixNano())
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "open").Inc()
		return nil, fmt.Errorf("sqlite open partition: %w", err)
	}
	return &sqlitePartition{storage: s, name: name}, nil
}

// Has reports whether the named partition exists.
func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM partitions WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "has").Inc()
		return false, fmt.Errorf("sqlite has partition: %w", err)
	}
	return true, nil
}

// Delete removes the partition and its entries in one transaction.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE partition = ?", name); err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return false, fmt.Errorf("sqlite delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM partitions WHERE name = ?", name)
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return false, fmt.Errorf("sqlite delete partition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return false, fmt.Errorf("sqlite commit: %w", err)
	}

	if n == 0 {
		return false, nil
	}
	PartitionsDeleted.WithLabelValues(layerSQLite).Inc()
	return true, nil
}

// Keys lists partition names in creation order.
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM partitions ORDER BY seq ASC")
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "keys").Inc()
		return nil, fmt.Errorf("sqlite list partitions: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite scan partition: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) lookup(ctx context.Context, name string) (Partition, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return &sqlitePartition{storage: s, name: name}, nil
}

// Match searches all partitions in creation order.
func (s *SQLiteStorage) Match(ctx context.Context, req *Request) (*Response, error) {
	return matchInOrder(ctx, s, req)
}

type sqlitePartition struct {
	storage *SQLiteStorage
	name    string
}

func (p *sqlitePartition) Name() string {
	return p.name
}

func (p *sqlitePartition) Match(ctx context.Context, req *Request) (*Response, error) {
	var data []byte
	err := p.storage.db.QueryRowContext(ctx,
		"SELECT data FROM entries WHERE partition = ? AND key = ?",
		p.name, KeyFor(req).String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		CacheMisses.WithLabelValues(layerSQLite).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "match").Inc()
		return nil, fmt.Errorf("sqlite match: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "match").Inc()
		return nil, err
	}
	CacheHits.WithLabelValues(layerSQLite).Inc()
	return EntryToResponse(entry), nil
}

func (p *sqlitePartition) Put(ctx context.Context, req *Request, resp *Response) error {
	return p.PutAll(ctx, []Pair{{Request: req, Response: resp}})
}

// PutAll writes the batch in a single transaction.
func (p *sqlitePartition) PutAll(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	type row struct {
		key      string
		data     []byte
		cachedAt int64
	}
	rows := make([]row, 0, len(pairs))
	for _, pair := range pairs {
		key, entry, err := snapshot(pair.Request, pair.Response)
		if err != nil {
			CacheErrors.WithLabelValues(layerSQLite, "put").Inc()
			return err
		}
		data, err := encodeEntry(entry)
		if err != nil {
			CacheErrors.WithLabelValues(layerSQLite, "put").Inc()
			return err
		}
		rows = append(rows, row{key: key.String(), data: data, cachedAt: entry.CachedAt.Unix()})
	}

	p.storage.writeMutex.Lock()
	defer p.storage.writeMutex.Unlock()

	tx, err := p.storage.db.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "put").Inc()
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		p.name, time.Now().UnixNano()); err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "put").Inc()
		return fmt.Errorf("sqlite open partition: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO entries (partition, key, data, cached_at) VALUES (?, ?, ?, ?)",
			p.name, r.key, r.data, r.cachedAt); err != nil {
			CacheErrors.WithLabelValues(layerSQLite, "put").Inc()
			return fmt.Errorf("sqlite put: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "put").Inc()
		return fmt.Errorf("sqlite commit: %w", err)
	}

	CacheWrites.WithLabelValues(layerSQLite).Add(float64(len(rows)))
	return nil
}

func (p *sqlitePartition) Delete(ctx context.Context, req *Request) (bool, error) {
	p.storage.writeMutex.Lock()
	defer p.storage.writeMutex.Unlock()

	res, err := p.storage.db.ExecContext(ctx,
		"DELETE FROM entries WHERE partition = ? AND key = ?", p.name, KeyFor(req).String())
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return false, fmt.Errorf("sqlite delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite rows affected: %w", err)
	}
	return n > 0, nil
}

func (p *sqlitePartition) Keys(ctx context.Context) ([]Key, error) {
	rows, err := p.storage.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE partition = ? ORDER BY key ASC", p.name)
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "keys").Inc()
		return nil, fmt.Errorf("sqlite list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]Key, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan key: %w", err)
		}
		key, err := ParseKey(s)
		if err != nil {
			return nil, errors.Join(ErrInvalidEntry, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
