package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore returns an unopened store for the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{path: path, logger: logger.With(zap.String("component", "store"))}
}

// OpenSQLiteStore creates and opens a store in one step.
func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	s := NewSQLiteStore(path, logger)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Open creates the database file and schema on first use. Further calls,
// including concurrent ones, reuse the same handle.
func (s *SQLiteStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return wrapErr("create db dir", err)
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(10000)")
	if err != nil {
		return wrapErr("open db", err)
	}
	// One connection: writes are serialized and a transaction sees its own writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return wrapErr("migrate", err)
	}

	s.db = db
	s.logger.Debug("store opened", zap.String("path", s.path))
	return nil
}

// Close releases the handle. The store cannot be reopened.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *SQLiteStore) Put(ctx context.Context, c Collection, rec Record) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return put(ctx, db, c, rec)
}

func (s *SQLiteStore) Get(ctx context.Context, c Collection, key string) (Record, bool, error) {
	db, err := s.handle()
	if err != nil {
		return Record{}, false, err
	}
	return get(ctx, db, c, key)
}

func (s *SQLiteStore) QueryByIndex(ctx context.Context, c Collection, idx Index, r KeyRange) ([]Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	return queryByIndex(ctx, db, c, idx, r)
}

// DeleteMany removes keys in a single transaction.
func (s *SQLiteStore) DeleteMany(ctx context.Context, c Collection, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.Update(ctx, func(tx KV) error {
		return tx.DeleteMany(ctx, c, keys)
	})
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx KV) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	db, err := s.handle()
	if err != nil {
		return "", false, err
	}
	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get meta", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return wrapErr("set meta", err)
	}
	return nil
}

// sqlTx is the KV view of an open transaction.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Put(ctx context.Context, c Collection, rec Record) error {
	return put(ctx, t.tx, c, rec)
}

func (t *sqlTx) Get(ctx context.Context, c Collection, key string) (Record, bool, error) {
	return get(ctx, t.tx, c, key)
}

func (t *sqlTx) QueryByIndex(ctx context.Context, c Collection, idx Index, r KeyRange) ([]Record, error) {
	return queryByIndex(ctx, t.tx, c, idx, r)
}

func (t *sqlTx) DeleteMany(ctx context.Context, c Collection, keys []string) error {
	def, err := lookup(c)
	if err != nil {
		return err
	}
	stmt, err := t.tx.PrepareContext(ctx, `DELETE FROM `+def.table+` WHERE id = ?`)
	if err != nil {
		return wrapErr("prepare delete", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return wrapErr("delete "+k, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func put(ctx context.Context, q querier, c Collection, rec Record) error {
	def, err := lookup(c)
	if err != nil {
		return err
	}
	vals, err := def.extract(rec)
	if err != nil {
		return err
	}

	cols := []string{"id"}
	set := []string{"data = excluded.data"}
	for _, col := range def.columns {
		cols = append(cols, col.name)
		set = append(set, col.name+" = excluded."+col.name)
	}
	cols = append(cols, "data")

	args := append([]any{rec.Key}, vals...)
	args = append(args, string(rec.Value))

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s ON CONFLICT(id) DO UPDATE SET %s`,
		def.table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(set, ", "))

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return wrapErr(fmt.Sprintf("put %s/%s", c, rec.Key), err)
	}
	return nil
}

func get(ctx context.Context, q querier, c Collection, key string) (Record, bool, error) {
	def, err := lookup(c)
	if err != nil {
		return Record{}, false, err
	}
	var data string
	err = q.QueryRowContext(ctx, `SELECT data FROM `+def.table+` WHERE id = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, wrapErr(fmt.Sprintf("get %s/%s", c, key), err)
	}
	return Record{Key: key, Value: []byte(data)}, true, nil
}

func queryByIndex(ctx context.Context, q querier, c Collection, idx Index, r KeyRange) ([]Record, error) {
	def, err := lookup(c)
	if err != nil {
		return nil, err
	}
	cols, ok := def.indexes[idx]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownIndex, idx, c)
	}
	where, args, err := def.where(cols, r)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", c, idx, err)
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s WHERE %s ORDER BY %s, rowid`,
		def.table, where, strings.Join(cols, ", "))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("query %s by %s", c, idx), err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, wrapErr("scan", err)
		}
		records = append(records, Record{Key: key, Value: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("rows", err)
	}
	return records, nil
}

// unavailableCodes are SQLite primary result codes that mean the storage
// itself cannot serve requests.
var unavailableCodes = map[int]bool{
	sqlite3.SQLITE_PERM:     true,
	sqlite3.SQLITE_BUSY:     true,
	sqlite3.SQLITE_LOCKED:   true,
	sqlite3.SQLITE_READONLY: true,
	sqlite3.SQLITE_IOERR:    true,
	sqlite3.SQLITE_FULL:     true,
	sqlite3.SQLITE_CANTOPEN: true,
	sqlite3.SQLITE_NOTADB:   true,
}

func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return unavailableCodes[se.Code()&0xff]
	}
	return errors.Is(err, fs.ErrPermission)
}
