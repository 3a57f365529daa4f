// Package sqlitestore provides a SQLite implementation of storage.Store
// interface.
//
// Examples:
//
//	store, err := sqlitestore.New(
//		"file:session.db?_busy_timeout=5000",
//		sqlitestore.WithPrefix("qavault_"),
//	)
//
//	store, err := sqlitestore.New(":memory:")
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/storage"

	"github.com/mattn/go-sqlite3"
)

// Option is a functional option for configuring the store.
type Option func(*store)

// WithPrefix overrides the default table prefix of "qavault_".
func WithPrefix(prefix string) Option {
	return func(s *store) {
		s.prefix = prefix
	}
}

// New returns a store that provides sqlite backed storage. The shared table
// is created up front, so an unusable database fails here rather than on
// first use.
func New(conn string, opts ...Option) (storage.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "sqlitestore: opening database", 0)
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)

	s := &store{
		db:     db,
		prefix: "qavault_",
		tables: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSharedTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type store struct {
	db     *sql.DB
	prefix string

	mu     sync.RWMutex
	tables map[string]bool // Models with a dedicated table.
}

// InitModel creates a dedicated table for the model's records.
func (s *store) InitModel(ctx context.Context, model storage.Model) error {
	name := storage.Name(model)
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.prefix+name+` (
		id TEXT PRIMARY KEY,
		value TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return translateError(err)
	}
	s.mu.Lock()
	s.tables[name] = true
	s.mu.Unlock()
	return nil
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.exec(ctx, models, func(t table) string {
		if t.shared {
			return "INSERT INTO " + t.name + " (value, id, entity_type) VALUES (?, ?, ?)"
		}
		return "INSERT INTO " + t.name + " (value, id) VALUES (?, ?)"
	}, false)
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	t := s.tableFor(model)
	query := "SELECT value FROM " + t.name + " WHERE " + t.where()
	row := s.db.QueryRowContext(ctx, query, t.args(id)...)

	var value []byte
	if err := row.Scan(&value); err != nil {
		return translateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return fmt.Errorf("%w: %s", storage.ErrInvalidModel, err)
	}
	return nil
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	return s.exec(ctx, models, func(t table) string {
		return "UPDATE " + t.name + " SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE " + t.where()
	}, true)
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.exec(ctx, models, func(t table) string {
		if t.shared {
			return `INSERT INTO ` + t.name + ` (value, id, entity_type) VALUES (?, ?, ?)
				ON CONFLICT(id, entity_type) DO UPDATE SET
				value = excluded.value, updated_at = CURRENT_TIMESTAMP`
		}
		return `INSERT INTO ` + t.name + ` (value, id) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET
			value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	}, false)
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	t := s.tableFor(model)
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE "+t.where(), t.args(model.PK())...)
	if err != nil {
		return translateError(err)
	}
	if i, err := res.RowsAffected(); i == 0 || err != nil {
		return storage.ErrNotFound
	}
	return nil
}

func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return storage.ErrSliceRequired
	}
	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return storage.ErrTypeMismatch
	}

	query, args := s.buildListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return translateError(err)
		}

		newElemPtr := reflect.New(elemType)
		if err := json.Unmarshal(value, newElemPtr.Interface()); err != nil {
			return fmt.Errorf("%w: %s", storage.ErrInvalidModel, err)
		}
		sliceVal.Set(reflect.Append(sliceVal, newElemPtr.Elem()))
	}

	if err := rows.Err(); err != nil {
		return translateError(err)
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	t := s.tableFor(model)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name+" WHERE "+t.where(), t.args(id)...).Scan(&count)
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// exec runs one statement per model inside a transaction. Arguments are bound
// as value, id and, for the shared table, entity type.
func (s *store) exec(ctx context.Context, models []storage.Model, stmtFor func(table) string, mustAffect bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit.

	for _, model := range models {
		value, err := json.Marshal(model)
		if err != nil {
			return fmt.Errorf("%w: %s", storage.ErrInvalidModel, err)
		}
		t := s.tableFor(model)
		args := append([]any{string(value)}, t.args(model.PK())...)
		res, err := tx.ExecContext(ctx, stmtFor(t), args...)
		if err != nil {
			return translateError(err)
		}
		if mustAffect {
			if i, err := res.RowsAffected(); i == 0 || err != nil {
				return storage.ErrNotFound
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return translateError(err)
	}
	return nil
}

type table struct {
	name       string
	entityType string
	shared     bool
}

func (t table) where() string {
	if t.shared {
		return "id = ? AND entity_type = ?"
	}
	return "id = ?"
}

func (t table) args(id string) []any {
	if t.shared {
		return []any{id, t.entityType}
	}
	return []any{id}
}

func (s *store) tableFor(model storage.Model) table {
	name := storage.Name(model)
	s.mu.RLock()
	dedicated := s.tables[name]
	s.mu.RUnlock()
	if dedicated {
		return table{name: s.prefix + name, entityType: name}
	}
	return table{name: s.prefix + "default", entityType: name, shared: true}
}

func (s *store) ensureSharedTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + s.prefix + `default (
		id TEXT,
		entity_type TEXT,
		value TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, entity_type)
	);`)
	if err != nil {
		return errors.WrapPrefix(err, "sqlitestore: creating table", 0)
	}
	return nil
}

func (s *store) buildListQuery(model storage.Model) (string, []any) {
	t := s.tableFor(model)
	filterValue := reflect.ValueOf(model)

	var whereClauses []string
	var params []any
	if t.shared {
		whereClauses = append(whereClauses, "entity_type = ?")
		params = append(params, t.entityType)
	}

	for i := 0; i < filterValue.NumField(); i++ {
		field := filterValue.Field(i)
		typeField := filterValue.Type().Field(i)

		// Only include fields that are non-nil pointers or are non-zero values.
		if (field.Kind() == reflect.Ptr && !field.IsNil()) || (!field.IsZero() && field.Kind() != reflect.Ptr) {
			w := fmt.Sprintf("json_extract(value, '$.%s') = ?", storage.FieldName(typeField))
			whereClauses = append(whereClauses, w)
			params = append(params, field.Interface())
		}
	}

	query := "SELECT value FROM " + t.name
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	return query + " ORDER BY id", params
}

func translateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return storage.ErrNotFound
		case sqlite3.ErrConstraint:
			return storage.ErrAlreadyExists
		}
	}
	return err
}
