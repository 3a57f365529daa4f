// Package sqlstore implements vault.Store on PostgreSQL or SQLite using
// database/sql.
//
// Examples:
//
//	store, err := sqlstore.New(ctx, "postgres", "postgres://localhost/qavault?sslmode=disable")
//
//	store, err := sqlstore.New(ctx, "sqlite3", "qavault.db")
package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/vault"
	"google.golang.org/grpc/codes"
)

// Store is a vault.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect
}

var _ vault.Store = (*Store)(nil)

// New opens the database, verifies the connection and creates the schema if
// it does not exist.
func New(ctx context.Context, driver, dsn string) (*Store, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, unsupported(driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "opening database", 0)
	}
	if driver == "sqlite3" {
		// SQLite allows a single writer, and in-memory databases are per
		// connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WrapPrefix(err, "connecting to database", 0)
	}

	s, err := Open(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Open wraps an existing connection pool without touching the schema.
func Open(db *sql.DB, driver string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, unsupported(driver)
	}
	return &Store{db: db, dialect: d}, nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapPrefix(err, "creating schema", 0)
		}
	}
	logging.Debugw(ctx, "sqlstore: schema ready", "driver", s.dialect.driver)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UserByEmail(ctx context.Context, email string) (vault.User, error) {
	u := vault.User{}
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT id, email, full_name FROM users WHERE email = ?"), email,
	).Scan(&u.ID, &u.Email, &u.FullName)
	if err != nil {
		return vault.User{}, s.translate(err, "reading user")
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, email, fullName string) (vault.User, error) {
	u := vault.User{Email: email, FullName: fullName}
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("INSERT INTO users (email, full_name) VALUES (?, ?) RETURNING id"), email, fullName,
	).Scan(&u.ID)
	if err != nil {
		return vault.User{}, s.translate(err, "creating user")
	}
	return u, nil
}

func (s *Store) CreateTag(ctx context.Context, tag vault.NewTag) (vault.Tag, error) {
	tag, err := tag.Normalize()
	if err != nil {
		return vault.Tag{}, err
	}
	t := vault.Tag{Name: tag.Name, Type: tag.Type}
	err = s.db.QueryRowContext(ctx,
		s.dialect.rebind("INSERT INTO tags (name, type) VALUES (?, ?) RETURNING id"), tag.Name, tag.Type,
	).Scan(&t.ID)
	if err != nil {
		return vault.Tag{}, s.translate(err, "creating tag")
	}
	return t, nil
}

func (s *Store) Tags(ctx context.Context) ([]vault.Tag, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, type FROM tags ORDER BY id")
	if err != nil {
		return nil, s.translate(err, "listing tags")
	}
	defer rows.Close()

	tags := []vault.Tag{}
	for rows.Next() {
		var t vault.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Type); err != nil {
			return nil, s.translate(err, "listing tags")
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.translate(err, "listing tags")
	}
	return tags, nil
}

func (s *Store) AddEntry(ctx context.Context, userID int64, entry vault.NewEntry) (int64, error) {
	entry, err := entry.Normalize()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.translate(err, "adding entry")
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit.

	if len(entry.TagIDs) > 0 {
		args := make([]any, len(entry.TagIDs))
		for i, id := range entry.TagIDs {
			args[i] = id
		}
		var found int
		query := s.dialect.rebind("SELECT COUNT(*) FROM tags WHERE id IN (" + placeholders(len(args)) + ")")
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
			return 0, s.translate(err, "checking tags")
		}
		if found != len(entry.TagIDs) {
			return 0, errors.Mark(vault.ErrUnknownTag, 0)
		}
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		s.dialect.rebind("INSERT INTO vault (user_id, question, answer) VALUES (?, ?, ?) RETURNING id"),
		userID, entry.Question, entry.Answer,
	).Scan(&id)
	if err != nil {
		return 0, s.translate(err, "adding entry")
	}

	for _, tagID := range entry.TagIDs {
		_, err := tx.ExecContext(ctx,
			s.dialect.rebind("INSERT INTO question_tags (question_id, tag_id) VALUES (?, ?)"), id, tagID)
		if err != nil {
			return 0, s.translate(err, "tagging entry")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, s.translate(err, "adding entry")
	}
	return id, nil
}

func (s *Store) Entries(ctx context.Context, limit, offset int) ([]vault.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryEntries(ctx,
		"SELECT id, user_id, question, answer FROM vault ORDER BY id DESC LIMIT ? OFFSET ?",
		limit, offset)
}

func (s *Store) SearchEntries(ctx context.Context, q string) ([]vault.Entry, error) {
	term := "%" + escapeLike(strings.ToLower(q)) + "%"
	return s.queryEntries(ctx,
		`SELECT id, user_id, question, answer FROM vault
		WHERE LOWER(question) LIKE ? ESCAPE '\' OR LOWER(answer) LIKE ? ESCAPE '\'
		ORDER BY id DESC`,
		term, term)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]vault.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, s.translate(err, "listing entries")
	}
	defer rows.Close()

	entries := []vault.Entry{}
	index := map[int64]int{}
	for rows.Next() {
		var e vault.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Question, &e.Answer); err != nil {
			return nil, s.translate(err, "listing entries")
		}
		e.Tags = []vault.Tag{}
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.translate(err, "listing entries")
	}
	if len(entries) == 0 {
		return entries, nil
	}

	if err := s.attachTags(ctx, entries, index); err != nil {
		return nil, err
	}
	return entries, nil
}

// attachTags loads the tags of the given entries in a single query.
func (s *Store) attachTags(ctx context.Context, entries []vault.Entry, index map[int64]int) error {
	args := make([]any, len(entries))
	for i, e := range entries {
		args[i] = e.ID
	}
	query := s.dialect.rebind(`SELECT qt.question_id, t.id, t.name, t.type
		FROM question_tags qt JOIN tags t ON t.id = qt.tag_id
		WHERE qt.question_id IN (` + placeholders(len(args)) + `)
		ORDER BY t.id`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.translate(err, "listing entry tags")
	}
	defer rows.Close()

	for rows.Next() {
		var entryID int64
		var t vault.Tag
		if err := rows.Scan(&entryID, &t.ID, &t.Name, &t.Type); err != nil {
			return s.translate(err, "listing entry tags")
		}
		if i, ok := index[entryID]; ok {
			entries[i].Tags = append(entries[i].Tags, t)
		}
	}
	if err := rows.Err(); err != nil {
		return s.translate(err, "listing entry tags")
	}
	return nil
}

func unsupported(driver string) error {
	return errors.Codef(codes.InvalidArgument, "unsupported database driver %q, expected postgres or sqlite3", driver)
}

func (s *Store) translate(err error, action string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errors.Mark(vault.ErrNotFound, 1)
	case s.dialect.isUnique(err):
		return errors.Mark(vault.ErrAlreadyExists, 1)
	}
	return errors.WrapPrefix(err, action, 1).WithCode(codes.Internal)
}
