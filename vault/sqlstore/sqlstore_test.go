package sqlstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dpup/qavault/vault"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_users(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, err := s.UserByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, vault.ErrNotFound)

	created, err := s.CreateUser(ctx, "ada@example.com", "Ada")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := s.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.CreateUser(ctx, "ada@example.com", "Someone Else")
	assert.ErrorIs(t, err, vault.ErrAlreadyExists)
}

func TestSQLite_tags(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	tags, err := s.Tags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)

	golang, err := s.CreateTag(ctx, vault.NewTag{Name: " go ", Type: "language"})
	require.NoError(t, err)
	assert.Equal(t, "go", golang.Name)

	_, err = s.CreateTag(ctx, vault.NewTag{Name: "go", Type: "topic"})
	assert.ErrorIs(t, err, vault.ErrAlreadyExists)

	_, err = s.CreateTag(ctx, vault.NewTag{Name: "   ", Type: "topic"})
	assert.ErrorIs(t, err, vault.ErrTagRequired)

	oncall, err := s.CreateTag(ctx, vault.NewTag{Name: "oncall", Type: "team"})
	require.NoError(t, err)

	tags, err = s.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vault.Tag{golang, oncall}, tags)
}

func TestSQLite_entries(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	ada, err := s.CreateUser(ctx, "ada@example.com", "Ada")
	require.NoError(t, err)
	grace, err := s.CreateUser(ctx, "grace@example.com", "Grace")
	require.NoError(t, err)
	golang, err := s.CreateTag(ctx, vault.NewTag{Name: "go", Type: "language"})
	require.NoError(t, err)
	oncall, err := s.CreateTag(ctx, vault.NewTag{Name: "oncall", Type: "team"})
	require.NoError(t, err)

	first, err := s.AddEntry(ctx, ada.ID, vault.NewEntry{
		Question: "How do I page the on-call engineer?",
		Answer:   "Use the PAGE command in chat.",
		TagIDs:   []int64{oncall.ID},
	})
	require.NoError(t, err)

	second, err := s.AddEntry(ctx, grace.ID, vault.NewEntry{
		Question: "Which Go version do we use?",
		Answer:   "The one in go.mod, currently 1.24. Discount is 100%_off.",
		TagIDs:   []int64{golang.ID, oncall.ID, golang.ID},
	})
	require.NoError(t, err)

	_, err = s.AddEntry(ctx, ada.ID, vault.NewEntry{Question: "  ", Answer: "x"})
	assert.ErrorIs(t, err, vault.ErrQuestionRequired)

	_, err = s.AddEntry(ctx, ada.ID, vault.NewEntry{Question: "q", Answer: "a", TagIDs: []int64{999}})
	assert.ErrorIs(t, err, vault.ErrUnknownTag)

	entries, err := s.Entries(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2, "failed inserts leave nothing behind")
	assert.Equal(t, second, entries[0].ID, "newest first")
	assert.Equal(t, []vault.Tag{golang, oncall}, entries[0].Tags)
	assert.Equal(t, grace.ID, entries[0].UserID)
	assert.Equal(t, first, entries[1].ID)
	assert.Equal(t, []vault.Tag{oncall}, entries[1].Tags)

	page, err := s.Entries(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first, page[0].ID)

	page, err = s.Entries(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	t.Run("search", func(t *testing.T) {
		tests := []struct {
			q    string
			want []int64
		}{
			{"on-call", []int64{first}},
			{"PAGE", []int64{first}},
			{"go", []int64{second}},
			{"GO VERSION", []int64{second}},
			{"in", []int64{second, first}},
			{"100%", []int64{second}},
			{"%", []int64{second}},
			{"_off", []int64{second}},
			{"kubernetes", nil},
		}
		for _, tt := range tests {
			results, err := s.SearchEntries(ctx, tt.q)
			require.NoError(t, err, tt.q)
			var ids []int64
			for _, e := range results {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids, "query %q", tt.q)
		}
	})
}

func TestNew_unsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), "mysql", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported database driver "mysql"`)
}

func TestRebind(t *testing.T) {
	pg := dialects["postgres"]
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))
	sqlite := dialects["sqlite3"]
	assert.Equal(t, "SELECT ?", sqlite.rebind("SELECT ?"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_off\\`, escapeLike(`100%_off\`))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s, err := Open(db, "postgres")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func TestPostgres_userByEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name FROM users WHERE email = $1")).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name"}).AddRow(7, "ada@example.com", "Ada"))

	u, err := s.UserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, vault.User{ID: 7, Email: "ada@example.com", FullName: "Ada"}, u)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name FROM users WHERE email = $1")).
		WithArgs("grace@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name"}))

	_, err = s.UserByEmail(context.Background(), "grace@example.com")
	assert.ErrorIs(t, err, vault.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_createUserConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id")).
		WithArgs("ada@example.com", "Ada").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateUser(context.Background(), "ada@example.com", "Ada")
	assert.ErrorIs(t, err, vault.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_addEntry(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tags WHERE id IN ($1, $2)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO vault (user_id, question, answer) VALUES ($1, $2, $3) RETURNING id")).
		WithArgs(int64(7), "Where are the runbooks?", "In the ops wiki.").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO question_tags (question_id, tag_id) VALUES ($1, $2)")).
		WithArgs(int64(42), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO question_tags (question_id, tag_id) VALUES ($1, $2)")).
		WithArgs(int64(42), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.AddEntry(context.Background(), 7, vault.NewEntry{
		Question: " Where are the runbooks? ",
		Answer:   "In the ops wiki.",
		TagIDs:   []int64{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_addEntryUnknownTag(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tags WHERE id IN ($1)")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err := s.AddEntry(context.Background(), 7, vault.NewEntry{Question: "q", Answer: "a", TagIDs: []int64{9}})
	assert.ErrorIs(t, err, vault.ErrUnknownTag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_search(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM vault\s+WHERE LOWER\(question\) LIKE \$1 .* OR LOWER\(answer\) LIKE \$2 .*ORDER BY id DESC`).
		WithArgs(`%50\%%`, `%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "question", "answer"}).
			AddRow(3, 7, "Expense limits?", "50% of the list price"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE qt.question_id IN ($1)")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"question_id", "id", "name", "type"}).
			AddRow(3, 1, "finance", "team"))

	entries, err := s.SearchEntries(context.Background(), "50%")
	require.NoError(t, err)
	assert.Equal(t, []vault.Entry{{
		ID:       3,
		UserID:   7,
		Question: "Expense limits?",
		Answer:   "50% of the list price",
		Tags:     []vault.Tag{{ID: 1, Name: "finance", Type: "team"}},
	}}, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
