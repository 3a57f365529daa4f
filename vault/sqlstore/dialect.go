package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// dialect captures the differences between the supported databases.
type dialect struct {
	driver     string
	primaryKey string
	positional bool // Placeholders are $1, $2, ... rather than ?.
	isUnique   func(error) bool
}

var dialects = map[string]dialect{
	"postgres": {
		driver:     "postgres",
		primaryKey: "BIGSERIAL PRIMARY KEY",
		positional: true,
		isUnique: func(err error) bool {
			var pqErr *pq.Error
			return errors.As(err, &pqErr) && pqErr.Code == "23505"
		},
	},
	"sqlite3": {
		driver:     "sqlite3",
		primaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
		isUnique: func(err error) bool {
			var sqlErr sqlite3.Error
			return errors.As(err, &sqlErr) &&
				(sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
		},
	},
}

// rebind rewrites ? placeholders for dialects that use positional ones.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + d.primaryKey + `,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id ` + d.primaryKey + `,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vault (
			id ` + d.primaryKey + `,
			user_id BIGINT NOT NULL REFERENCES users(id),
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS question_tags (
			question_id BIGINT NOT NULL REFERENCES vault(id),
			tag_id BIGINT NOT NULL REFERENCES tags(id),
			PRIMARY KEY (question_id, tag_id)
		)`,
	}
}

// escapeLike escapes the LIKE wildcards in s, using \ as the escape
// character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// placeholders returns n comma separated ? placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
