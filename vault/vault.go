// Package vault defines the shared Q&A knowledge base: users, tags and the
// question/answer entries they submit. Every signed in user can search and
// browse every entry.
package vault

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dpup/qavault/errors"
	"google.golang.org/grpc/codes"
)

var (
	ErrNotFound      = errors.NewC("not found", codes.NotFound)
	ErrAlreadyExists = errors.NewC("already exists", codes.AlreadyExists)

	ErrQuestionRequired = errors.NewC("question and answer are required", codes.InvalidArgument).
		WithPublicMessage("Question and answer are required")
	ErrTagRequired = errors.NewC("tag name and type are required", codes.InvalidArgument).
		WithPublicMessage("Tag name and type are required")
	ErrUnknownTag = errors.NewC("unknown tag", codes.InvalidArgument).
		WithPublicMessage("Unknown tag")
)

// User is an account, identified by the email of its Google identity.
type User struct {
	ID       int64
	Email    string
	FullName string
}

// Tag labels entries. Names are unique.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// NewTag is a request to create a tag.
type NewTag struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Normalize trims the fields and checks both are present.
func (t NewTag) Normalize() (NewTag, error) {
	t.Name = strings.TrimSpace(t.Name)
	t.Type = strings.TrimSpace(t.Type)
	if t.Name == "" || t.Type == "" {
		return t, errors.Mark(ErrTagRequired, 0)
	}
	return t, nil
}

// NewEntry is a request to add a question and its answer.
type NewEntry struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	TagIDs   []int64 `json:"tag_ids,omitempty"`
}

// Normalize trims the text fields, drops duplicate tags and checks the
// question and answer are present.
func (e NewEntry) Normalize() (NewEntry, error) {
	e.Question = strings.TrimSpace(e.Question)
	e.Answer = strings.TrimSpace(e.Answer)
	if e.Question == "" || e.Answer == "" {
		return e, errors.Mark(ErrQuestionRequired, 0)
	}
	if len(e.TagIDs) > 0 {
		seen := make(map[int64]bool, len(e.TagIDs))
		ids := make([]int64, 0, len(e.TagIDs))
		for _, id := range e.TagIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		e.TagIDs = ids
	}
	return e, nil
}

// Entry is a stored question with its answer and tags.
type Entry struct {
	ID       int64
	UserID   int64
	Question string
	Answer   string
	Tags     []Tag
}

// entryJSON is the wire form of an Entry: the answer is nested in metadata so
// that more fields can be added without changing the top level shape.
type entryJSON struct {
	ID       int64         `json:"id"`
	Question string        `json:"question"`
	Metadata entryMetadata `json:"metadata"`
	Tags     []Tag         `json:"tags"`
}

type entryMetadata struct {
	Answer string `json:"answer"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	return json.Marshal(entryJSON{
		ID:       e.ID,
		Question: e.Question,
		Metadata: entryMetadata{Answer: e.Answer},
		Tags:     tags,
	})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var w entryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Entry{
		ID:       w.ID,
		Question: w.Question,
		Answer:   w.Metadata.Answer,
		Tags:     w.Tags,
	}
	return nil
}

// Store persists the vault.
type Store interface {
	// UserByEmail returns ErrNotFound for unknown emails.
	UserByEmail(ctx context.Context, email string) (User, error)

	// CreateUser returns ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, email, fullName string) (User, error)

	// CreateTag returns ErrAlreadyExists if the name is taken.
	CreateTag(ctx context.Context, tag NewTag) (Tag, error)

	Tags(ctx context.Context) ([]Tag, error)

	// AddEntry returns the new entry's ID. Unknown tag IDs fail with
	// ErrUnknownTag and nothing is written.
	AddEntry(ctx context.Context, userID int64, entry NewEntry) (int64, error)

	// Entries lists entries, newest first.
	Entries(ctx context.Context, limit, offset int) ([]Entry, error)

	// SearchEntries returns entries whose question or answer contains q,
	// ignoring case, newest first.
	SearchEntries(ctx context.Context, q string) ([]Entry, error)

	Close() error
}
