// Package storagetests provides common acceptance tests for storage.Store
// implementations.
package storagetests

import (
	"context"
	"testing"

	"github.com/dpup/qavault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Kind int

const (
	KindFAQ          Kind = 1
	KindHowTo        Kind = 2
	KindReference    Kind = 3
	KindPolicy       Kind = 4
	KindGlossary     Kind = 5
	KindTroubleshoot Kind = 6
)

type Bookmark struct {
	ID    string
	Title string
	Kind  Kind
	Owner string `json:"owner,omitempty"`

	// Ptr fields allow filtering on zero values.
	Votes *int
}

func (b Bookmark) PK() string {
	return b.ID
}

type Reviewer struct {
	ID   string
	Name string
}

func (r Reviewer) PK() string {
	return r.ID
}

type BadModel struct {
	ID    string
	Cycle *BadModel
}

func (b BadModel) PK() string {
	return b.ID
}

func pint(i int) *int {
	return &i
}

// Run executes the acceptance suite against stores produced by newStore. A
// fresh store is requested for every case.
func Run(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("TestCreateReadRoundTrip", func(t *testing.T) {
		faq := Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ}
		howTo := Bookmark{ID: "2", Title: "Rotate signing keys", Kind: KindHowTo}

		faq2 := Bookmark{}
		howTo2 := Bookmark{}

		store := newStore()
		err := store.Create(ctx, faq, howTo)
		require.Nil(t, err, "unexpected error creating records")

		err = store.Read(ctx, "1", &faq2)
		require.Nil(t, err, "unexpected error reading faq")
		assert.Equal(t, faq, faq2)

		err = store.Read(ctx, "2", &howTo2)
		require.Nil(t, err, "unexpected error reading how-to")
		assert.Equal(t, howTo, howTo2)
	})

	t.Run("TestCreateConflict", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx, Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ})
		require.Nil(t, err, "unexpected error creating records")

		err = store.Create(ctx, Bookmark{ID: "1", Title: "Reset a password", Kind: KindPolicy})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists, "expected conflict error")
	})

	t.Run("TestSameKeyDifferentModels", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Bookmark{ID: "1", Title: "Glossary"}))
		require.NoError(t, store.Create(ctx, Reviewer{ID: "1", Name: "Ada"}))

		r := Reviewer{}
		require.NoError(t, store.Read(ctx, "1", &r))
		assert.Equal(t, "Ada", r.Name)
	})

	t.Run("TestCreateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		store := newStore()
		err := store.Create(ctx, bm)
		assert.ErrorIs(t, err, storage.ErrInvalidModel, "expected invalid model error")
	})

	t.Run("TestReadNotFound", func(t *testing.T) {
		store := newStore()
		err := store.Read(ctx, "1", &Bookmark{})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = store.Create(ctx, &Bookmark{ID: "1", Title: "Reset a password"})
		require.Nil(t, err, "unexpected error creating records")

		err = store.Read(ctx, "2", &Bookmark{})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TestReadWithNilPointer", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx, Bookmark{ID: "1", Title: "Reset a password"})
		require.Nil(t, err, "unexpected error creating records")

		var b *Bookmark
		err = store.Read(ctx, "1", b)
		assert.ErrorIs(t, err, storage.ErrNilModel, "expected nil model error")
	})

	t.Run("TestUpdate", func(t *testing.T) {
		b := Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ}
		b2 := Bookmark{}

		store := newStore()
		err := store.Create(ctx, b)
		require.Nil(t, err, "unexpected error creating records")

		b.Kind = KindPolicy
		b.Owner = "ada@example.com"
		err = store.Update(ctx, b)
		require.Nil(t, err, "unexpected error updating record")

		err = store.Read(ctx, "1", &b2)
		require.Nil(t, err, "unexpected error reading record")
		assert.Equal(t, b, b2)
	})

	t.Run("TestUpdateNotExists", func(t *testing.T) {
		store := newStore()
		err := store.Update(ctx, Bookmark{ID: "1", Title: "Reset a password"})
		assert.ErrorIs(t, err, storage.ErrNotFound, "expected not found error")
	})

	t.Run("TestUpdateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		store := newStore()
		err := store.Update(ctx, bm)
		assert.ErrorIs(t, err, storage.ErrInvalidModel, "expected invalid model error")
	})

	t.Run("TestUpsert", func(t *testing.T) {
		faq := Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ}

		store := newStore()
		err := store.Create(ctx, faq)
		require.Nil(t, err, "unexpected error creating records")

		faq.Kind = KindReference
		howTo := Bookmark{ID: "2", Title: "Rotate signing keys", Kind: KindHowTo}
		err = store.Upsert(ctx, faq, howTo)
		require.Nil(t, err, "unexpected error upserting records")

		faq2 := Bookmark{}
		err = store.Read(ctx, "1", &faq2)
		require.Nil(t, err, "unexpected error reading faq")
		assert.Equal(t, faq, faq2)

		howTo2 := Bookmark{}
		err = store.Read(ctx, "2", &howTo2)
		require.Nil(t, err, "unexpected error reading how-to")
		assert.Equal(t, howTo, howTo2)
	})

	t.Run("TestUpsertReplacesRecord", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Upsert(ctx, Bookmark{ID: "1", Title: "Old", Votes: pint(3), Owner: "ada@example.com"}))
		require.NoError(t, store.Upsert(ctx, Bookmark{ID: "1", Title: "New"}))

		b := Bookmark{}
		require.NoError(t, store.Read(ctx, "1", &b))
		assert.Equal(t, Bookmark{ID: "1", Title: "New"}, b, "upsert should overwrite, not merge")
	})

	t.Run("TestUpsertBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm

		store := newStore()
		err := store.Upsert(ctx, bm)
		assert.ErrorIs(t, err, storage.ErrInvalidModel, "expected invalid model error")
	})

	t.Run("TestDelete", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx, &Bookmark{ID: "4", Title: "On-call rota"})
		assert.Nil(t, err)

		exists, err := store.Exists(ctx, "4", &Bookmark{})
		assert.True(t, exists)
		assert.Nil(t, err)

		err = store.Delete(ctx, &Bookmark{ID: "4"})
		assert.Nil(t, err)

		exists, err = store.Exists(ctx, "4", &Bookmark{})
		assert.False(t, exists)
		assert.Nil(t, err)

		err = store.Delete(ctx, &Bookmark{ID: "4"})
		assert.ErrorIs(t, err, storage.ErrNotFound, "expected not found error")
	})

	t.Run("TestListErrorCases", func(t *testing.T) {
		store := newStore()

		out := []Bookmark{}

		tests := []struct {
			name    string
			models  any
			filter  storage.Model
			wantErr error
		}{
			{"Ok", &out, Bookmark{}, nil},
			{"Not a slice", Bookmark{}, Bookmark{}, storage.ErrSliceRequired},
			{"Not a pointer", out, Bookmark{}, storage.ErrSliceRequired},
			{"Mismatched type", &out, Reviewer{}, storage.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := store.List(ctx, tt.models, tt.filter); err != tt.wantErr {
					t.Errorf("store.List() error = %v, wantErr %v", err, tt.wantErr)
				}
			})
		}
	})

	t.Run("TestList", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx,
			Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ},
			Bookmark{ID: "2", Title: "Rotate signing keys", Kind: KindHowTo},
			Bookmark{ID: "3", Title: "Data retention", Kind: KindPolicy},
		)
		assert.Nil(t, err)

		actual := []Bookmark{}
		err = store.List(ctx, &actual, Bookmark{})
		assert.Nil(t, err)

		expected := []Bookmark{
			{ID: "1", Title: "Reset a password", Kind: KindFAQ},
			{ID: "2", Title: "Rotate signing keys", Kind: KindHowTo},
			{ID: "3", Title: "Data retention", Kind: KindPolicy},
		}
		assert.Equal(t, expected, actual)
	})

	t.Run("TestListFilter", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx,
			Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ},
			Bookmark{ID: "2", Title: "Rotate signing keys", Kind: KindHowTo},
			Bookmark{ID: "3", Title: "Data retention", Kind: KindPolicy},
			Bookmark{ID: "4", Title: "VPN drops", Kind: KindTroubleshoot},
			Bookmark{ID: "5", Title: "Expense limits", Kind: KindFAQ},
			Bookmark{ID: "6", Title: "Printer jams", Kind: KindTroubleshoot},
			Bookmark{ID: "7", Title: "Idempotency", Kind: KindGlossary},
		)
		assert.Nil(t, err)

		actual := []Bookmark{}
		err = store.List(ctx, &actual, Bookmark{Kind: KindFAQ})
		assert.Nil(t, err)

		expected := []Bookmark{
			{ID: "1", Title: "Reset a password", Kind: KindFAQ},
			{ID: "5", Title: "Expense limits", Kind: KindFAQ},
		}
		assert.Equal(t, expected, actual)
	})

	t.Run("TestListFilterTaggedField", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx,
			Bookmark{ID: "1", Title: "Reset a password", Owner: "ada@example.com"},
			Bookmark{ID: "2", Title: "Rotate signing keys", Owner: "grace@example.com"},
			Bookmark{ID: "3", Title: "Data retention", Owner: "ada@example.com"},
		)
		assert.Nil(t, err)

		actual := []Bookmark{}
		err = store.List(ctx, &actual, Bookmark{Owner: "ada@example.com"})
		assert.Nil(t, err)

		expected := []Bookmark{
			{ID: "1", Title: "Reset a password", Owner: "ada@example.com"},
			{ID: "3", Title: "Data retention", Owner: "ada@example.com"},
		}
		assert.Equal(t, expected, actual)
	})

	t.Run("TestListFilterZero", func(t *testing.T) {
		store := newStore()
		err := store.Create(ctx,
			Bookmark{ID: "1", Title: "Reset a password", Kind: KindFAQ, Votes: pint(4)},
			Bookmark{ID: "2", Title: "Rotate signing keys", Kind: KindHowTo, Votes: pint(3)},
			Bookmark{ID: "3", Title: "Data retention", Kind: KindPolicy, Votes: pint(0)},
			Bookmark{ID: "4", Title: "VPN drops", Kind: KindTroubleshoot, Votes: pint(0)},
			Bookmark{ID: "5", Title: "Expense limits", Kind: KindFAQ},
		)
		assert.Nil(t, err)

		actual := []Bookmark{}
		err = store.List(ctx, &actual, Bookmark{Votes: pint(0)})
		assert.Nil(t, err)

		expected := []Bookmark{
			{ID: "3", Title: "Data retention", Kind: KindPolicy, Votes: pint(0)},
			{ID: "4", Title: "VPN drops", Kind: KindTroubleshoot, Votes: pint(0)},
		}
		assert.Equal(t, expected, actual)
	})

	t.Run("TestExists", func(t *testing.T) {
		store := newStore()
		exists, err := store.Exists(ctx, "3", &Bookmark{})
		assert.False(t, exists)
		assert.Nil(t, err)

		err = store.Create(ctx, &Bookmark{ID: "3", Title: "Data retention"})
		assert.Nil(t, err)

		exists, err = store.Exists(ctx, "3", &Bookmark{})
		assert.True(t, exists)
		assert.Nil(t, err)
	})
}
