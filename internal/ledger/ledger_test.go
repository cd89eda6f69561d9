package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dhastore/backend/internal/domain"
	"dhastore/backend/internal/store"
	"dhastore/backend/internal/store/memory"
)

// stubCatalog is a mutable in-memory ProductLookup.
type stubCatalog map[string]domain.Product

func (c stubCatalog) Lookup(id string) (domain.Product, bool) {
	p, ok := c[id]
	return p, ok
}

type fixture struct {
	ledger    *Ledger
	docs      *store.Replicated
	primary   *memory.Medium
	secondary *memory.Medium
	catalog   stubCatalog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	primary := memory.New("primary")
	secondary := memory.New("secondary")
	docs := store.NewReplicated(primary, secondary, zaptest.NewLogger(t))
	catalog := stubCatalog{
		"coffee": {ID: "coffee", Name: "Coffee", Cost: decimal.RequireFromString("1.50"), Price: decimal.RequireFromString("4.00")},
		"tea":    {ID: "tea", Name: "Tea", Cost: decimal.RequireFromString("0.80"), Price: decimal.RequireFromString("3.00")},
	}

	seq := 0
	base := []Option{WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("sale-%03d", seq)
	})}
	l := New(docs, catalog, zaptest.NewLogger(t), append(base, opts...)...)
	return &fixture{ledger: l, docs: docs, primary: primary, secondary: secondary, catalog: catalog}
}

func TestRecordSnapshotsProduct(t *testing.T) {
	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	sale, err := f.ledger.Record(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, "sale-001", sale.ID)
	assert.Equal(t, "coffee", sale.ProductID)
	assert.Equal(t, "Coffee", sale.ProductName)
	assert.Equal(t, 1, sale.Quantity)
	assert.Equal(t, at, sale.Timestamp)

	// Editing the product afterwards must not alter history.
	edited := f.catalog["coffee"]
	edited.Name = "Espresso"
	edited.Price = decimal.RequireFromString("9.99")
	edited.Cost = decimal.RequireFromString("5.00")
	f.catalog["coffee"] = edited

	_, err = f.ledger.Record(ctx, "coffee")
	require.NoError(t, err)

	sales := f.ledger.Sales()
	require.Len(t, sales, 2)
	assert.Equal(t, "Coffee", sales[0].ProductName)
	assert.True(t, sales[0].Price.Equal(decimal.RequireFromString("4.00")))
	assert.True(t, sales[0].Cost.Equal(decimal.RequireFromString("1.50")))
	assert.Equal(t, "Espresso", sales[1].ProductName)
	assert.True(t, sales[1].Price.Equal(decimal.RequireFromString("9.99")))

	delete(f.catalog, "coffee")
	assert.Equal(t, "Coffee", f.ledger.Sales()[0].ProductName)
}

func TestRecordUnknownProductIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, "tea")
	require.NoError(t, err)

	_, err = f.ledger.Record(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Len(t, f.ledger.Sales(), 1)
	assert.Equal(t, 1, f.ledger.UndoDepth())
}

func TestLogLengthMatchesSuccessfulRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := []string{"coffee", "nope", "tea", "coffee", "", "tea"}
	ok := 0
	for _, id := range ids {
		if _, err := f.ledger.Record(ctx, id); err == nil {
			ok++
		}
	}
	assert.Equal(t, 4, ok)
	assert.Len(t, f.ledger.Sales(), ok)
}

func TestUndoStackIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < DefaultUndoLimit+1; i++ {
		_, err := f.ledger.Record(ctx, "coffee")
		require.NoError(t, err)
		require.LessOrEqual(t, f.ledger.UndoDepth(), DefaultUndoLimit)
	}

	stack := f.ledger.UndoStack()
	assert.Len(t, stack, DefaultUndoLimit)
	assert.NotContains(t, stack, "sale-001")
	assert.Equal(t, "sale-002", stack[0])
	assert.Equal(t, "sale-051", stack[len(stack)-1])

	sales := f.ledger.Sales()
	assert.Len(t, sales, DefaultUndoLimit+1)
	assert.Equal(t, "sale-001", sales[0].ID)
}

func TestUndoLimitOption(t *testing.T) {
	f := newFixture(t, WithUndoLimit(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.ledger.Record(ctx, "tea")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"sale-002", "sale-003"}, f.ledger.UndoStack())
}

func TestRecordThenUndoRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"coffee", "tea"} {
		_, err := f.ledger.Record(ctx, id)
		require.NoError(t, err)
	}
	salesBefore := f.ledger.Sales()
	stackBefore := f.ledger.UndoStack()

	recorded, err := f.ledger.Record(ctx, "coffee")
	require.NoError(t, err)

	undone, ok, err := f.ledger.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, recorded, undone)
	assert.Equal(t, salesBefore, f.ledger.Sales())
	assert.Equal(t, stackBefore, f.ledger.UndoStack())
}

func TestUndoIsLIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"coffee", "tea"} {
		_, err := f.ledger.Record(ctx, id)
		require.NoError(t, err)
	}

	first, ok, err := f.ledger.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tea", first.ProductName)

	second, ok, err := f.ledger.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Coffee", second.ProductName)
	assert.Empty(t, f.ledger.Sales())
}

func TestUndoOnEmptyStackIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok, err := f.ledger.Undo(ctx)
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)
	assert.False(t, ok)
	assert.Empty(t, f.ledger.Sales())
	assert.Zero(t, f.ledger.UndoDepth())
}

func TestUndoAfterEvictionLeavesOldSales(t *testing.T) {
	f := newFixture(t, WithUndoLimit(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.ledger.Record(ctx, "coffee")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, ok, err := f.ledger.Undo(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, _, err := f.ledger.Undo(ctx)
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)

	sales := f.ledger.Sales()
	require.Len(t, sales, 1)
	assert.Equal(t, "sale-001", sales[0].ID)
}

func TestClearAllThenUndoIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, "coffee")
	require.NoError(t, err)
	require.NoError(t, f.ledger.ClearAll(ctx))
	assert.Empty(t, f.ledger.Sales())
	assert.Zero(t, f.ledger.UndoDepth())

	_, ok, err := f.ledger.Undo(ctx)
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)
	assert.False(t, ok)
}

func TestUndoDiscardsOrphanedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, "coffee")
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, "tea")
	require.NoError(t, err)

	// The log is edited out of band; the stack still references sale-002.
	f.ledger.sales = f.ledger.sales[:1]

	_, ok, err := f.ledger.Undo(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.ledger.UndoDepth())
	assert.Len(t, f.ledger.Sales(), 1)

	undone, ok, err := f.ledger.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sale-001", undone.ID)
}

func TestReplaceResetsUndo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, "coffee")
	require.NoError(t, err)

	imported := []domain.SaleEvent{{ID: "imp-1", ProductID: "x", ProductName: "X", Quantity: 1}}
	require.NoError(t, f.ledger.Replace(ctx, imported))
	assert.Equal(t, imported, f.ledger.Sales())
	assert.Zero(t, f.ledger.UndoDepth())

	imported[0].ProductName = "mutated"
	assert.Equal(t, "X", f.ledger.Sales()[0].ProductName)
}

func TestStatePersistsAcrossLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"coffee", "tea", "coffee"} {
		_, err := f.ledger.Record(ctx, id)
		require.NoError(t, err)
	}
	_, _, err := f.ledger.Undo(ctx)
	require.NoError(t, err)

	reloaded := New(f.docs, f.catalog, zaptest.NewLogger(t))
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []string{"sale-001", "sale-002"}, reloaded.UndoStack())
	require.Len(t, reloaded.Sales(), 2)
	assert.True(t, reloaded.Sales()[0].Price.Equal(decimal.RequireFromString("4")))
	assert.True(t, reloaded.Sales()[0].Timestamp.Equal(f.ledger.Sales()[0].Timestamp))
}

func TestLoadFallsBackToSecondaryAndTrimsStack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stack := make([]string, 60)
	for i := range stack {
		stack[i] = fmt.Sprintf("old-%02d", i)
	}
	require.NoError(t, f.docs.Put(ctx, store.KeyUndo, stack))
	f.primary.Evict()

	require.NoError(t, f.ledger.Load(ctx))
	got := f.ledger.UndoStack()
	assert.Len(t, got, DefaultUndoLimit)
	assert.Equal(t, "old-10", got[0])
	assert.Empty(t, f.ledger.Sales())
}

func TestRecordAppliesInMemoryWhenPersistenceUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.primary.SetUnavailable(true)
	f.secondary.SetUnavailable(true)

	sale, err := f.ledger.Record(ctx, "coffee")
	assert.ErrorIs(t, err, store.ErrPersistenceUnavailable)
	assert.Equal(t, "sale-001", sale.ID)
	assert.Len(t, f.ledger.Sales(), 1)
	assert.Equal(t, 1, f.ledger.UndoDepth())

	_, ok, err := f.ledger.Undo(ctx)
	assert.ErrorIs(t, err, store.ErrPersistenceUnavailable)
	assert.True(t, ok)
	assert.Empty(t, f.ledger.Sales())
}

func TestRecordSurvivesPrimaryOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.primary.SetUnavailable(true)

	_, err := f.ledger.Record(ctx, "tea")
	require.NoError(t, err)

	f.primary.SetUnavailable(false)
	f.primary.Evict()

	reloaded := New(f.docs, f.catalog, zaptest.NewLogger(t))
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.Sales(), 1)
	assert.Equal(t, 1, reloaded.UndoDepth())
}

func TestUnreadableLoadKeepsStoredHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored := []domain.SaleEvent{{ID: "old-1", ProductID: "coffee", ProductName: "Coffee", Quantity: 1, Timestamp: time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)}}
	require.NoError(t, f.docs.Put(ctx, store.KeySales, stored))
	require.NoError(t, f.docs.Put(ctx, store.KeyUndo, []string{"old-1"}))

	f.primary.SetUnavailable(true)
	f.secondary.SetUnavailable(true)

	seq := 0
	restarted := New(f.docs, f.catalog, zaptest.NewLogger(t), WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("new-%03d", seq)
	}))
	assert.ErrorIs(t, restarted.Load(ctx), store.ErrPersistenceUnavailable)
	assert.Empty(t, restarted.Sales())

	_, err := restarted.Record(ctx, "coffee")
	assert.ErrorIs(t, err, store.ErrPersistenceUnavailable)

	f.primary.SetUnavailable(false)
	f.secondary.SetUnavailable(false)

	// Still unreadable documents are never written.
	var persisted []domain.SaleEvent
	found, err := f.docs.Get(ctx, store.KeySales, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, persisted, 1)

	_, err = restarted.Record(ctx, "tea")
	require.NoError(t, err)

	ids := func(sales []domain.SaleEvent) []string {
		out := make([]string, 0, len(sales))
		for _, s := range sales {
			out = append(out, s.ID)
		}
		return out
	}
	want := []string{"old-1", "new-001", "new-002"}
	assert.Equal(t, want, ids(restarted.Sales()))
	assert.Equal(t, want, restarted.UndoStack())

	persisted = nil
	_, err = f.docs.Get(ctx, store.KeySales, &persisted)
	require.NoError(t, err)
	assert.Equal(t, want, ids(persisted))

	var undo []string
	_, err = f.docs.Get(ctx, store.KeyUndo, &undo)
	require.NoError(t, err)
	assert.Equal(t, want, undo)
}

func TestClearAllOverwritesUnreadableHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.docs.Put(ctx, store.KeySales, []domain.SaleEvent{{ID: "old-1", Quantity: 1}}))

	f.primary.SetUnavailable(true)
	f.secondary.SetUnavailable(true)
	assert.Error(t, f.ledger.Load(ctx))

	f.primary.SetUnavailable(false)
	f.secondary.SetUnavailable(false)
	require.NoError(t, f.ledger.ClearAll(ctx))

	var persisted []domain.SaleEvent
	found, err := f.docs.Get(ctx, store.KeySales, &persisted)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, persisted)
}

func TestReplacePersistsImportedLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imported := []domain.SaleEvent{{ID: "imp-1", ProductID: "x", ProductName: "X", Quantity: 1}}
	require.NoError(t, f.ledger.Replace(ctx, imported))

	reloaded := New(f.docs, f.catalog, zaptest.NewLogger(t))
	require.NoError(t, reloaded.Load(ctx))
	require.Len(t, reloaded.Sales(), 1)
	assert.Equal(t, "imp-1", reloaded.Sales()[0].ID)
}
