package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"dhastore/backend/internal/domain"
	"dhastore/backend/internal/store"
	"dhastore/backend/internal/xid"
)

// DefaultUndoLimit is how many of the most recent sales stay undoable.
const DefaultUndoLimit = 50

// ProductLookup resolves a product id at sale time.
type ProductLookup interface {
	Lookup(id string) (domain.Product, bool)
}

// Ledger owns the append-only sale log and the bounded undo stack.
//
// It is not safe for concurrent use; callers serialize access. Mutating
// methods apply their in-memory effect first and then persist; an error
// wrapping store.ErrPersistenceUnavailable reports a write that did not
// reach any medium while the in-memory change stands.
type Ledger struct {
	docs      store.Documents
	products  ProductLookup
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	undoLimit int

	sales []domain.SaleEvent
	undo  []string

	// Set while a stored document could not be read. A stale document is
	// never written, so an outage at startup cannot clobber stored history.
	salesStale bool
	undoStale  bool
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

func WithUndoLimit(limit int) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.undoLimit = limit
		}
	}
}

func New(docs store.Documents, products ProductLookup, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		docs:      docs,
		products:  products,
		logger:    logger.Named("ledger"),
		now:       time.Now,
		newID:     func() string { return xid.New("sale") },
		undoLimit: DefaultUndoLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load restores the log and undo stack. Absent documents start empty; an
// oversized stored stack keeps only its most recent entries.
//
// A document that cannot be read leaves the ledger running in memory and
// returns an error wrapping store.ErrPersistenceUnavailable. Later
// mutations retry the read and append their in-memory work after the
// stored history once it is reachable.
func (l *Ledger) Load(ctx context.Context) error {
	l.sales, l.undo = nil, nil
	err := errors.Join(l.loadSales(ctx), l.loadUndo(ctx))
	l.logger.Info("ledger loaded", zap.Int("sales", len(l.sales)), zap.Int("undo_depth", len(l.undo)), zap.Bool("degraded", err != nil))
	return err
}

func (l *Ledger) loadSales(ctx context.Context) error {
	var stored []domain.SaleEvent
	if _, err := l.docs.Get(ctx, store.KeySales, &stored); err != nil {
		l.salesStale = true
		return err
	}
	l.sales = append(stored, l.sales...)
	l.salesStale = false
	return nil
}

func (l *Ledger) loadUndo(ctx context.Context) error {
	var stored []string
	if _, err := l.docs.Get(ctx, store.KeyUndo, &stored); err != nil {
		l.undoStale = true
		return err
	}
	l.undo = append(stored, l.undo...)
	if over := len(l.undo) - l.undoLimit; over > 0 {
		l.undo = slices.Delete(l.undo, 0, over)
	}
	l.undoStale = false
	return nil
}

// refresh retries reading whichever documents were unreadable.
func (l *Ledger) refresh(ctx context.Context) {
	if l.salesStale {
		_ = l.loadSales(ctx)
	}
	if l.undoStale {
		_ = l.loadUndo(ctx)
	}
}

// Record appends a sale of one unit of productID, snapshotting the
// product's name, cost and price. Unknown products record nothing and
// return domain.ErrProductNotFound.
func (l *Ledger) Record(ctx context.Context, productID string) (domain.SaleEvent, error) {
	product, ok := l.products.Lookup(productID)
	if !ok {
		return domain.SaleEvent{}, domain.ErrProductNotFound
	}
	l.refresh(ctx)

	sale := domain.SaleEvent{
		ID:          l.newID(),
		ProductID:   product.ID,
		ProductName: product.Name,
		Cost:        product.Cost,
		Price:       product.Price,
		Quantity:    1,
		Timestamp:   l.now(),
	}

	l.sales = append(l.sales, sale)
	salesErr := l.persistSales(ctx)

	l.undo = append(l.undo, sale.ID)
	if over := len(l.undo) - l.undoLimit; over > 0 {
		// The evicted sale stays in the log; it only loses undo eligibility.
		l.undo = slices.Delete(l.undo, 0, over)
	}
	undoErr := l.persistUndo(ctx)

	return sale, errors.Join(salesErr, undoErr)
}

// Undo pops the most recent undo entry and removes the matching sale. The
// bool is false when nothing was removed: an empty stack returns
// domain.ErrNothingToUndo, while an entry whose sale is already gone is
// silently discarded.
func (l *Ledger) Undo(ctx context.Context) (domain.SaleEvent, bool, error) {
	l.refresh(ctx)
	if len(l.undo) == 0 {
		return domain.SaleEvent{}, false, domain.ErrNothingToUndo
	}

	saleID := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]
	undoErr := l.persistUndo(ctx)

	idx := slices.IndexFunc(l.sales, func(s domain.SaleEvent) bool { return s.ID == saleID })
	if idx < 0 {
		l.logger.Debug("discarded orphaned undo entry", zap.String("sale_id", saleID))
		return domain.SaleEvent{}, false, undoErr
	}

	sale := l.sales[idx]
	l.sales = slices.Delete(l.sales, idx, idx+1)
	salesErr := l.persistSales(ctx)

	return sale, true, errors.Join(undoErr, salesErr)
}

// ClearAll empties the log and the undo stack. It cannot be undone.
func (l *Ledger) ClearAll(ctx context.Context) error {
	l.sales = nil
	l.undo = nil
	l.salesStale, l.undoStale = false, false
	return errors.Join(l.persistSales(ctx), l.persistUndo(ctx))
}

// Replace swaps in an imported log and resets the undo stack.
func (l *Ledger) Replace(ctx context.Context, sales []domain.SaleEvent) error {
	l.sales = slices.Clone(sales)
	l.salesStale = false
	return errors.Join(l.persistSales(ctx), l.ResetUndo(ctx))
}

// ResetUndo empties the undo stack without touching the log.
func (l *Ledger) ResetUndo(ctx context.Context) error {
	l.undo = nil
	l.undoStale = false
	return l.persistUndo(ctx)
}

// Sales returns a copy of the log in append order.
func (l *Ledger) Sales() []domain.SaleEvent {
	return slices.Clone(l.sales)
}

// UndoStack returns a copy of the undo stack, oldest first.
func (l *Ledger) UndoStack() []string {
	return slices.Clone(l.undo)
}

func (l *Ledger) UndoDepth() int {
	return len(l.undo)
}

// Flush rewrites both documents from memory. Documents that still cannot be
// read are left as stored.
func (l *Ledger) Flush(ctx context.Context) error {
	l.refresh(ctx)
	return errors.Join(l.persistSales(ctx), l.persistUndo(ctx))
}

func (l *Ledger) persistSales(ctx context.Context) error {
	if l.salesStale {
		return fmt.Errorf("%w: stored sale log unreadable, change kept in memory", store.ErrPersistenceUnavailable)
	}
	sales := l.sales
	if sales == nil {
		sales = []domain.SaleEvent{}
	}
	if err := l.docs.Put(ctx, store.KeySales, sales); err != nil {
		l.logger.Warn("sales not persisted", zap.Int("sales", len(sales)), zap.Error(err))
		return err
	}
	return nil
}

func (l *Ledger) persistUndo(ctx context.Context) error {
	if l.undoStale {
		return fmt.Errorf("%w: stored undo history unreadable, change kept in memory", store.ErrPersistenceUnavailable)
	}
	undo := l.undo
	if undo == nil {
		undo = []string{}
	}
	if err := l.docs.Put(ctx, store.KeyUndo, undo); err != nil {
		l.logger.Warn("undo stack not persisted", zap.Int("depth", len(undo)), zap.Error(err))
		return err
	}
	return nil
}
