package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dhastore/backend/internal/aggregate"
	"dhastore/backend/internal/catalog"
	"dhastore/backend/internal/domain"
	"dhastore/backend/internal/events"
	"dhastore/backend/internal/ledger"
	"dhastore/backend/internal/store"
)

const exportDateLayout = "2006-01-02T15:04:05.000Z07:00"

// Service is the single owner of catalog and ledger state. Every exported
// method holds one lock for its whole duration, so operations never
// interleave.
//
// Mutations apply in memory first. When the result is accompanied by an
// error wrapping store.ErrPersistenceUnavailable the change stands but was
// not durably written.
type Service struct {
	mu sync.Mutex

	catalog   *catalog.Catalog
	ledger    *ledger.Ledger
	publisher events.Publisher
	logger    *zap.Logger

	now         func() time.Time
	location    *time.Location
	recentLimit int
	ledgerOpts  []ledger.Option
}

type Option func(*Service)

// WithClock sets the time source for sale timestamps and stats windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
			s.ledgerOpts = append(s.ledgerOpts, ledger.WithClock(now))
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithUndoLimit(limit int) Option {
	return func(s *Service) {
		s.ledgerOpts = append(s.ledgerOpts, ledger.WithUndoLimit(limit))
	}
}

func WithRecentLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.recentLimit = limit
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func New(docs store.Documents, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		publisher:   events.Noop{},
		logger:      logger.Named("service"),
		now:         time.Now,
		location:    time.Local,
		recentLimit: aggregate.DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.catalog = catalog.New(docs, logger)
	s.ledger = ledger.New(docs, s.catalog, logger, s.ledgerOpts...)
	return s
}

// Load restores state from the store, seeding the default catalog on first
// run. A returned error means the store could not be read or the seed could
// not be persisted; the service is still usable and retries reads before
// its next write.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.catalog.Load(ctx), s.ledger.Load(ctx))
}

func (s *Service) ListProducts() []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.List()
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductSaveRequest) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.catalog.Add(ctx, req)
	if err != nil && !isDegraded(err) {
		return domain.Product{}, err
	}
	s.publish(ctx, domain.EventProductSaved, product)
	return product, err
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductSaveRequest) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.catalog.Update(ctx, id, req)
	if err != nil && !isDegraded(err) {
		return domain.Product{}, err
	}
	s.publish(ctx, domain.EventProductSaved, product)
	return product, err
}

// DeleteProduct removes a product from the catalog. Recorded sales keep
// their snapshots.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.catalog.Delete(ctx, id)
	if err != nil && !isDegraded(err) {
		return err
	}
	s.publish(ctx, domain.EventProductDeleted, map[string]string{"id": id})
	return err
}

func (s *Service) RecordSale(ctx context.Context, productID string) (domain.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.ledger.Record(ctx, productID)
	if err != nil && !isDegraded(err) {
		return domain.SaleEvent{}, err
	}
	s.logger.Debug("sale recorded", zap.String("sale_id", sale.ID), zap.String("product_id", sale.ProductID))
	s.publish(ctx, domain.EventSaleRecorded, sale)
	return sale, err
}

// UndoLastSale reverses the most recent undoable sale. An empty history
// returns domain.ErrNothingToUndo; a stale history entry is consumed and
// reported as Undone=false.
func (s *Service) UndoLastSale(ctx context.Context) (domain.UndoResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, undone, err := s.ledger.Undo(ctx)
	if err != nil && !isDegraded(err) {
		return domain.UndoResponse{}, err
	}
	if !undone {
		return domain.UndoResponse{Undone: false}, err
	}
	s.publish(ctx, domain.EventSaleUndone, sale)
	return domain.UndoResponse{Undone: true, Sale: &sale}, err
}

func (s *Service) UndoStatus() domain.UndoStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := s.ledger.UndoDepth()
	return domain.UndoStatus{Depth: depth, CanUndo: depth > 0}
}

// ClearAllSales wipes the sale log and undo history. Callers are expected
// to have confirmed the request.
func (s *Service) ClearAllSales(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := len(s.ledger.Sales())
	err := s.ledger.ClearAll(ctx)
	s.logger.Info("sales cleared", zap.Int("sales", cleared))
	s.publish(ctx, domain.EventSalesCleared, map[string]int{"sales": cleared})
	return err
}

func (s *Service) Sales() []domain.SaleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Sales()
}

// Stats summarizes the sale log for the named period ("" means daily).
func (s *Service) Stats(period string) (domain.StatsResponse, error) {
	p, err := aggregate.ParsePeriod(period)
	if err != nil {
		return domain.StatsResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary, err := aggregate.Summarize(s.ledger.Sales(), p, s.now().In(s.location), s.recentLimit)
	if err != nil {
		return domain.StatsResponse{}, err
	}
	return aggregate.Present(summary), nil
}

// Export returns the full backup bundle and its download file name.
func (s *Service) Export() (domain.ExportBundle, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := s.catalog.List()
	sales := s.ledger.Sales()
	if sales == nil {
		sales = []domain.SaleEvent{}
	}
	now := s.now().UTC()
	bundle := domain.ExportBundle{
		Products:   &products,
		Sales:      &sales,
		ExportDate: now.Format(exportDateLayout),
	}
	return bundle, ExportFilename(now)
}

func ExportFilename(at time.Time) string {
	return fmt.Sprintf("dhastore-backup-%s.json", at.UTC().Format("2006-01-02"))
}

// Import replaces the collections present in raw. An absent or null key
// leaves that collection untouched. The undo history is always reset. Input
// that fails validation returns domain.ErrMalformedImport and changes
// nothing.
func (s *Service) Import(ctx context.Context, raw []byte) (domain.ImportResponse, error) {
	bundle, err := ParseImport(raw)
	if err != nil {
		return domain.ImportResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var resp domain.ImportResponse
	var errs []error
	if bundle.Products != nil {
		errs = append(errs, s.catalog.Replace(ctx, *bundle.Products))
		resp.ProductsReplaced = true
	}
	if bundle.Sales != nil {
		errs = append(errs, s.ledger.Replace(ctx, *bundle.Sales))
		resp.SalesReplaced = true
	} else {
		errs = append(errs, s.ledger.ResetUndo(ctx))
	}
	resp.Products = len(s.catalog.List())
	resp.Sales = len(s.ledger.Sales())

	s.logger.Info("data imported",
		zap.Bool("products_replaced", resp.ProductsReplaced),
		zap.Bool("sales_replaced", resp.SalesReplaced),
		zap.Int("products", resp.Products),
		zap.Int("sales", resp.Sales),
	)
	s.publish(ctx, domain.EventDataImported, resp)
	return resp, errors.Join(errs...)
}

// ParseImport decodes and validates a backup file without touching state.
func ParseImport(raw []byte) (domain.ExportBundle, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.ExportBundle{}, malformed("not a JSON object: %v", err)
	}
	if doc == nil {
		return domain.ExportBundle{}, malformed("not a JSON object")
	}

	var bundle domain.ExportBundle
	if field, ok := doc["products"]; ok && !isNull(field) {
		var products []domain.Product
		if err := json.Unmarshal(field, &products); err != nil {
			return domain.ExportBundle{}, malformed("products: %v", err)
		}
		for i, p := range products {
			if p.ID == "" {
				return domain.ExportBundle{}, malformed("products[%d]: missing id", i)
			}
			if p.Cost.IsNegative() || p.Price.IsNegative() {
				return domain.ExportBundle{}, malformed("products[%d]: negative amount", i)
			}
		}
		if products == nil {
			products = []domain.Product{}
		}
		bundle.Products = &products
	}
	if field, ok := doc["sales"]; ok && !isNull(field) {
		var sales []domain.SaleEvent
		if err := json.Unmarshal(field, &sales); err != nil {
			return domain.ExportBundle{}, malformed("sales: %v", err)
		}
		for i, sale := range sales {
			if sale.ID == "" {
				return domain.ExportBundle{}, malformed("sales[%d]: missing id", i)
			}
			if sale.Cost.IsNegative() || sale.Price.IsNegative() {
				return domain.ExportBundle{}, malformed("sales[%d]: negative amount", i)
			}
			if sale.Quantity < 1 {
				return domain.ExportBundle{}, malformed("sales[%d]: quantity must be positive", i)
			}
		}
		if sales == nil {
			sales = []domain.SaleEvent{}
		}
		bundle.Sales = &sales
	}
	return bundle, nil
}

// Flush rewrites every document from memory, typically on shutdown.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.catalog.Flush(ctx), s.ledger.Flush(ctx))
}

func (s *Service) Close(ctx context.Context) error {
	return errors.Join(s.Flush(ctx), s.publisher.Close())
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	s.publisher.Publish(ctx, domain.Event{
		Type:       eventType,
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	})
}

func isDegraded(err error) bool {
	return errors.Is(err, store.ErrPersistenceUnavailable)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedImport, fmt.Sprintf(format, args...))
}
