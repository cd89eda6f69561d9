package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dhastore/backend/internal/domain"
	"dhastore/backend/internal/store"
	"dhastore/backend/internal/xid"
)

const defaultColor = "#3498db"

// DefaultProducts seeds an empty catalog.
func DefaultProducts() []domain.Product {
	return []domain.Product{
		{ID: "1", Name: "Coffee", Cost: decimal.RequireFromString("1.50"), Price: decimal.RequireFromString("4.00"), Color: "#8B4513"},
		{ID: "2", Name: "Tea", Cost: decimal.RequireFromString("0.80"), Price: decimal.RequireFromString("3.00"), Color: "#228B22"},
		{ID: "3", Name: "Sandwich", Cost: decimal.RequireFromString("3.00"), Price: decimal.RequireFromString("7.50"), Color: "#DAA520"},
		{ID: "4", Name: "Cake", Cost: decimal.RequireFromString("2.50"), Price: decimal.RequireFromString("5.50"), Color: "#FF69B4"},
		{ID: "5", Name: "Juice", Cost: decimal.RequireFromString("1.00"), Price: decimal.RequireFromString("3.50"), Color: "#FF6347"},
		{ID: "6", Name: "Cookie", Cost: decimal.RequireFromString("0.50"), Price: decimal.RequireFromString("2.00"), Color: "#D2691E"},
	}
}

// Catalog is the ordered product collection. It is not safe for concurrent
// use; the service runs every operation on a single control path.
type Catalog struct {
	docs     store.Documents
	logger   *zap.Logger
	products []domain.Product

	// stale is set while the stored catalog could not be read. The
	// in-memory catalog is then never written over it.
	stale bool
}

func New(docs store.Documents, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{docs: docs, logger: logger.Named("catalog")}
}

// Load restores the catalog, seeding and persisting the defaults when the
// stored catalog is absent or empty. When the store cannot be read the
// defaults are served from memory only and the error is returned.
func (c *Catalog) Load(ctx context.Context) error {
	var products []domain.Product
	found, err := c.docs.Get(ctx, store.KeyProducts, &products)
	if err != nil {
		c.products = DefaultProducts()
		c.stale = true
		c.logger.Warn("stored catalog unreadable, serving defaults from memory", zap.Error(err))
		return err
	}
	c.stale = false
	if found && len(products) > 0 {
		c.products = products
		return nil
	}

	c.products = DefaultProducts()
	c.logger.Info("seeded default catalog", zap.Int("products", len(c.products)))
	return c.persist(ctx)
}

// refresh retries a Load that could not read the store. A stored catalog
// found now replaces the one served in the meantime.
func (c *Catalog) refresh(ctx context.Context) {
	if !c.stale {
		return
	}
	var products []domain.Product
	found, err := c.docs.Get(ctx, store.KeyProducts, &products)
	if err != nil {
		return
	}
	c.stale = false
	if found && len(products) > 0 {
		c.logger.Info("stored catalog readable again", zap.Int("products", len(products)))
		c.products = products
	}
}

func (c *Catalog) List() []domain.Product {
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Lookup resolves a product id to a copy of the current product.
func (c *Catalog) Lookup(id string) (domain.Product, bool) {
	idx := c.indexOf(id)
	if idx < 0 {
		return domain.Product{}, false
	}
	return c.products[idx], true
}

// Add appends a new product. A returned ErrPersistenceUnavailable means the
// product was added in memory only.
func (c *Catalog) Add(ctx context.Context, req domain.ProductSaveRequest) (domain.Product, error) {
	req, err := normalize(req)
	if err != nil {
		return domain.Product{}, err
	}
	c.refresh(ctx)

	product := domain.Product{
		ID:    xid.New("prod"),
		Name:  req.Name,
		Cost:  req.Cost,
		Price: req.Price,
		Color: req.Color,
		Image: req.Image,
	}
	c.products = append(c.products, product)
	return product, c.persist(ctx)
}

// Update edits a product in place. Sales already recorded keep their own
// snapshot. A nil image keeps the current one.
func (c *Catalog) Update(ctx context.Context, id string, req domain.ProductSaveRequest) (domain.Product, error) {
	c.refresh(ctx)
	idx := c.indexOf(id)
	if idx < 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	req, err := normalize(req)
	if err != nil {
		return domain.Product{}, err
	}

	updated := c.products[idx]
	updated.Name = req.Name
	updated.Cost = req.Cost
	updated.Price = req.Price
	updated.Color = req.Color
	if req.Image != nil {
		updated.Image = req.Image
	}
	c.products[idx] = updated
	return updated, c.persist(ctx)
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.refresh(ctx)
	idx := c.indexOf(id)
	if idx < 0 {
		return domain.ErrProductNotFound
	}
	c.products = slices.Delete(c.products, idx, idx+1)
	return c.persist(ctx)
}

// Replace swaps the whole catalog, as an import does.
func (c *Catalog) Replace(ctx context.Context, products []domain.Product) error {
	c.products = make([]domain.Product, len(products))
	copy(c.products, products)
	c.stale = false
	return c.persist(ctx)
}

// Flush rewrites the current catalog to the store.
func (c *Catalog) Flush(ctx context.Context) error {
	c.refresh(ctx)
	return c.persist(ctx)
}

func (c *Catalog) indexOf(id string) int {
	for i, p := range c.products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (c *Catalog) persist(ctx context.Context) error {
	if c.stale {
		return fmt.Errorf("%w: stored catalog unreadable, change kept in memory", store.ErrPersistenceUnavailable)
	}
	if err := c.docs.Put(ctx, store.KeyProducts, c.products); err != nil {
		c.logger.Warn("catalog not persisted", zap.Error(err))
		return err
	}
	return nil
}

func normalize(req domain.ProductSaveRequest) (domain.ProductSaveRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Color = strings.TrimSpace(req.Color)
	if req.Name == "" {
		return req, fmt.Errorf("%w: name is required", domain.ErrInvalidProduct)
	}
	if req.Cost.IsNegative() || req.Price.IsNegative() {
		return req, fmt.Errorf("%w: cost and price must not be negative", domain.ErrInvalidProduct)
	}
	if req.Color == "" {
		req.Color = defaultColor
	}
	return req, nil
}
