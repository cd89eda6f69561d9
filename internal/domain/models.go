package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers so exported backups stay readable by
	// the browser client.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
	Color string          `json:"color"`
	Image *string         `json:"image"`
}

type ProductSaveRequest struct {
	Name  string          `json:"name"`
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
	Color string          `json:"color"`
	Image *string         `json:"image,omitempty"`
}

// SaleEvent is immutable once recorded. ProductName, Cost and Price are
// copies taken at sale time.
type SaleEvent struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Cost        decimal.Decimal `json:"cost"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

type RecordSaleRequest struct {
	ProductID string `json:"product_id"`
}

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

type Summary struct {
	Period    Period          `json:"period"`
	Start     time.Time       `json:"start"`
	ItemCount int             `json:"item_count"`
	Revenue   decimal.Decimal `json:"revenue"`
	Cost      decimal.Decimal `json:"cost"`
	Profit    decimal.Decimal `json:"profit"`
	Recent    []SaleEvent     `json:"recent"`
}

type StatsResponse struct {
	Summary
	RevenueDisplay string `json:"revenue_display"`
	CostDisplay    string `json:"cost_display"`
	ProfitDisplay  string `json:"profit_display"`
	ProfitPositive bool   `json:"profit_positive"`
}

type UndoStatus struct {
	Depth   int  `json:"depth"`
	CanUndo bool `json:"can_undo"`
}

type UndoResponse struct {
	Undone bool       `json:"undone"`
	Sale   *SaleEvent `json:"sale,omitempty"`
}

// ExportBundle is the backup file shape. On import a nil collection means
// the key was absent and the corresponding state stays untouched.
type ExportBundle struct {
	Products   *[]Product   `json:"products,omitempty"`
	Sales      *[]SaleEvent `json:"sales,omitempty"`
	ExportDate string       `json:"exportDate,omitempty"`
}

type ImportResponse struct {
	ProductsReplaced bool `json:"products_replaced"`
	SalesReplaced    bool `json:"sales_replaced"`
	Products         int  `json:"products"`
	Sales            int  `json:"sales"`
}

// Event is published after each state change.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

const (
	EventSaleRecorded   = "sale.recorded"
	EventSaleUndone     = "sale.undone"
	EventSalesCleared   = "sales.cleared"
	EventDataImported   = "data.imported"
	EventProductSaved   = "product.saved"
	EventProductDeleted = "product.deleted"
)
