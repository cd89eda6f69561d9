// Package aggregate computes windowed sales statistics. Every function is a
// pure function of its inputs; the log is recomputed from scratch on each
// call rather than maintained incrementally.
package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dhastore/backend/internal/domain"
)

// DefaultRecentLimit caps Summary.Recent.
const DefaultRecentLimit = 20

// ParsePeriod accepts daily, weekly or monthly, case-insensitively. An
// empty string selects daily.
func ParsePeriod(raw string) (domain.Period, error) {
	switch p := domain.Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return domain.PeriodDaily, nil
	case domain.PeriodDaily, domain.PeriodWeekly, domain.PeriodMonthly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, raw)
	}
}

// WindowStart returns the inclusive lower bound of period relative to now,
// in now's location. Weeks start on Sunday.
func WindowStart(period domain.Period, now time.Time) (time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case domain.PeriodDaily:
		return midnight, nil
	case domain.PeriodWeekly:
		return midnight.AddDate(0, 0, -int(now.Weekday())), nil
	case domain.PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, period)
	}
}

// Summarize totals every sale with timestamp >= the window start. Recent
// lists the included sales newest first, capped at recentLimit (20 when
// recentLimit < 1).
func Summarize(sales []domain.SaleEvent, period domain.Period, now time.Time, recentLimit int) (domain.Summary, error) {
	start, err := WindowStart(period, now)
	if err != nil {
		return domain.Summary{}, err
	}
	if recentLimit < 1 {
		recentLimit = DefaultRecentLimit
	}

	summary := domain.Summary{
		Period:  period,
		Start:   start,
		Revenue: decimal.Zero,
		Cost:    decimal.Zero,
		Recent:  make([]domain.SaleEvent, 0, recentLimit),
	}

	included := make([]int, 0, len(sales))
	for i, sale := range sales {
		if sale.Timestamp.Before(start) {
			continue
		}
		included = append(included, i)

		qty := decimal.NewFromInt(int64(sale.Quantity))
		summary.ItemCount += sale.Quantity
		summary.Revenue = summary.Revenue.Add(sale.Price.Mul(qty))
		summary.Cost = summary.Cost.Add(sale.Cost.Mul(qty))
	}
	summary.Profit = summary.Revenue.Sub(summary.Cost)

	for i := len(included) - 1; i >= 0 && len(summary.Recent) < recentLimit; i-- {
		summary.Recent = append(summary.Recent, sales[included[i]])
	}
	return summary, nil
}

// FormatCurrency renders an amount with two decimals, rounding half away
// from zero.
func FormatCurrency(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "-$" + amount.Neg().StringFixed(2)
	}
	return "$" + amount.StringFixed(2)
}

// Present decorates a summary with display strings.
func Present(summary domain.Summary) domain.StatsResponse {
	return domain.StatsResponse{
		Summary:        summary,
		RevenueDisplay: FormatCurrency(summary.Revenue),
		CostDisplay:    FormatCurrency(summary.Cost),
		ProfitDisplay:  FormatCurrency(summary.Profit),
		ProfitPositive: !summary.Profit.IsNegative(),
	}
}
