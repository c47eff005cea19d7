package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Discount kinds supported by a campaign. A cart campaign discounts the cart
// total, a delivery campaign discounts the delivery fee.
const (
	DiscountKindCart     = "cart"
	DiscountKindDelivery = "delivery"
)

// IsValidKind reports whether the given string is a known discount kind.
func IsValidKind(kind string) bool {
	return kind == DiscountKindCart || kind == DiscountKindDelivery
}

// ValidKinds returns all known discount kinds.
func ValidKinds() []string {
	return []string{DiscountKindCart, DiscountKindDelivery}
}

// Campaign represents a promotional discount campaign with a shared budget
// and a per-customer daily transaction cap.
type Campaign struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	DiscountKind         string          `json:"discount_kind"`
	DiscountValue        decimal.Decimal `json:"discount_value"`
	StartDate            time.Time       `json:"start_date"`
	EndDate              time.Time       `json:"end_date"`
	TotalBudget          decimal.Decimal `json:"total_budget"`
	ConsumedBudget       decimal.Decimal `json:"consumed_budget"`
	MaxDailyTransactions int             `json:"max_transactions_per_customer_per_day"`
	IsActive             bool            `json:"is_active"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// RemainingBudget returns total_budget - consumed_budget.
func (c *Campaign) RemainingBudget() decimal.Decimal {
	return c.TotalBudget.Sub(c.ConsumedBudget)
}

// CheckValidity verifies the campaign is active and that the given day falls
// inside the campaign's date range (inclusive on both ends). Returns
// ErrCampaignInactive or ErrCampaignExpired on failure.
func (c *Campaign) CheckValidity(day time.Time) error {
	if !c.IsActive {
		return ErrCampaignInactive
	}
	day = DateOf(day)
	if day.Before(DateOf(c.StartDate)) || day.After(DateOf(c.EndDate)) {
		return ErrCampaignExpired
	}
	return nil
}

// ApplicableDiscount computes the discount this campaign can grant against
// the given order amount: the minimum of the campaign's discount value, the
// order amount, and the remaining budget, floored at zero. A zero order
// amount always yields a zero discount.
func (c *Campaign) ApplicableDiscount(orderAmount decimal.Decimal) decimal.Decimal {
	discount := decimal.Min(c.DiscountValue, orderAmount, c.RemainingBudget())
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// EligibleCampaign is a campaign applicable to a customer together with the
// customer's usage count for today.
type EligibleCampaign struct {
	Campaign
	TodayUsageCount int
}

// HasDailyQuota reports whether the customer may still use the campaign today.
func (e *EligibleCampaign) HasDailyQuota() bool {
	return e.TodayUsageCount < e.MaxDailyTransactions
}

// Today returns the current UTC calendar date at midnight.
func Today() time.Time {
	return DateOf(time.Now().UTC())
}

// DateOf truncates a timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
