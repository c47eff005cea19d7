package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/promo-service/internal/domain"
)

// CustomerRepository defines the persistence operations for customers.
type CustomerRepository interface {
	// GetByID retrieves a customer by ID. Returns apperrors.ErrNotFound if
	// no customer exists.
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
}

// CampaignRepository defines the persistence operations for campaigns and
// their budget consumption.
type CampaignRepository interface {
	// EligibleForCustomer returns the campaigns applicable to the customer on
	// the given day: active, inside their date range, targeting the customer,
	// and with budget remaining. Each result carries the customer's usage
	// count for that day. Ordered by campaign ID ascending.
	EligibleForCustomer(ctx context.Context, customerID string, day time.Time) ([]domain.EligibleCampaign, error)

	// Consume runs fn inside a single database transaction with a bounded
	// lock wait. If fn returns an error the transaction is rolled back and
	// the error returned; otherwise the transaction is committed.
	Consume(ctx context.Context, fn func(ApplyTx) error) error
}

// ApplyTx exposes the row-locking operations available inside a Consume
// transaction.
type ApplyTx interface {
	// LockCampaign loads a campaign row with SELECT ... FOR UPDATE.
	// Returns domain.ErrCampaignNotFound (wrapped in a RejectionError) when
	// the row does not exist and domain.ErrLockTimeout when the lock wait
	// exceeds the configured bound.
	LockCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// IsTargeted reports whether the campaign targets the customer.
	IsTargeted(ctx context.Context, campaignID, customerID string) (bool, error)

	// UsageForUpdate fetches-or-creates the (campaign, customer, day) usage
	// row and locks it, returning the current usage count.
	UsageForUpdate(ctx context.Context, campaignID, customerID string, day time.Time) (int, error)

	// AddConsumedBudget applies a relative budget update guarded by
	// consumed_budget + amount <= total_budget. Returns
	// domain.ErrBudgetExhausted when the guard rejects the update.
	AddConsumedBudget(ctx context.Context, campaignID string, amount decimal.Decimal) error

	// IncrementUsage applies a relative usage-count update guarded by
	// usage_count + 1 <= maxPerDay. Returns domain.ErrDailyLimitExceeded
	// when the guard rejects the update.
	IncrementUsage(ctx context.Context, campaignID, customerID string, day time.Time, maxPerDay int) error
}
