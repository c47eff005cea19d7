package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/utafrali/promo-service/internal/domain"
	"github.com/utafrali/promo-service/internal/event"
	"github.com/utafrali/promo-service/internal/repository"
	apperrors "github.com/utafrali/promo-service/pkg/errors"
)

// DiscountService implements discount resolution (read) and application (write).
type DiscountService struct {
	customers repository.CustomerRepository
	campaigns repository.CampaignRepository
	producer  *event.Producer
	logger    *slog.Logger
}

// NewDiscountService creates a new discount service.
func NewDiscountService(
	customers repository.CustomerRepository,
	campaigns repository.CampaignRepository,
	producer *event.Producer,
	logger *slog.Logger,
) *DiscountService {
	return &DiscountService{
		customers: customers,
		campaigns: campaigns,
		producer:  producer,
		logger:    logger,
	}
}

// ResolveInput holds the parameters for resolving applicable discounts.
type ResolveInput struct {
	CustomerID  string
	CartTotal   decimal.Decimal
	DeliveryFee decimal.Decimal
}

// ApplicableCampaign is a campaign a customer can apply right now, with the
// discount it would grant and its remaining budget.
type ApplicableCampaign struct {
	Campaign           domain.Campaign
	ApplicableDiscount decimal.Decimal
	RemainingBudget    decimal.Decimal
}

// Resolution is the result of a discount resolution.
type Resolution struct {
	Customer    *domain.Customer
	CartTotal   decimal.Decimal
	DeliveryFee decimal.Decimal
	Campaigns   []ApplicableCampaign
}

// ApplyInput holds the parameters for applying campaign discounts.
type ApplyInput struct {
	CustomerID  string
	CartTotal   decimal.Decimal
	DeliveryFee decimal.Decimal
	CampaignIDs []string
}

// AppliedDiscount records one campaign's contribution to an application.
type AppliedDiscount struct {
	CampaignID      string
	CampaignName    string
	DiscountKind    string
	DiscountApplied decimal.Decimal
}

// ApplyResult is the outcome of a successful discount application.
type ApplyResult struct {
	Customer              *domain.Customer
	OriginalCartTotal     decimal.Decimal
	OriginalDeliveryFee   decimal.Decimal
	TotalCartDiscount     decimal.Decimal
	TotalDeliveryDiscount decimal.Decimal
	FinalCartTotal        decimal.Decimal
	FinalDeliveryFee      decimal.Decimal
	FinalAmount           decimal.Decimal
	Applied               []AppliedDiscount
}

// Resolve returns every campaign the customer could apply today, with the
// discount each would grant against the given amounts. Read-only.
func (s *DiscountService) Resolve(ctx context.Context, input *ResolveInput) (*Resolution, error) {
	if input.CartTotal.IsNegative() {
		return nil, apperrors.InvalidInput("cart_total must not be negative")
	}
	if input.DeliveryFee.IsNegative() {
		return nil, apperrors.InvalidInput("delivery_fee must not be negative")
	}

	customer, err := s.customers.GetByID(ctx, input.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	today := domain.Today()
	candidates, err := s.campaigns.EligibleForCustomer(ctx, customer.ID, today)
	if err != nil {
		return nil, fmt.Errorf("load eligible campaigns: %w", err)
	}

	applicable := make([]ApplicableCampaign, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasDailyQuota() {
			continue
		}

		amount := input.CartTotal
		if c.DiscountKind == domain.DiscountKindDelivery {
			amount = input.DeliveryFee
		}

		applicable = append(applicable, ApplicableCampaign{
			Campaign:           c.Campaign,
			ApplicableDiscount: c.ApplicableDiscount(amount),
			RemainingBudget:    c.RemainingBudget(),
		})
	}

	return &Resolution{
		Customer:    customer,
		CartTotal:   input.CartTotal,
		DeliveryFee: input.DeliveryFee,
		Campaigns:   applicable,
	}, nil
}

// Apply consumes budget and daily quota for the requested campaigns in a
// single all-or-nothing transaction. Campaign rows are locked in ascending ID
// order and every precondition is re-validated under the lock; any rejection
// rolls the whole application back. Not idempotent: repeating a request
// consumes budget again.
func (s *DiscountService) Apply(ctx context.Context, input *ApplyInput) (*ApplyResult, error) {
	if input.CartTotal.IsNegative() {
		return nil, apperrors.InvalidInput("cart_total must not be negative")
	}
	if input.DeliveryFee.IsNegative() {
		return nil, apperrors.InvalidInput("delivery_fee must not be negative")
	}
	if len(input.CampaignIDs) == 0 {
		return nil, apperrors.InvalidInput("campaign_ids must not be empty")
	}

	customer, err := s.customers.GetByID(ctx, input.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	// Deduplicate and sort ascending so concurrent applications always lock
	// campaign rows in the same order.
	ids := dedupeSorted(input.CampaignIDs)

	today := domain.Today()
	remainingCart := input.CartTotal
	remainingDelivery := input.DeliveryFee
	var applied []AppliedDiscount

	err = s.campaigns.Consume(ctx, func(tx repository.ApplyTx) error {
		for _, id := range ids {
			c, err := tx.LockCampaign(ctx, id)
			if err != nil {
				return err
			}

			if err := c.CheckValidity(today); err != nil {
				return domain.Reject(c, err)
			}

			targeted, err := tx.IsTargeted(ctx, c.ID, customer.ID)
			if err != nil {
				return err
			}
			if !targeted {
				return domain.Reject(c, domain.ErrCustomerNotEligible)
			}

			usageCount, err := tx.UsageForUpdate(ctx, c.ID, customer.ID, today)
			if err != nil {
				return err
			}
			if usageCount >= c.MaxDailyTransactions {
				return domain.Reject(c, domain.ErrDailyLimitExceeded)
			}

			if !c.RemainingBudget().IsPositive() {
				return domain.Reject(c, domain.ErrBudgetExhausted)
			}

			amount := &remainingCart
			if c.DiscountKind == domain.DiscountKindDelivery {
				amount = &remainingDelivery
			}
			if !amount.IsPositive() {
				return domain.Reject(c, domain.ErrNothingToDiscount)
			}

			discount := c.ApplicableDiscount(*amount)

			if err := tx.AddConsumedBudget(ctx, c.ID, discount); err != nil {
				if errors.Is(err, domain.ErrBudgetExhausted) {
					return domain.Reject(c, domain.ErrBudgetExhausted)
				}
				return err
			}

			if err := tx.IncrementUsage(ctx, c.ID, customer.ID, today, c.MaxDailyTransactions); err != nil {
				if errors.Is(err, domain.ErrDailyLimitExceeded) {
					return domain.Reject(c, domain.ErrDailyLimitExceeded)
				}
				return err
			}

			*amount = amount.Sub(discount)
			applied = append(applied, AppliedDiscount{
				CampaignID:      c.ID,
				CampaignName:    c.Name,
				DiscountKind:    c.DiscountKind,
				DiscountApplied: discount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{
		Customer:              customer,
		OriginalCartTotal:     input.CartTotal,
		OriginalDeliveryFee:   input.DeliveryFee,
		TotalCartDiscount:     input.CartTotal.Sub(remainingCart),
		TotalDeliveryDiscount: input.DeliveryFee.Sub(remainingDelivery),
		FinalCartTotal:        remainingCart,
		FinalDeliveryFee:      remainingDelivery,
		Applied:               applied,
	}
	result.FinalAmount = result.FinalCartTotal.Add(result.FinalDeliveryFee)

	if err := s.producer.PublishDiscountApplied(ctx, customer, eventData(customer, result)); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.applied event",
			slog.String("customer_id", customer.ID),
			slog.String("error", err.Error()),
		)
		// Do not fail the operation if event publishing fails.
	}

	s.logger.InfoContext(ctx, "discounts applied",
		slog.String("customer_id", customer.ID),
		slog.Int("campaigns", len(applied)),
		slog.String("total_cart_discount", result.TotalCartDiscount.String()),
		slog.String("total_delivery_discount", result.TotalDeliveryDiscount.String()),
	)

	return result, nil
}

// eventData builds the discount.applied event payload from an apply result.
func eventData(customer *domain.Customer, result *ApplyResult) event.DiscountAppliedData {
	campaigns := make([]event.AppliedCampaignData, 0, len(result.Applied))
	for _, a := range result.Applied {
		campaigns = append(campaigns, event.AppliedCampaignData{
			CampaignID:      a.CampaignID,
			CampaignName:    a.CampaignName,
			DiscountKind:    a.DiscountKind,
			DiscountApplied: a.DiscountApplied.String(),
		})
	}
	return event.DiscountAppliedData{
		CustomerID:            customer.ID,
		TotalCartDiscount:     result.TotalCartDiscount.String(),
		TotalDeliveryDiscount: result.TotalDeliveryDiscount.String(),
		FinalAmount:           result.FinalAmount.String(),
		Campaigns:             campaigns,
	}
}

// dedupeSorted returns the unique IDs in ascending order.
func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
