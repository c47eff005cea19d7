package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/promo-service/internal/domain"
	"github.com/utafrali/promo-service/internal/event"
	"github.com/utafrali/promo-service/internal/repository"
	apperrors "github.com/utafrali/promo-service/pkg/errors"
	pkgkafka "github.com/utafrali/promo-service/pkg/kafka"
)

type mockCustomerRepository struct {
	mock.Mock
}

func (m *mockCustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Customer), args.Error(1)
}

type mockCampaignRepository struct {
	mock.Mock

	// tx is handed to the Consume closure when the mocked Consume succeeds.
	tx repository.ApplyTx
}

func (m *mockCampaignRepository) EligibleForCustomer(ctx context.Context, customerID string, day time.Time) ([]domain.EligibleCampaign, error) {
	args := m.Called(ctx, customerID, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.EligibleCampaign), args.Error(1)
}

func (m *mockCampaignRepository) Consume(ctx context.Context, fn func(repository.ApplyTx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.tx)
}

type mockApplyTx struct {
	mock.Mock
}

func (m *mockApplyTx) LockCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockApplyTx) IsTargeted(ctx context.Context, campaignID, customerID string) (bool, error) {
	args := m.Called(ctx, campaignID, customerID)
	return args.Bool(0), args.Error(1)
}

func (m *mockApplyTx) UsageForUpdate(ctx context.Context, campaignID, customerID string, day time.Time) (int, error) {
	args := m.Called(ctx, campaignID, customerID, day)
	return args.Int(0), args.Error(1)
}

func (m *mockApplyTx) AddConsumedBudget(ctx context.Context, campaignID string, amount decimal.Decimal) error {
	args := m.Called(ctx, campaignID, amount)
	return args.Error(0)
}

func (m *mockApplyTx) IncrementUsage(ctx context.Context, campaignID, customerID string, day time.Time, maxPerDay int) error {
	args := m.Called(ctx, campaignID, customerID, day, maxPerDay)
	return args.Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestService(customers *mockCustomerRepository, campaigns *mockCampaignRepository) *DiscountService {
	logger := newTestLogger()
	// Kafka producer pointed at nothing; publish failures are logged, not fatal.
	kafkaProducer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig([]string{"localhost:9092"}), logger)
	producer := event.NewProducer(kafkaProducer, logger)
	return NewDiscountService(customers, campaigns, producer, logger)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	activeStart = time.Now().UTC().Add(-24 * time.Hour)
	activeEnd   = time.Now().UTC().Add(24 * time.Hour)
	pastStart   = time.Now().UTC().Add(-72 * time.Hour)
	pastEnd     = time.Now().UTC().Add(-48 * time.Hour)
)

func testCustomer() *domain.Customer {
	return &domain.Customer{
		ID:    "11111111-1111-1111-1111-111111111111",
		Name:  "Jordan Pratt",
		Email: "jordan@example.com",
	}
}

func cartCampaign(id, name string) *domain.Campaign {
	return &domain.Campaign{
		ID:                   id,
		Name:                 name,
		DiscountKind:         domain.DiscountKindCart,
		DiscountValue:        dec("50"),
		StartDate:            activeStart,
		EndDate:              activeEnd,
		TotalBudget:          dec("1000"),
		ConsumedBudget:       dec("0"),
		MaxDailyTransactions: 3,
		IsActive:             true,
	}
}

func deliveryCampaign(id, name string) *domain.Campaign {
	c := cartCampaign(id, name)
	c.DiscountKind = domain.DiscountKindDelivery
	c.DiscountValue = dec("10")
	return c
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	campaigns := new(mockCampaignRepository)
	svc := newTestService(customers, campaigns)

	eligible := []domain.EligibleCampaign{
		{Campaign: *cartCampaign("a", "Cart Promo"), TodayUsageCount: 0},
		{Campaign: *deliveryCampaign("b", "Free-ish Delivery"), TodayUsageCount: 0},
	}

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("EligibleForCustomer", ctx, customer.ID, mock.AnythingOfType("time.Time")).Return(eligible, nil)

	res, err := svc.Resolve(ctx, &ResolveInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		DeliveryFee: dec("7.50"),
	})

	require.NoError(t, err)
	require.Len(t, res.Campaigns, 2)

	// Cart campaign: min(50, 200, 1000) = 50.
	assert.Equal(t, "a", res.Campaigns[0].Campaign.ID)
	assert.True(t, res.Campaigns[0].ApplicableDiscount.Equal(dec("50")))
	assert.True(t, res.Campaigns[0].RemainingBudget.Equal(dec("1000")))

	// Delivery campaign: min(10, 7.50, 1000) = 7.50.
	assert.Equal(t, "b", res.Campaigns[1].Campaign.ID)
	assert.True(t, res.Campaigns[1].ApplicableDiscount.Equal(dec("7.50")))

	customers.AssertExpectations(t)
	campaigns.AssertExpectations(t)
}

func TestResolve_SkipsCampaignsWithoutDailyQuota(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	campaigns := new(mockCampaignRepository)
	svc := newTestService(customers, campaigns)

	exhausted := *cartCampaign("a", "Used Up")
	eligible := []domain.EligibleCampaign{
		{Campaign: exhausted, TodayUsageCount: exhausted.MaxDailyTransactions},
		{Campaign: *cartCampaign("b", "Still Good"), TodayUsageCount: 1},
	}

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("EligibleForCustomer", ctx, customer.ID, mock.AnythingOfType("time.Time")).Return(eligible, nil)

	res, err := svc.Resolve(ctx, &ResolveInput{
		CustomerID: customer.ID,
		CartTotal:  dec("200"),
	})

	require.NoError(t, err)
	require.Len(t, res.Campaigns, 1)
	assert.Equal(t, "b", res.Campaigns[0].Campaign.ID)

	campaigns.AssertExpectations(t)
}

func TestResolve_CustomerNotFound(t *testing.T) {
	ctx := context.Background()

	customers := new(mockCustomerRepository)
	campaigns := new(mockCampaignRepository)
	svc := newTestService(customers, campaigns)

	customers.On("GetByID", ctx, "missing").Return(nil, apperrors.NotFound("customer", "missing"))

	res, err := svc.Resolve(ctx, &ResolveInput{CustomerID: "missing", CartTotal: dec("10")})

	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	customers.AssertExpectations(t)
}

func TestResolve_NegativeAmounts(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(new(mockCustomerRepository), new(mockCampaignRepository))

	_, err := svc.Resolve(ctx, &ResolveInput{CustomerID: "x", CartTotal: dec("-1")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Resolve(ctx, &ResolveInput{CustomerID: "x", CartTotal: dec("1"), DeliveryFee: dec("-0.01")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	cart := cartCampaign("aaaa", "Cart Promo")
	delivery := deliveryCampaign("bbbb", "Delivery Promo")

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)

	for _, c := range []*domain.Campaign{cart, delivery} {
		tx.On("LockCampaign", ctx, c.ID).Return(c, nil)
		tx.On("IsTargeted", ctx, c.ID, customer.ID).Return(true, nil)
		tx.On("UsageForUpdate", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(0, nil)
		tx.On("IncrementUsage", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time"), c.MaxDailyTransactions).Return(nil)
	}
	tx.On("AddConsumedBudget", ctx, cart.ID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("50"))
	})).Return(nil)
	tx.On("AddConsumedBudget", ctx, delivery.ID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("7.50"))
	})).Return(nil)

	result, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		DeliveryFee: dec("7.50"),
		CampaignIDs: []string{cart.ID, delivery.ID},
	})

	require.NoError(t, err)
	require.Len(t, result.Applied, 2)
	assert.True(t, result.TotalCartDiscount.Equal(dec("50")))
	assert.True(t, result.TotalDeliveryDiscount.Equal(dec("7.50")))
	assert.True(t, result.FinalCartTotal.Equal(dec("150")))
	assert.True(t, result.FinalDeliveryFee.Equal(dec("0")))
	assert.True(t, result.FinalAmount.Equal(dec("150")))

	customers.AssertExpectations(t)
	campaigns.AssertExpectations(t)
	tx.AssertExpectations(t)
}

func TestApply_StacksCartCampaignsAgainstRemainingAmount(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	// First campaign takes 50 of a 60 cart; the second sees only 10 remaining.
	first := cartCampaign("aaaa", "First")
	second := cartCampaign("bbbb", "Second")

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)

	for _, c := range []*domain.Campaign{first, second} {
		tx.On("LockCampaign", ctx, c.ID).Return(c, nil)
		tx.On("IsTargeted", ctx, c.ID, customer.ID).Return(true, nil)
		tx.On("UsageForUpdate", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(0, nil)
		tx.On("IncrementUsage", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time"), c.MaxDailyTransactions).Return(nil)
	}
	tx.On("AddConsumedBudget", ctx, first.ID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("50"))
	})).Return(nil)
	tx.On("AddConsumedBudget", ctx, second.ID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("10"))
	})).Return(nil)

	result, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("60"),
		CampaignIDs: []string{first.ID, second.ID},
	})

	require.NoError(t, err)
	assert.True(t, result.TotalCartDiscount.Equal(dec("60")))
	assert.True(t, result.FinalCartTotal.Equal(dec("0")))

	tx.AssertExpectations(t)
}

func TestApply_LocksCampaignsInAscendingOrder(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	a := cartCampaign("aaaa", "A")
	b := cartCampaign("bbbb", "B")

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)

	for _, c := range []*domain.Campaign{a, b} {
		tx.On("LockCampaign", ctx, c.ID).Return(c, nil)
		tx.On("IsTargeted", ctx, c.ID, customer.ID).Return(true, nil)
		tx.On("UsageForUpdate", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(0, nil)
		tx.On("AddConsumedBudget", ctx, c.ID, mock.AnythingOfType("decimal.Decimal")).Return(nil)
		tx.On("IncrementUsage", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time"), c.MaxDailyTransactions).Return(nil)
	}

	// Unsorted input with a duplicate: locks must happen once each, ascending.
	_, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		CampaignIDs: []string{b.ID, a.ID, b.ID},
	})
	require.NoError(t, err)

	var lockOrder []string
	for _, call := range tx.Calls {
		if call.Method == "LockCampaign" {
			lockOrder = append(lockOrder, call.Arguments.String(1))
		}
	}
	assert.Equal(t, []string{"aaaa", "bbbb"}, lockOrder)
}

func TestApply_RejectionRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	good := cartCampaign("aaaa", "Good")
	limited := cartCampaign("bbbb", "Limited")
	limited.MaxDailyTransactions = 1

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)

	tx.On("LockCampaign", ctx, good.ID).Return(good, nil)
	tx.On("IsTargeted", ctx, good.ID, customer.ID).Return(true, nil)
	tx.On("UsageForUpdate", ctx, good.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(0, nil)
	tx.On("AddConsumedBudget", ctx, good.ID, mock.AnythingOfType("decimal.Decimal")).Return(nil)
	tx.On("IncrementUsage", ctx, good.ID, customer.ID, mock.AnythingOfType("time.Time"), good.MaxDailyTransactions).Return(nil)

	// Second campaign already at its daily cap.
	tx.On("LockCampaign", ctx, limited.ID).Return(limited, nil)
	tx.On("IsTargeted", ctx, limited.ID, customer.ID).Return(true, nil)
	tx.On("UsageForUpdate", ctx, limited.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(1, nil)

	result, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		CampaignIDs: []string{good.ID, limited.ID},
	})

	require.Error(t, err)
	assert.Nil(t, result)

	var rejection *domain.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, limited.ID, rejection.CampaignID)
	assert.ErrorIs(t, err, domain.ErrDailyLimitExceeded)
}

func TestApply_RejectionReasons(t *testing.T) {
	customer := testCustomer()

	inactive := cartCampaign("aaaa", "Inactive")
	inactive.IsActive = false

	expired := cartCampaign("aaaa", "Expired")
	expired.StartDate = pastStart
	expired.EndDate = pastEnd

	exhausted := cartCampaign("aaaa", "Exhausted")
	exhausted.ConsumedBudget = exhausted.TotalBudget

	tests := []struct {
		name     string
		campaign *domain.Campaign
		targeted bool
		usage    int
		reason   error
	}{
		{
			name:     "inactive campaign",
			campaign: inactive,
			reason:   domain.ErrCampaignInactive,
		},
		{
			name:     "campaign outside date range",
			campaign: expired,
			reason:   domain.ErrCampaignExpired,
		},
		{
			name:     "customer not targeted",
			campaign: cartCampaign("aaaa", "Untargeted"),
			targeted: false,
			usage:    -1,
			reason:   domain.ErrCustomerNotEligible,
		},
		{
			name:     "daily limit reached",
			campaign: cartCampaign("aaaa", "Capped"),
			targeted: true,
			usage:    3,
			reason:   domain.ErrDailyLimitExceeded,
		},
		{
			name:     "budget exhausted",
			campaign: exhausted,
			targeted: true,
			usage:    0,
			reason:   domain.ErrBudgetExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			customers := new(mockCustomerRepository)
			tx := new(mockApplyTx)
			campaigns := &mockCampaignRepository{tx: tx}
			svc := newTestService(customers, campaigns)

			customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
			campaigns.On("Consume", ctx).Return(nil)

			tx.On("LockCampaign", ctx, tt.campaign.ID).Return(tt.campaign, nil)
			tx.On("IsTargeted", ctx, tt.campaign.ID, customer.ID).Return(tt.targeted, nil).Maybe()
			if tt.usage >= 0 {
				tx.On("UsageForUpdate", ctx, tt.campaign.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(tt.usage, nil).Maybe()
			}

			result, err := svc.Apply(ctx, &ApplyInput{
				CustomerID:  customer.ID,
				CartTotal:   dec("200"),
				CampaignIDs: []string{tt.campaign.ID},
			})

			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.reason)

			var rejection *domain.RejectionError
			assert.ErrorAs(t, err, &rejection)
		})
	}
}

func TestApply_UnknownCampaign(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)
	tx.On("LockCampaign", ctx, "ghost").Return(nil, &domain.RejectionError{
		CampaignID: "ghost",
		Reason:     domain.ErrCampaignNotFound,
	})

	_, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		CampaignIDs: []string{"ghost"},
	})

	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
}

func TestApply_NothingToDiscount(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	// Delivery campaign requested against a zero delivery fee.
	c := deliveryCampaign("aaaa", "Delivery Promo")

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)
	tx.On("LockCampaign", ctx, c.ID).Return(c, nil)
	tx.On("IsTargeted", ctx, c.ID, customer.ID).Return(true, nil)
	tx.On("UsageForUpdate", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(0, nil)

	_, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		DeliveryFee: dec("0"),
		CampaignIDs: []string{c.ID},
	})

	assert.ErrorIs(t, err, domain.ErrNothingToDiscount)
}

func TestApply_BudgetGuardRejection(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	tx := new(mockApplyTx)
	campaigns := &mockCampaignRepository{tx: tx}
	svc := newTestService(customers, campaigns)

	c := cartCampaign("aaaa", "Racy")

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(nil)
	tx.On("LockCampaign", ctx, c.ID).Return(c, nil)
	tx.On("IsTargeted", ctx, c.ID, customer.ID).Return(true, nil)
	tx.On("UsageForUpdate", ctx, c.ID, customer.ID, mock.AnythingOfType("time.Time")).Return(0, nil)
	tx.On("AddConsumedBudget", ctx, c.ID, mock.AnythingOfType("decimal.Decimal")).Return(domain.ErrBudgetExhausted)

	_, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		CampaignIDs: []string{c.ID},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBudgetExhausted)

	var rejection *domain.RejectionError
	assert.ErrorAs(t, err, &rejection)
}

func TestApply_LockTimeout(t *testing.T) {
	ctx := context.Background()
	customer := testCustomer()

	customers := new(mockCustomerRepository)
	campaigns := new(mockCampaignRepository)
	svc := newTestService(customers, campaigns)

	customers.On("GetByID", ctx, customer.ID).Return(customer, nil)
	campaigns.On("Consume", ctx).Return(domain.ErrLockTimeout)

	_, err := svc.Apply(ctx, &ApplyInput{
		CustomerID:  customer.ID,
		CartTotal:   dec("200"),
		CampaignIDs: []string{"aaaa"},
	})

	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestApply_EmptyCampaignIDs(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(new(mockCustomerRepository), new(mockCampaignRepository))

	_, err := svc.Apply(ctx, &ApplyInput{CustomerID: "x", CartTotal: dec("10")})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
