package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/promo-service/internal/domain"
	"github.com/utafrali/promo-service/internal/repository"
	"github.com/utafrali/promo-service/pkg/database"
)

const defaultLockTimeout = 3 * time.Second

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	pool        database.DBTX
	lockTimeout time.Duration
}

// NewCampaignRepository creates a new PostgreSQL-backed campaign repository.
// lockTimeout bounds every row-lock wait inside Consume transactions.
func NewCampaignRepository(pool database.DBTX, lockTimeout time.Duration) *CampaignRepository {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &CampaignRepository{pool: pool, lockTimeout: lockTimeout}
}

const eligibleQuery = `
	SELECT c.id, c.name, c.description, c.discount_kind, c.discount_value,
		   c.start_date, c.end_date, c.total_budget, c.consumed_budget,
		   c.max_transactions_per_customer_per_day, c.is_active,
		   c.created_at, c.updated_at,
		   COALESCE(u.usage_count, 0) AS today_usage_count
	FROM campaigns c
	JOIN campaign_customers cc ON cc.campaign_id = c.id
	LEFT JOIN campaign_usages u
		   ON u.campaign_id = c.id
		  AND u.customer_id = cc.customer_id
		  AND u.usage_date = $2
	WHERE cc.customer_id = $1
	  AND c.is_active
	  AND c.start_date <= $2
	  AND c.end_date >= $2
	  AND c.consumed_budget < c.total_budget
	ORDER BY c.id`

// EligibleForCustomer returns campaigns applicable to the customer on the
// given day, each with the customer's usage count for that day.
func (r *CampaignRepository) EligibleForCustomer(ctx context.Context, customerID string, day time.Time) (result []domain.EligibleCampaign, err error) {
	ctx, end := database.TraceQuery(ctx, "EligibleForCustomer", eligibleQuery)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, eligibleQuery, customerID, domain.DateOf(day))
	if err != nil {
		return nil, fmt.Errorf("query eligible campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.EligibleCampaign
	for rows.Next() {
		var e domain.EligibleCampaign
		if err := rows.Scan(
			&e.ID,
			&e.Name,
			&e.Description,
			&e.DiscountKind,
			&e.DiscountValue,
			&e.StartDate,
			&e.EndDate,
			&e.TotalBudget,
			&e.ConsumedBudget,
			&e.MaxDailyTransactions,
			&e.IsActive,
			&e.CreatedAt,
			&e.UpdatedAt,
			&e.TodayUsageCount,
		); err != nil {
			return nil, fmt.Errorf("scan eligible campaign row: %w", err)
		}
		campaigns = append(campaigns, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible campaign rows: %w", err)
	}

	if campaigns == nil {
		campaigns = []domain.EligibleCampaign{}
	}

	return campaigns, nil
}

// Consume runs fn inside a transaction with a bounded lock wait. Any error
// from fn rolls the whole transaction back.
func (r *CampaignRepository) Consume(ctx context.Context, fn func(repository.ApplyTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Bound every row-lock wait inside this transaction.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(&applyTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit consume tx: %w", err)
	}

	return nil
}

// applyTx implements repository.ApplyTx on top of a pgx transaction.
type applyTx struct {
	tx pgx.Tx
}

const lockCampaignQuery = `
	SELECT id, name, description, discount_kind, discount_value,
		   start_date, end_date, total_budget, consumed_budget,
		   max_transactions_per_customer_per_day, is_active,
		   created_at, updated_at
	FROM campaigns
	WHERE id = $1
	FOR UPDATE`

func (t *applyTx) LockCampaign(ctx context.Context, id string) (campaign *domain.Campaign, err error) {
	ctx, end := database.TraceQuery(ctx, "LockCampaign", lockCampaignQuery)
	defer func() { end(err) }()

	var c domain.Campaign
	err = t.tx.QueryRow(ctx, lockCampaignQuery, id).Scan(
		&c.ID,
		&c.Name,
		&c.Description,
		&c.DiscountKind,
		&c.DiscountValue,
		&c.StartDate,
		&c.EndDate,
		&c.TotalBudget,
		&c.ConsumedBudget,
		&c.MaxDailyTransactions,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.RejectionError{CampaignID: id, Reason: domain.ErrCampaignNotFound}
		}
		if isLockTimeout(err) {
			return nil, fmt.Errorf("lock campaign %s: %w", id, domain.ErrLockTimeout)
		}
		return nil, fmt.Errorf("lock campaign: %w", err)
	}

	return &c, nil
}

func (t *applyTx) IsTargeted(ctx context.Context, campaignID, customerID string) (targeted bool, err error) {
	query := `SELECT EXISTS(SELECT 1 FROM campaign_customers WHERE campaign_id = $1 AND customer_id = $2)`

	ctx, end := database.TraceQuery(ctx, "IsTargeted", query)
	defer func() { end(err) }()

	if err = t.tx.QueryRow(ctx, query, campaignID, customerID).Scan(&targeted); err != nil {
		return false, fmt.Errorf("check campaign targeting: %w", err)
	}
	return targeted, nil
}

func (t *applyTx) UsageForUpdate(ctx context.Context, campaignID, customerID string, day time.Time) (count int, err error) {
	insert := `
		INSERT INTO campaign_usages (campaign_id, customer_id, usage_date, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		ON CONFLICT (campaign_id, customer_id, usage_date) DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "UsageForUpdate", insert)
	defer func() { end(err) }()

	if _, err = t.tx.Exec(ctx, insert, campaignID, customerID, domain.DateOf(day)); err != nil {
		return 0, fmt.Errorf("ensure usage row: %w", err)
	}

	query := `
		SELECT usage_count
		FROM campaign_usages
		WHERE campaign_id = $1 AND customer_id = $2 AND usage_date = $3
		FOR UPDATE`

	if err = t.tx.QueryRow(ctx, query, campaignID, customerID, domain.DateOf(day)).Scan(&count); err != nil {
		if isLockTimeout(err) {
			return 0, fmt.Errorf("lock usage row: %w", domain.ErrLockTimeout)
		}
		return 0, fmt.Errorf("select usage row: %w", err)
	}

	return count, nil
}

func (t *applyTx) AddConsumedBudget(ctx context.Context, campaignID string, amount decimal.Decimal) (err error) {
	query := `
		UPDATE campaigns
		SET consumed_budget = consumed_budget + $2, updated_at = NOW()
		WHERE id = $1 AND consumed_budget + $2 <= total_budget`

	ctx, end := database.TraceQuery(ctx, "AddConsumedBudget", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, campaignID, amount)
	if err != nil {
		return fmt.Errorf("add consumed budget: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return domain.ErrBudgetExhausted
	}

	return nil
}

func (t *applyTx) IncrementUsage(ctx context.Context, campaignID, customerID string, day time.Time, maxPerDay int) (err error) {
	query := `
		UPDATE campaign_usages
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE campaign_id = $1 AND customer_id = $2 AND usage_date = $3
		  AND usage_count + 1 <= $4`

	ctx, end := database.TraceQuery(ctx, "IncrementUsage", query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, campaignID, customerID, domain.DateOf(day), maxPerDay)
	if err != nil {
		return fmt.Errorf("increment usage count: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return domain.ErrDailyLimitExceeded
	}

	return nil
}

// isLockTimeout checks if the error is a PostgreSQL lock_not_available error (SQLSTATE 55P03).
func isLockTimeout(err error) bool {
	return err != nil && strings.Contains(err.Error(), "55P03")
}
