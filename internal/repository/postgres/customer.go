package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/promo-service/internal/domain"
	"github.com/utafrali/promo-service/pkg/database"
	apperrors "github.com/utafrali/promo-service/pkg/errors"
)

// CustomerRepository implements repository.CustomerRepository using PostgreSQL.
type CustomerRepository struct {
	pool database.DBTX
}

// NewCustomerRepository creates a new PostgreSQL-backed customer repository.
func NewCustomerRepository(pool database.DBTX) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetByID retrieves a customer by ID.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (customer *domain.Customer, err error) {
	query := `SELECT id, name, email, created_at FROM customers WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetCustomer", query)
	defer func() { end(err) }()

	var c domain.Customer
	err = r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("customer", id)
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}

	return &c, nil
}
