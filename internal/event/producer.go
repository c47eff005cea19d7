package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/promo-service/internal/domain"
	pkgkafka "github.com/utafrali/promo-service/pkg/kafka"
)

// Kafka topic for promo domain events.
const TopicDiscountApplied = "promo.discount.applied"

// Aggregate type constant.
const AggregateTypeCustomer = "customer"

// Source identifier for events originating from the promo service.
const SourcePromoService = "promo-service"

// AppliedCampaignData is one campaign's contribution inside a
// discount.applied event.
type AppliedCampaignData struct {
	CampaignID      string `json:"campaign_id"`
	CampaignName    string `json:"campaign_name"`
	DiscountKind    string `json:"discount_kind"`
	DiscountApplied string `json:"discount_applied"`
}

// DiscountAppliedData is the payload for a discount.applied event.
// Money fields are decimal strings.
type DiscountAppliedData struct {
	CustomerID            string                `json:"customer_id"`
	TotalCartDiscount     string                `json:"total_cart_discount"`
	TotalDeliveryDiscount string                `json:"total_delivery_discount"`
	FinalAmount           string                `json:"final_amount"`
	Campaigns             []AppliedCampaignData `json:"campaigns"`
}

// Producer publishes promo domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the promo service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishDiscountApplied publishes a discount.applied event keyed by customer.
func (p *Producer) PublishDiscountApplied(ctx context.Context, customer *domain.Customer, data DiscountAppliedData) error {
	event, err := pkgkafka.NewEvent(TopicDiscountApplied, customer.ID, AggregateTypeCustomer, SourcePromoService, data)
	if err != nil {
		return fmt.Errorf("create discount.applied event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicDiscountApplied, event); err != nil {
		return fmt.Errorf("publish discount.applied event: %w", err)
	}

	p.logger.DebugContext(ctx, "published discount.applied event",
		slog.String("customer_id", customer.ID),
		slog.Int("campaigns", len(data.Campaigns)),
	)

	return nil
}
