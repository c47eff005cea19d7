package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/promo-service/internal/domain"
	"github.com/utafrali/promo-service/internal/service"
	apperrors "github.com/utafrali/promo-service/pkg/errors"
	"github.com/utafrali/promo-service/pkg/validator"
)

const dateFormat = "2006-01-02"

// DiscountHandler handles HTTP requests for discount endpoints.
type DiscountHandler struct {
	service *service.DiscountService
	logger  *slog.Logger
}

// NewDiscountHandler creates a new discount HTTP handler.
func NewDiscountHandler(svc *service.DiscountService, logger *slog.Logger) *DiscountHandler {
	return &DiscountHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ApplyDiscountsRequest is the JSON request body for applying discounts.
// Money fields are decimal strings.
type ApplyDiscountsRequest struct {
	CustomerID  string   `json:"customer_id" validate:"required,uuid"`
	CartTotal   string   `json:"cart_total" validate:"required"`
	DeliveryFee string   `json:"delivery_fee" validate:"required"`
	CampaignIDs []string `json:"campaign_ids" validate:"required,min=1,dive,required,uuid"`
}

// --- Response DTOs ---

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type applicableCampaignResponse struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	DiscountKind         string          `json:"discount_kind"`
	DiscountValue        decimal.Decimal `json:"discount_value"`
	StartDate            string          `json:"start_date"`
	EndDate              string          `json:"end_date"`
	MaxDailyTransactions int             `json:"max_transactions_per_customer_per_day"`
	ApplicableDiscount   decimal.Decimal `json:"applicable_discount"`
	RemainingBudget      decimal.Decimal `json:"remaining_budget"`
}

type resolveResponse struct {
	CustomerID          string                       `json:"customer_id"`
	CartTotal           decimal.Decimal              `json:"cart_total"`
	DeliveryFee         decimal.Decimal              `json:"delivery_fee"`
	ApplicableCampaigns []applicableCampaignResponse `json:"applicable_campaigns"`
}

type appliedDiscountResponse struct {
	CampaignID      string          `json:"campaign_id"`
	CampaignName    string          `json:"campaign_name"`
	DiscountKind    string          `json:"discount_kind"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`
}

type applyResponse struct {
	CustomerID            string                    `json:"customer_id"`
	OriginalCartTotal     decimal.Decimal           `json:"original_cart_total"`
	OriginalDeliveryFee   decimal.Decimal           `json:"original_delivery_fee"`
	TotalCartDiscount     decimal.Decimal           `json:"total_cart_discount"`
	TotalDeliveryDiscount decimal.Decimal           `json:"total_delivery_discount"`
	FinalCartTotal        decimal.Decimal           `json:"final_cart_total"`
	FinalDeliveryFee      decimal.Decimal           `json:"final_delivery_fee"`
	FinalAmount           decimal.Decimal           `json:"final_amount"`
	AppliedDiscounts      []appliedDiscountResponse `json:"applied_discounts"`
}

// --- Handlers ---

// ResolveDiscounts handles GET /api/v1/discounts/applicable
func (h *DiscountHandler) ResolveDiscounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	customerID := q.Get("customer_id")
	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "customer_id is required"},
		})
		return
	}
	// Customer IDs are UUIDs; a malformed one can never match a customer, so
	// report it as not found instead of letting the UUID cast fail in the
	// database.
	if _, err := uuid.Parse(customerID); err != nil {
		h.writeError(w, r, apperrors.NotFound("customer", customerID))
		return
	}

	cartTotal, err := parseAmount(q.Get("cart_total"), "cart_total")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deliveryFee, err := parseAmount(q.Get("delivery_fee"), "delivery_fee")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	input := &service.ResolveInput{
		CustomerID:  customerID,
		CartTotal:   cartTotal,
		DeliveryFee: deliveryFee,
	}

	resolution, err := h.service.Resolve(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	campaigns := make([]applicableCampaignResponse, 0, len(resolution.Campaigns))
	for _, c := range resolution.Campaigns {
		campaigns = append(campaigns, applicableCampaignResponse{
			ID:                   c.Campaign.ID,
			Name:                 c.Campaign.Name,
			Description:          c.Campaign.Description,
			DiscountKind:         c.Campaign.DiscountKind,
			DiscountValue:        c.Campaign.DiscountValue,
			StartDate:            c.Campaign.StartDate.Format(dateFormat),
			EndDate:              c.Campaign.EndDate.Format(dateFormat),
			MaxDailyTransactions: c.Campaign.MaxDailyTransactions,
			ApplicableDiscount:   c.ApplicableDiscount,
			RemainingBudget:      c.RemainingBudget,
		})
	}

	writeJSON(w, http.StatusOK, response{Data: resolveResponse{
		CustomerID:          resolution.Customer.ID,
		CartTotal:           resolution.CartTotal,
		DeliveryFee:         resolution.DeliveryFee,
		ApplicableCampaigns: campaigns,
	}})
}

// ApplyDiscounts handles POST /api/v1/discounts/apply
func (h *DiscountHandler) ApplyDiscounts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req ApplyDiscountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	cartTotal, err := parseAmount(req.CartTotal, "cart_total")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deliveryFee, err := parseAmount(req.DeliveryFee, "delivery_fee")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	input := &service.ApplyInput{
		CustomerID:  req.CustomerID,
		CartTotal:   cartTotal,
		DeliveryFee: deliveryFee,
		CampaignIDs: req.CampaignIDs,
	}

	result, err := h.service.Apply(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	applied := make([]appliedDiscountResponse, 0, len(result.Applied))
	for _, a := range result.Applied {
		applied = append(applied, appliedDiscountResponse{
			CampaignID:      a.CampaignID,
			CampaignName:    a.CampaignName,
			DiscountKind:    a.DiscountKind,
			DiscountApplied: a.DiscountApplied,
		})
	}

	writeJSON(w, http.StatusOK, response{Data: applyResponse{
		CustomerID:            result.Customer.ID,
		OriginalCartTotal:     result.OriginalCartTotal,
		OriginalDeliveryFee:   result.OriginalDeliveryFee,
		TotalCartDiscount:     result.TotalCartDiscount,
		TotalDeliveryDiscount: result.TotalDeliveryDiscount,
		FinalCartTotal:        result.FinalCartTotal,
		FinalDeliveryFee:      result.FinalDeliveryFee,
		FinalAmount:           result.FinalAmount,
		AppliedDiscounts:      applied,
	}})
}

// --- Helpers ---

// parseAmount parses a decimal string from the request, rejecting malformed
// and negative values.
func parseAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, apperrors.InvalidInput(field + " is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.InvalidInput(field + " must be a decimal number")
	}
	if d.IsNegative() {
		return decimal.Zero, apperrors.InvalidInput(field + " must not be negative")
	}
	return d, nil
}

// rejectionCode maps a business rejection reason to its wire error code.
func rejectionCode(reason error) string {
	switch {
	case errors.Is(reason, domain.ErrCampaignNotFound):
		return "CAMPAIGN_NOT_FOUND"
	case errors.Is(reason, domain.ErrCampaignInactive):
		return "CAMPAIGN_INACTIVE"
	case errors.Is(reason, domain.ErrCampaignExpired):
		return "CAMPAIGN_EXPIRED"
	case errors.Is(reason, domain.ErrCustomerNotEligible):
		return "CUSTOMER_NOT_ELIGIBLE"
	case errors.Is(reason, domain.ErrDailyLimitExceeded):
		return "DAILY_LIMIT_EXCEEDED"
	case errors.Is(reason, domain.ErrBudgetExhausted):
		return "BUDGET_EXHAUSTED"
	case errors.Is(reason, domain.ErrNothingToDiscount):
		return "NOTHING_TO_DISCOUNT"
	default:
		return "REJECTED"
	}
}

func (h *DiscountHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rejErr *domain.RejectionError
	if errors.As(err, &rejErr) {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: rejectionCode(rejErr.Reason), Message: rejErr.Error()},
		})
		return
	}

	if errors.Is(err, domain.ErrLockTimeout) {
		writeJSON(w, http.StatusServiceUnavailable, response{
			Error: &errorResponse{Code: "CONCURRENCY_TIMEOUT", Message: "could not acquire campaign locks in time, please retry"},
		})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, response{
			Error: &errorResponse{Code: appErr.Code, Message: appErr.Message},
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := "INTERNAL_ERROR"
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		code = "NOT_FOUND"
		message = "resource not found"
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidInput):
		code = "INVALID_INPUT"
		message = err.Error()
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	writeJSON(w, status, response{
		Error: &errorResponse{Code: code, Message: message},
	})
}

func (h *DiscountHandler) writeValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	writeJSON(w, http.StatusBadRequest, response{
		Error: &errorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
