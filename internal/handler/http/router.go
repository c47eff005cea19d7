package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/promo-service/internal/service"
	"github.com/utafrali/promo-service/pkg/health"
	"github.com/utafrali/promo-service/pkg/middleware"
)

// NewRouter creates a chi router with all promo service routes registered.
func NewRouter(
	discountService *service.DiscountService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Tracing("promo-service"))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("promo"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Discount API endpoints
	discountHandler := NewDiscountHandler(discountService, logger)

	r.Route("/api/v1/discounts", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/applicable", discountHandler.ResolveDiscounts)
		r.Post("/apply", discountHandler.ApplyDiscounts)
	})

	return r
}
