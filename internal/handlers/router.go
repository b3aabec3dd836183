package handlers

import (
	"net/http"

	"formation-booking/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers собирает обработчики, подключаемые к маршрутизатору
type Handlers struct {
	Health       *HealthHandler
	Catalog      *CatalogHandler
	Coupons      *CouponHandler
	Cart         *CartHandler
	Transactions *TransactionHandler
	Jobs         *JobHandler
	Presence     *PresenceHandler
	Attempts     *CouponAttemptHandler
}

// NewRouter настраивает маршруты HTTP сервера. Применение и проверка купонов
// закрываются для вызывающего, исчерпавшего лимит неудачных попыток.
func NewRouter(h Handlers, attempts AttemptGuard, log *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))
	r.Use(CORS)

	guarded := func(next http.HandlerFunc) http.HandlerFunc {
		return GuardCouponAttempts(attempts, log, next)
	}

	r.Get("/health", h.Health.Health)
	r.Get("/health/readiness", h.Health.Readiness)
	r.Get("/health/liveness", h.Health.Liveness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/offerings", h.Catalog.ListOfferings)
		r.Get("/offerings/{offeringID}/participants", h.Catalog.Participants)
		r.Get("/pricing/quote", h.Catalog.Quote)

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/apply", guarded(h.Coupons.ApplyCoupon))
			r.Get("/validate", guarded(h.Coupons.ValidateCoupon))
			r.Get("/attempts", h.Attempts.Status)
			r.Get("/{couponID}", h.Coupons.GetCoupon)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Post("/items", h.Cart.AddItem)
			r.Delete("/items/{itemID}", h.Cart.RemoveItem)
		})

		r.Post("/transactions", h.Transactions.CreateTransaction)
		r.Get("/transactions/{transactionID}", h.Transactions.GetTransaction)

		r.Route("/presence", func(r chi.Router) {
			r.Post("/", h.Presence.Register)
			r.Get("/", h.Presence.ActiveUsers)
			r.Delete("/{sessionID}", h.Presence.Remove)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/coupons", h.Coupons.ListCoupons)
			r.Post("/coupons", h.Coupons.CreateCoupon)
			r.Put("/coupons/{couponID}", h.Coupons.UpdateCoupon)
			r.Post("/coupons/{couponID}/disable", h.Coupons.DisableCoupon)
			r.Post("/coupons/{couponID}/offerings/{offeringID}", h.Coupons.AddOffering)
			r.Delete("/coupons/{couponID}/offerings/{offeringID}", h.Coupons.RemoveOffering)

			r.Get("/transactions", h.Transactions.ListTransactions)
			r.Post("/transactions/{transactionID}/confirm", h.Transactions.ConfirmPayment)
			r.Post("/transactions/{transactionID}/refund", h.Transactions.RefundPayment)

			r.Get("/jobs", h.Jobs.ListJobs)
			r.Post("/jobs/{name}/run", h.Jobs.RunJob)
		})
	})

	return r
}
