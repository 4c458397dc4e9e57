package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/partsmart-ledger/internal/middleware"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса PartSmart.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		if h.idempotency != nil {
			r.Use(h.idempotency.Handler)
		}

		staff := custommiddleware.RequireRole(model.RoleSeller, model.RoleAdmin)
		admin := custommiddleware.RequireRole(model.RoleAdmin)

		r.Route("/api/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Patch("/items/{productID}", h.UpdateCartItem)
			r.Delete("/items/{productID}", h.RemoveCartItem)
			r.Post("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
		})

		r.Post("/api/coupons/apply", h.PreviewCoupon)

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/payment", h.ConfirmPayment)
			r.With(staff).Post("/{id}/process", h.ProcessOrder)
			r.With(staff).Post("/{id}/ship", h.ShipOrder)
			r.With(staff).Post("/{id}/deliver", h.DeliverOrder)
		})

		r.Route("/api/returns", func(r chi.Router) {
			r.Post("/", h.SubmitReturn)
			r.Get("/", h.ListReturns)
			r.Get("/{id}", h.GetReturn)
			r.Post("/{id}/cancel", h.CancelReturn)
			r.With(staff).Post("/{id}/approve", h.ApproveReturn)
			r.With(staff).Post("/{id}/reject", h.RejectReturn)
			r.With(staff).Post("/{id}/pickup", h.ScheduleReturnPickup)
			r.With(staff).Post("/{id}/in-transit", h.MarkReturnInTransit)
			r.With(staff).Post("/{id}/receive", h.MarkReturnReceived)
			r.With(staff).Post("/{id}/inspect", h.InspectReturn)
			r.With(staff).Post("/{id}/complete", h.CompleteReturn)
		})

		r.Route("/api/wallet", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/verify", h.VerifyWallet)
			r.Post("/withdrawals", h.Withdraw)
			r.Get("/withdrawals", h.GetWithdrawals)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(admin)
			r.Post("/coupons", h.CreateCoupon)
			r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)
			r.Post("/withdrawals/{id}/complete", h.CompleteWithdrawal)
			r.Post("/wallets/{ownerID}/status", h.SetWalletStatus)
			r.Get("/wallets/{ownerID}/verify", h.VerifyOwnerWallet)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
