package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mid "github.com/hwalton/brickstock/internal/middleware"
)

// AdminRole is the JWT role allowed to trigger batch jobs.
const AdminRole = "service_role"

// NewRouter builds the JSON API. Ambient middleware (request id, logging,
// recovery, timeouts) is added by the caller.
func NewRouter(d Deps) http.Handler {
	h := newHandler(d)
	r := chi.NewRouter()

	r.Get("/health", h.health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	r.Post("/api/auth/login", h.login)
	r.Post("/api/auth/logout", h.logout)

	// protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mid.RequireAuth(h.Auth))

		r.Get("/api/dashboard", h.dashboard)

		r.Get("/api/orders", h.listOrders)
		r.Get("/api/orders/{id}", h.getOrder)
		r.Get("/api/transactions", h.listTransactions)

		r.Get("/api/inventory", h.listInventory)
		r.Post("/api/inventory", h.createInventory)
		r.Get("/api/inventory/export", h.exportInventory)
		r.Patch("/api/inventory/{id}", h.updateInventory)

		r.Get("/api/connections", h.listConnections)
		r.Put("/api/connections/{platform}", h.saveConnection)
		r.Delete("/api/connections/{platform}", h.deleteConnection)
		r.Get("/api/ebay/connect", h.ebayConnect)
		r.Get("/api/ebay/callback", h.ebayCallback)

		r.Post("/api/sync", h.syncAll)
		r.Post("/api/sync/{platform}/{kind}", h.syncOne)
		r.Get("/api/sync/logs", h.syncLogs)
		r.Post("/api/vinted/import", h.vintedImport)

		r.Get("/api/arbitrage", h.listArbitrage)
		r.Post("/api/arbitrage/sync", h.syncArbitrage)
		r.Put("/api/arbitrage/watchlist", h.watch)
		r.Get("/api/partout/{setNumber}", h.partout)
		r.Get("/api/investment/predictions", h.predictions)

		r.Get("/api/reports/profit-loss", h.profitLoss)
		r.Get("/api/reports/mtd", h.mtd)
		r.Get("/api/listing-schedule", h.listingSchedule)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(mid.RequireRole(AdminRole))
			r.Post("/investment/score", h.adminScore)
			r.Post("/investment/training-data", h.adminTrainingData)
			r.Post("/keepa-import", h.adminKeepaImport)
			r.Post("/rrp-backfill", h.adminRRPBackfill)
		})
	})

	return r
}
