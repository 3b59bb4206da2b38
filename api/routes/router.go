package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightcart/storefront-backend/api/controllers"
	"github.com/brightcart/storefront-backend/api/middleware"
	cartsvc "github.com/brightcart/storefront-backend/internal/cart"
	checkoutsvc "github.com/brightcart/storefront-backend/internal/checkout"
	ordersvc "github.com/brightcart/storefront-backend/internal/orders"
	"github.com/brightcart/storefront-backend/pkg/config"
	pkgdb "github.com/brightcart/storefront-backend/pkg/db"
	"github.com/brightcart/storefront-backend/pkg/logger"
	pkgredis "github.com/brightcart/storefront-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP pkgdb.Pinger,
	redisClient *pkgredis.Client,
	cartService cartsvc.Service,
	preparer checkoutsvc.Preparer,
	orchestrator checkoutsvc.Orchestrator,
	ordersService ordersvc.Service,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()

	var idemStore pkgredis.IdempotencyStore
	var redisPinger pkgredis.Pinger
	if redisClient != nil {
		idemStore = redisClient
		redisPinger = redisClient
	}

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisPinger, logg))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(cartService, logg))
			r.Delete("/", controllers.CartClear(cartService, logg))
			r.Post("/items", controllers.CartAddItem(cartService, logg))
			r.Put("/items/{productID}", controllers.CartUpdateItem(cartService, logg))
			r.Delete("/items/{productID}", controllers.CartRemoveItem(cartService, logg))
			r.Post("/sync-prices", controllers.CartSyncPrices(cartService, logg))
		})

		r.Post("/checkout/prepare", controllers.CheckoutPrepare(cartService, preparer, logg))
		r.Post("/checkout", controllers.Checkout(orchestrator, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrdersList(ordersService, logg))
			r.Get("/{orderID}", controllers.OrdersGet(ordersService, logg))
		})
	})

	return r
}
