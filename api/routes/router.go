package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/library-catalog/api/controllers"
	"github.com/angelmondragon/library-catalog/api/middleware"
	"github.com/angelmondragon/library-catalog/internal/catalog"
	"github.com/angelmondragon/library-catalog/internal/saga"
	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/redis"
)

// NewOrchestratorRouter serves the public catalog API backed by the saga orchestrator.
func NewOrchestratorRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	orch saga.Orchestrator,
	metricsHandler http.Handler,
) http.Handler {
	r := newBaseRouter(logg)

	ready := map[string]controllers.Pinger{}
	var idemStore middleware.IdempotencyStore
	if redisClient != nil {
		ready["redis"] = redisClient
		idemStore = redisClient
	}
	mountOps(r, cfg, logg, ready, metricsHandler)

	r.Route("/catalog", func(r chi.Router) {
		r.With(middleware.Idempotency(idemStore, cfg.Saga.InstanceTTL, logg)).
			Post("/books", controllers.CatalogCreateBook(orch, cfg.Saga.RequestTimeout, logg))
		r.Get("/sagas/{sagaId}", controllers.CatalogSagaStatus(orch, logg))
	})

	return r
}

// NewParticipantRouter serves the genre, author and book participant contract
// consumed by the orchestrator's HTTP clients.
func NewParticipantRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	svc catalog.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := newBaseRouter(logg)

	ready := map[string]controllers.Pinger{}
	if dbP != nil {
		ready["database"] = dbP
	}
	mountOps(r, cfg, logg, ready, metricsHandler)

	r.Route("/genres", func(r chi.Router) {
		r.Get("/find", controllers.GenreFind(svc, logg))
		r.Post("/create", controllers.GenreCreate(svc, logg))
		r.Delete("/{id}", controllers.GenreDelete(svc, logg))
	})

	r.Route("/authors", func(r chi.Router) {
		r.Get("/find", controllers.AuthorFind(svc, logg))
		r.Post("/create", controllers.AuthorCreate(svc, logg))
		r.Delete("/{id}", controllers.AuthorDelete(svc, logg))
	})

	r.Route("/books", func(r chi.Router) {
		r.Get("/find", controllers.BookFind(svc, logg))
		r.Post("/create", controllers.BookCreate(svc, logg))
		r.Delete("/{id}", controllers.BookDelete(svc, logg))
	})

	return r
}

func newBaseRouter(logg *logger.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	return r
}

func mountOps(r chi.Router, cfg *config.Config, logg *logger.Logger, ready map[string]controllers.Pinger, metricsHandler http.Handler) {
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
}
