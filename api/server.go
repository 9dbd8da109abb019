/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the school frontend
  5. Auth:       Bearer JWT on /api (except /api/health)

ROUTE GROUPS:
  /api/periodos/*             Academic periods
  /api/configuracion-pagos    Payment configuration
  /api/mensualidades/*        Monthly dues and their workflow
  /api/pagos/*                Payments, evidence, receipts
  /api/sweeps/*               Mora sweep runs
  /api/evaluaciones/*         Evaluation plan checks
  /metrics                    Prometheus (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/middleware.go: Bearer token validation
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/dues-engine/auth"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	JWTSecret   []byte
	CORSOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	authn := auth.NewMiddleware(opts.JWTSecret, "/api/health")

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(authn.Wrap)

		r.Get("/health", h.Health)

		r.Route("/periodos", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Get("/{id}", h.GetPeriod)
			r.Get("/{id}/meses", h.ListPeriodMonths)
			r.Put("/{id}", h.SyncPeriod)
		})

		r.Get("/configuracion-pagos", h.GetConfig)
		r.Put("/configuracion-pagos", h.UpdateConfig)

		r.Route("/mensualidades", func(r chi.Router) {
			r.Get("/", h.ListDues)
			r.Get("/export.xlsx", h.ExportDues)
			r.Post("/generar", h.GenerateDues)
			r.Get("/{id}", h.GetDue)
			r.Patch("/{id}/reportar", h.ReportDue)
			r.Patch("/{id}/aprobar", h.ApproveDue)
			r.Patch("/{id}/rechazar", h.RejectDue)
			r.Patch("/{id}/anular", h.VoidDue)
		})

		r.Route("/pagos", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Get("/{id}/comprobante", h.GetEvidence)
			r.Get("/{id}/recibo.pdf", h.GetReceipt)
		})

		r.Route("/sweeps", func(r chi.Router) {
			r.Get("/", h.ListSweeps)
			r.Post("/run", h.RunSweep)
		})

		r.Post("/evaluaciones/validar", h.ValidatePlan)
	})

	return r
}
