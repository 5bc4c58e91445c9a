/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. hlog:       Request-scoped zerolog logger and access log
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Actor:      X-User-ID / X-User-Role headers into a core.Actor

ROUTE GROUPS:
  /healthz                        Liveness and store ping
  /api/contracts/*                Contracts and their periods
  /api/periods/*                  Period detail and approval
  /api/invoices                   Invoices
  /api/technicians/{id}/worklist  SLA worklist
  /api/tickets/{id}/comments      Ticket comments
  /api/admin/rollover*            Monthly rollover
  /api/scenarios/*                Demo scenarios

AUTHENTICATION:
  The server trusts the actor headers set by the gateway in front of it.
  Mutating routes reject requests without X-User-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/servicedesk/core"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	Log         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(hlog.CustomHeaderHandler("request_id", middleware.RequestIDHeader))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole},
		AllowCredentials: true,
	}))
	r.Use(actorMiddleware)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Get("/{contractID}", h.GetContract)
			r.Get("/{contractID}/periods", h.ListPeriods)
			r.With(requireActor).Post("/{contractID}/periods/{periodID}/close", h.ClosePeriod)
		})

		r.Route("/periods", func(r chi.Router) {
			r.Get("/{periodID}", h.GetPeriod)
			r.With(requireActor).Post("/{periodID}/approve", h.ApprovePeriod)
		})

		r.Get("/invoices", h.ListInvoices)

		r.Get("/technicians/{technicianID}/worklist", h.GetWorklist)

		r.With(requireActor).Post("/tickets/{ticketID}/comments", h.PostComment)

		r.Route("/admin", func(r chi.Router) {
			r.With(requireActor).Post("/rollover", h.TriggerRollover)
			r.Get("/rollover/status", h.RolloverStatus)
			r.Get("/rollover/runs", h.ListRolloverRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// =============================================================================
// ACTOR
// =============================================================================

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a core.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor on ctx, or the zero Actor.
func ActorFrom(ctx context.Context) core.Actor {
	a, _ := ctx.Value(actorKey{}).(core.Actor)
	return a
}

func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderUserID)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor := core.Actor{UserID: core.UserID(id), Role: r.Header.Get(HeaderUserRole)}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("actor_id", id)
		})
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFrom(r.Context()).IsZero() {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderUserID+" header", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
