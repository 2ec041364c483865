// Package httpapi exposes the record engine over HTTP.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/engine"
	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Request headers carrying the structure contract of a write.
const (
	HeaderStructure       = "X-Shelf-Structure"
	HeaderMutateStructure = "X-Shelf-Mutate-Structure"
	HeaderClearRecords    = "X-Shelf-Clear-Records"
)

// Server holds the handlers' collaborators.
type Server struct {
	engine *engine.Engine
	auth   *Authenticator
	logger *zap.Logger
}

// NewServer returns a Server over e.
func NewServer(e *engine.Engine, auth *Authenticator, logger *zap.Logger) *Server {
	return &Server{engine: e, auth: auth, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			HeaderStructure,
			HeaderMutateStructure,
			HeaderClearRecords,
		},
		MaxAge: 300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/projects/{project}", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.projectAccess)

		r.Get("/spaces", s.listSpaces)
		r.Route("/spaces/{space}", func(r chi.Router) {
			r.Get("/", s.getSpace)
			r.Put("/", s.declareSpace)
			r.Delete("/", s.deleteSpace)
			r.Delete("/fields/{field}", s.removeField)
			r.Get("/export", s.exportSpace)
			r.Post("/import", s.importSpace)

			r.Post("/records", s.addRecord)
			r.Get("/records", s.getRecords)
			r.Delete("/records", s.clearRecords)
			r.Get("/records/{id}", s.getRecord)
			r.Patch("/records/{id}", s.updateRecord)
			r.Delete("/records/{id}", s.deleteRecord)
		})
	})
	return r
}

// logRequests logs every request and observes its duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveRequest(r.Method, route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Info("request", fields...)
		default:
			s.logger.Debug("request", fields...)
		}
	})
}

// projectAccess rejects callers whose token does not grant the project.
func (s *Server) projectAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFrom(r.Context())
		if claims == nil || !claims.allows(chi.URLParam(r, "project")) {
			writeStatus(w, http.StatusForbidden, ErrProjectDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// trace starts the engine trace of r.
func (s *Server) trace(r *http.Request) *engine.Trace {
	scope := engine.Scope{
		ProjectSlug: chi.URLParam(r, "project"),
		SpaceSlug:   chi.URLParam(r, "space"),
	}
	if claims, ok := ClaimsFrom(r.Context()); ok {
		scope.CallerID = claims.Subject
	}
	return engine.NewTrace(scope, middleware.GetReqID(r.Context()))
}

// fail writes err with its mapped status. Unexpected errors are logged and
// their text is withheld.
func (s *Server) fail(w http.ResponseWriter, tr *engine.Trace, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", append(tr.Fields(), zap.Error(err))...)
		writeJSON(w, status, errorBody{Error: []string{"internal error"}})
		return
	}
	writeStatus(w, status, err)
}

func flatten(ds []types.RecordDump) []map[string]any {
	out := make([]map[string]any, len(ds))
	for i := range ds {
		out[i] = ds[i].Flat()
	}
	return out
}
