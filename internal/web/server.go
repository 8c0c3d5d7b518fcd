// Package web is the view layer: a JSON rendition of the client's pages
// behind the session guard.
package web

import (
	"context"
	"net/http"
	"time"

	"snapgram/internal/observability"
	"snapgram/internal/queries"
	"snapgram/internal/session"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Options configures the view layer.
type Options struct {
	ServiceName    string
	MaxUploadBytes int64
	AllowedOrigins []string
	// UsersLimit bounds the all-users page.
	UsersLimit int
}

// Server renders the client's pages.
type Server struct {
	sessions  *session.Controller
	queries   *queries.Queries
	collector *observability.Collector
	opts      Options
	logger    *zap.Logger
}

// NewServer creates the view layer. collector may be nil, which disables the
// metrics endpoint and middleware.
func NewServer(sessions *session.Controller, q *queries.Queries, collector *observability.Collector, opts Options, logger *zap.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.UsersLimit <= 0 {
		opts.UsersLimit = 10
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "snapgram"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		sessions:  sessions,
		queries:   q,
		collector: collector,
		opts:      opts,
		logger:    logger.Named("web"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))
	if s.collector != nil {
		r.Use(observability.MetricsMiddleware(s.collector))
	}
	r.Use(observability.TracingMiddleware(s.opts.ServiceName))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	if s.collector != nil {
		r.Handle("/metrics", s.collector.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.guard)

		r.Get(session.RouteSignIn, s.signInView)
		r.Post(session.RouteSignIn, s.signIn)
		r.Get(session.RouteSignUp, s.signUpView)
		r.Post(session.RouteSignUp, s.signUp)

		r.Get(session.RouteHome, s.home)
		r.Get("/explore", s.explore)
		r.Post("/explore/next", s.exploreNext)
		r.Get("/saved", s.saved)
		r.Get("/all-users", s.allUsers)
		r.Get("/profile/{id}", s.profile)
		r.Get("/update-profile/{id}", s.updateProfileView)
		r.Post("/update-profile/{id}", s.updateProfile)
		r.Post("/create-post", s.createPost)
		r.Get("/update-post/{id}", s.updatePostView)
		r.Post("/update-post/{id}", s.updatePost)
		r.Get("/posts/{id}", s.postDetails)
		r.Delete("/posts/{id}", s.deletePost)
		r.Post("/posts/{id}/like", s.likePost)
		r.Post("/posts/{id}/save", s.savePost)
		r.Post("/sign-out", s.signOut)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"session": s.sessions.Snapshot().State.String(),
	})
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

type snapshotKey struct{}

// guard settles the session for the request path and redirects when the
// path is not reachable in that state.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.sessions.Resolve(r.Context(), r.URL.Path)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if snap.Redirect != "" {
			http.Redirect(w, r, snap.Redirect, http.StatusFound)
			return
		}
		ctx := context.WithValue(r.Context(), snapshotKey{}, snap)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// snapshotFrom returns the session the guard admitted the request with.
func snapshotFrom(ctx context.Context) session.Snapshot {
	snap, _ := ctx.Value(snapshotKey{}).(session.Snapshot)
	return snap
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestId", chimiddleware.GetReqID(r.Context())))
		})
	}
}
