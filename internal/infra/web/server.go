package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/infra/logging"
	"apply-coordinator/internal/infra/redis"
	"apply-coordinator/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SiteService is the slice of the site use case the HTTP layer needs.
type SiteService interface {
	Lease(ctx context.Context, workerID string, ttl time.Duration) (*model.Site, error)
	Complete(ctx context.Context, id, workerID string) error
	Release(ctx context.Context, id, workerID string) error
	Fail(ctx context.Context, id, workerID, errMsg string) error
	Retry(ctx context.Context, id string, clearError bool) error
	Create(ctx context.Context, name, url, pattern string) (*model.Site, error)
	ListAll(ctx context.Context) ([]*model.Site, error)
	ListCompleted(ctx context.Context) ([]*model.Site, error)
	ListFailed(ctx context.Context) ([]*model.Site, error)
}

// QueueService is the slice of the queue use case the HTTP layer needs.
type QueueService interface {
	LeaseNext(ctx context.Context) (*model.QueueItem, error)
	Complete(ctx context.Context, id string, filledData json.RawMessage, logs *model.FillLogs) error
	Fail(ctx context.Context, id, errMsg string) error
	Retry(ctx context.Context, id string) error
	ResetStale(ctx context.Context, maxAge time.Duration) (int, error)
	EnqueueForUser(ctx context.Context, userID string, limit int, onlyUnqueued bool) (int, error)
	History(ctx context.Context, userID string, limit int) ([]*model.QueueItem, error)
}

// JobService ingests scraped listings into the enqueue candidate pool.
type JobService interface {
	Store(ctx context.Context, jobs []*model.Job) (int, error)
}

// StatsService reports aggregate counters for the dashboard endpoint.
type StatsService interface {
	Totals(ctx context.Context) (*usecase.Totals, error)
}

type Server struct {
	siteUC  SiteService
	queueUC QueueService
	jobUC   JobService
	statsUC StatsService

	limiter         *redis.RateLimiter
	apiKey          string
	defaultLockTTL  time.Duration
	rateLimit       int
	rateLimitWindow time.Duration
	log             *zerolog.Logger
}

func NewServer(
	siteUC SiteService,
	queueUC QueueService,
	jobUC JobService,
	statsUC StatsService,
	limiter *redis.RateLimiter,
	apiKey string,
	defaultLockTTL time.Duration,
	rateLimit int,
	rateLimitWindow time.Duration,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		siteUC:          siteUC,
		queueUC:         queueUC,
		jobUC:           jobUC,
		statsUC:         statsUC,
		limiter:         limiter,
		apiKey:          apiKey,
		defaultLockTTL:  defaultLockTTL,
		rateLimit:       rateLimit,
		rateLimitWindow: rateLimitWindow,
		log:             logger,
	}
}

// Router builds the full HTTP surface: health and metrics are public,
// everything under /api/v1 requires the configured bearer key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/sites", func(r chi.Router) {
			r.Post("/", s.handleSiteCreate)
			r.Get("/", s.handleSiteList(s.siteUC.ListAll))
			r.Get("/completed", s.handleSiteList(s.siteUC.ListCompleted))
			r.Get("/failed", s.handleSiteList(s.siteUC.ListFailed))
			r.Post("/lease", s.handleSiteLease)
			r.Post("/complete", s.handleSiteComplete)
			r.Post("/release", s.handleSiteRelease)
			r.Post("/fail", s.handleSiteFail)
			r.Post("/retry", s.handleSiteRetry)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Post("/lease", s.handleQueueLease)
			r.Post("/complete", s.handleQueueComplete)
			r.Post("/fail", s.handleQueueFail)
			r.Post("/retry", s.handleQueueRetry)
			r.Post("/reset-stale", s.handleQueueResetStale)
			r.With(s.enqueueRateLimit).Post("/enqueue", s.handleQueueEnqueue)
			r.Get("/history", s.handleQueueHistory)
		})

		r.Post("/jobs", s.handleJobsStore)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// authMiddleware provides simple Bearer token authentication for the API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// enqueueRateLimit applies a fixed-window per-user budget to the enqueue
// endpoint. With no limiter configured every request passes through.
func (s *Server) enqueueRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.rateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = r.RemoteAddr
		}
		ok, err := s.limiter.Allow(r.Context(), redis.EnqueueKey(userID), s.rateLimit, s.rateLimitWindow)
		if err != nil {
			// A broken limiter should not take the endpoint down.
			s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
