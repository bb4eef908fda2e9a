package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"autoliker/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	serviceName         = "autoliker"
	defaultCycleTimeout = 10 * time.Minute
	healthCheckTimeout  = 2 * time.Second
)

type Dispatcher interface {
	RunCycle(ctx context.Context) (domain.CycleSummary, error)
	RunAccount(ctx context.Context, accountKey string) (domain.AccountResult, error)
	Status(ctx context.Context) ([]domain.AccountStatus, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (domain.Stats, error)
	Ping(ctx context.Context) error
}

type LedgerCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

type Deps struct {
	Dispatcher Dispatcher
	Stats      StatsSource
	Ledger     LedgerCleaner
	Gatherer   prometheus.Gatherer
}

type Server struct {
	dispatcher   Dispatcher
	stats        StatsSource
	ledger       LedgerCleaner
	gatherer     prometheus.Gatherer
	token        string
	cycleTimeout time.Duration
	log          *slog.Logger
}

func New(deps Deps, token string, cycleTimeout time.Duration, log *slog.Logger) *Server {
	if cycleTimeout <= 0 {
		cycleTimeout = defaultCycleTimeout
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		dispatcher:   deps.Dispatcher,
		stats:        deps.Stats,
		ledger:       deps.Ledger,
		gatherer:     gatherer,
		token:        token,
		cycleTimeout: cycleTimeout,
		log:          log,
	}
}

// Router builds the gin engine. Everything except /health and /metrics sits
// behind the bearer token when one is configured.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	protected := router.Group("/")
	protected.Use(requireToken(s.token, s.log))
	{
		protected.POST("/run-cycle", s.runCycle)
		protected.GET("/status", s.status)
		protected.POST("/accounts/:accountKey/run", s.runAccount)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.stats.Ping(ctx); err != nil {
		s.log.WarnContext(ctx, "Health check failed",
			"error", err)

		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// detached returns a context that survives the client disconnecting but is
// bounded by the cycle timeout.
func (s *Server) detached(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.cycleTimeout)
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
