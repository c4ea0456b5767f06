package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veriplex/veriplex/internal/apikey"
	apikeydomain "github.com/veriplex/veriplex/internal/apikey/domain"
	"github.com/veriplex/veriplex/internal/catalog"
	catalogdomain "github.com/veriplex/veriplex/internal/catalog/domain"
	"github.com/veriplex/veriplex/internal/config"
	"github.com/veriplex/veriplex/internal/engine"
	"github.com/veriplex/veriplex/internal/ledger"
	ledgerdomain "github.com/veriplex/veriplex/internal/ledger/domain"
	"github.com/veriplex/veriplex/internal/notifier"
	"github.com/veriplex/veriplex/internal/observability"
	obsmetrics "github.com/veriplex/veriplex/internal/observability/metrics"
	obstracing "github.com/veriplex/veriplex/internal/observability/tracing"
	"github.com/veriplex/veriplex/internal/provider"
	"github.com/veriplex/veriplex/internal/record"
	"github.com/veriplex/veriplex/internal/resolver"
	"github.com/veriplex/veriplex/internal/usagelog"
	usagedomain "github.com/veriplex/veriplex/internal/usagelog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	observability.Module,
	fx.Provide(registerGin),
	apikey.Module,
	catalog.Module,
	record.Module,
	provider.Module,
	resolver.Module,
	ledger.Module,
	usagelog.Module,
	notifier.Module,
	engine.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewGin builds the shared router with the ambient middleware stack.
func NewGin(metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(metrics *obsmetrics.Metrics) *gin.Engine {
	return NewGin(metrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	exec       *engine.Engine
	apiKeySvc  apikeydomain.Service
	catalogSvc catalogdomain.Directory
	ledgerSvc  ledgerdomain.Ledger
	usageSvc   usagedomain.Recorder
	liveEvents *notifier.Hub
	metrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Exec       *engine.Engine
	APIKeySvc  apikeydomain.Service
	CatalogSvc catalogdomain.Directory
	LedgerSvc  ledgerdomain.Ledger
	UsageSvc   usagedomain.Recorder
	LiveEvents *notifier.Hub
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		exec:       p.Exec,
		apiKeySvc:  p.APIKeySvc,
		catalogSvc: p.CatalogSvc,
		ledgerSvc:  p.LedgerSvc,
		usageSvc:   p.UsageSvc,
		liveEvents: p.LiveEvents,
		metrics:    p.Metrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/services", s.ListServices)
	v1.GET("/events/admin", s.StreamAdminEvents)

	authed := v1.Group("", s.APIKeyRequired())
	authed.POST("/execute/:slug", s.ExecuteService)
	authed.GET("/usage", s.ListUsage)
	authed.GET("/balance", s.GetBalance)
	authed.GET("/events", s.StreamEvents)
}
