package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/marketdata"
	"github.com/tickmatch/tickmatch/internal/trading/engine"
)

// HTTPConfig tunes the observability and market-data HTTP server.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// HTTPServer exposes health, metrics, engine stats, book depth, and the
// market-data websocket. Order entry stays on the TCP gateway.
type HTTPServer struct {
	cfg    HTTPConfig
	eng    *engine.Engine
	conv   *PriceConverter
	hub    *marketdata.Hub
	log    *zap.Logger
	router *gin.Engine
	srv    *http.Server
}

// NewHTTPServer builds the server and its routes. hub may be nil to run
// without the websocket feed.
func NewHTTPServer(cfg HTTPConfig, eng *engine.Engine, conv *PriceConverter, hub *marketdata.Hub, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("tickmatch"))
	router.Use(cors.Default())

	s := &HTTPServer{
		cfg:    cfg,
		eng:    eng,
		conv:   conv,
		hub:    hub,
		log:    logger,
		router: router,
	}
	s.registerRoutes()
	return s
}

func (s *HTTPServer) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/stats", s.stats)
	if s.hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/contracts", s.listContracts)
		v1.GET("/book/:symbol", s.bookDepth)
	}
}

// Router exposes the gin engine for tests.
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown or a listener error.
func (s *HTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *HTTPServer) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Stats())
}

func (s *HTTPServer) listContracts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.eng.Symbols()})
}

func (s *HTTPServer) bookDepth(c *gin.Context) {
	symbol := c.Param("symbol")
	levels, err := strconv.Atoi(c.DefaultQuery("levels", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "levels must be an integer"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	snap, err := s.eng.Depth(ctx, symbol, levels)
	if err != nil {
		var engErr *engine.Error
		switch {
		case errors.As(err, &engErr) && engErr.Kind == engine.KindUnroutable:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol " + symbol})
		case errors.Is(err, engine.ErrNotRunning):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
		default:
			s.log.Error("depth snapshot failed", zap.String("symbol", symbol), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, depthPayload(s.conv, snap))
}
