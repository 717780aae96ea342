// Package web exposes the control API: status, manual cycles, instrument
// management, audit listings and live streams.
package web

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/events"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const (
	snapshotPollInterval = 2 * time.Second
	heartbeatInterval    = 30 * time.Second
	defaultListLimit     = 100
)

// Cycler runs and reports trading cycles.
type Cycler interface {
	RunCycle(ctx context.Context, manual bool) (domain.CycleReport, error)
	Phase() domain.CyclePhase
	LastReport() *domain.CycleReport
	// Hold keeps cycles from starting until release is called; false while one runs.
	Hold() (release func(), ok bool)
}

type InstrumentStore interface {
	List(ctx context.Context) ([]domain.Instrument, error)
	Get(ctx context.Context, symbol string) (domain.Instrument, error)
	Create(ctx context.Context, inst domain.Instrument) (domain.Instrument, error)
	Save(ctx context.Context, inst domain.Instrument) error
	Delete(ctx context.Context, symbol string) error
}

// AuditReader reads the append-only trail.
type AuditReader interface {
	AuditRecordsAfter(index uint64) ([]domain.AuditRecordEntry, error)
	OracleCallsAfter(index uint64) ([]domain.OracleCallEntry, error)
	CycleReportsAfter(index uint64) ([]domain.CycleReportEntry, error)
	LastMarketState() (*domain.MarketStateRecord, error)
}

type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Info is static runtime information shown on the status endpoint.
type Info struct {
	Version     string `json:"version"`
	Broker      string `json:"broker"`
	Schedule    string `json:"schedule"`
	Active      bool   `json:"active"`
	AutoExecute bool   `json:"auto_execute"`
}

type Options struct {
	Addr string
	// Token protects /api with a bearer token when set.
	Token       string
	Info        Info
	Cycler      Cycler
	Instruments InstrumentStore
	Audit       AuditReader
	Events      *events.Broadcaster
	Notifier    Notifier
	Metrics     http.Handler
	// IsNotFound and IsConflict classify store errors, IsBusy detects overlapping cycles.
	IsNotFound func(error) bool
	IsConflict func(error) bool
	IsBusy     func(error) bool
	Logger     *zap.Logger
}

// Server is the gin control API.
type Server struct {
	opts   Options
	router *gin.Engine
	logger *zap.Logger
}

func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IsNotFound == nil {
		opts.IsNotFound = func(error) bool { return false }
	}
	if opts.IsConflict == nil {
		opts.IsConflict = func(error) bool { return false }
	}
	if opts.IsBusy == nil {
		opts.IsBusy = func(error) bool { return false }
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{opts: opts, router: router, logger: opts.Logger}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := s.router.Group("/api", s.auth)
	api.GET("/status", s.handleStatus)
	api.POST("/cycle", s.handleCycle)

	api.GET("/instruments", s.handleListInstruments)
	api.GET("/instruments/:symbol", s.handleGetInstrument)
	api.POST("/instruments", s.handleCreateInstrument)
	api.PUT("/instruments/:symbol", s.handleUpdateInstrument)
	api.DELETE("/instruments/:symbol", s.handleDeleteInstrument)

	api.GET("/audit", s.handleAudit)
	api.GET("/audit/stream", s.handleAuditStream)
	api.GET("/oracle-calls", s.handleOracleCalls)
	api.GET("/cycles", s.handleCycles)
	api.GET("/events", s.handleEvents)

	api.POST("/notify/test", s.handleTestNotification)
}

func (s *Server) auth(c *gin.Context) {
	if s.opts.Token == "" {
		c.Next()
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("control api listening", zap.String("addr", s.opts.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates and an HTTP
// server on port 80 for the HTTP-01 challenge.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.logger.Info("control api listening with tls", zap.String("addr", s.opts.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
