package control

import (
	"context"
	goerrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the lifecycle manager as a local HTTP API
type Server struct {
	service Service
	engine  *gin.Engine
	logger  logging.Logger
}

func NewServer(service Service, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	s := &Server{
		service: service,
		logger:  logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", s.healthHandler)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.statusHandler)
		v1.POST("/start", s.startHandler)
		v1.POST("/stop", s.stopHandler)
		v1.POST("/update", s.updateHandler)
		v1.PUT("/config", s.configHandler)
		v1.GET("/probe", s.probeAllHandler)
		v1.GET("/probe/:target", s.probeHandler)
		v1.GET("/events", s.eventsHandler)
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewNetworkError("failed to listen", err).WithContext("address", addr)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on an existing listener until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Infof("Control API listening, address: %s", listener.Addr())
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !goerrors.Is(err, http.ErrServerClosed) {
			return errors.NewNetworkError("control API failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Infof("Control API shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Event streams may still be open; close them hard
		srv.Close()
		s.logger.Warnf("Control API forced close: %v", err)
	}
	<-serveErr
	return nil
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP request, method: %s, path: %s, status: %d, duration: %v",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
