package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-chat-hub/internal/audit"
	"go-chat-hub/internal/config"
	"go-chat-hub/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Journal is what the HTTP surface needs from the audit journal.
type Journal interface {
	AuthJournal
	AuditReader
}

var _ Journal = (*audit.AuditService)(nil)

type Dependencies struct {
	Config *config.Config
	Hub    *websocket.Hub
	Gate   Verifier
	Audit  Journal
	Logger *zap.Logger
}

type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
	router *Router
	log    *zap.Logger
}

func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(ZapLogger(deps.Logger.With(zap.String("component", "http"))), gin.Recovery())

	router := NewRouter(deps)
	router.RegisterRoutes(engine)

	return &Server{
		cfg:    deps.Config.Server,
		engine: engine,
		router: router,
		log:    deps.Logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens until ctx is cancelled, then shuts down gracefully. TLS is
// used when a certificate and key are configured.
func (s *Server) Serve(ctx context.Context) error {
	defer s.router.Close()

	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening",
			zap.String("address", s.cfg.Address),
			zap.Bool("tls", s.cfg.TLSCert != ""))
		if s.cfg.TLSCert != "" {
			errCh <- srv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}
