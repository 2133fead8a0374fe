// Package server is the admin control plane: a small authenticated HTTP
// surface that relays sync-engine results to operators as JSON.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/pelican-ai/roost/internal/config"
	"github.com/pelican-ai/roost/internal/server/middleware"
	"github.com/pelican-ai/roost/internal/statesync"
)

type Server struct {
	cfg     *config.Config
	engine  *statesync.Engine
	mounter statesync.Mounter
	httpSrv *http.Server
}

func New(cfg *config.Config, engine *statesync.Engine, mounter statesync.Mounter) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		mounter: mounter,
	}
}

// Start serves the admin API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.AdminAddr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", s.cfg.AdminAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(sloggin.New(slog.Default()))
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())

	h := newHandlers(s.engine)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: s.cfg.AdminToken}))
	{
		v1.GET("/status", h.status)
		v1.POST("/mount", s.mount)
		v1.POST("/sync", h.sync)
		v1.POST("/restore", h.restore)
	}

	return r
}

// MountResponse relays the mount manager's result verbatim.
type MountResponse struct {
	Mounted bool   `json:"mounted"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) mount(c *gin.Context) {
	st := s.mounter.EnsureMounted(c.Request.Context(), s.cfg)
	c.PureJSON(http.StatusOK, &MountResponse{Mounted: st.Mounted, Detail: st.Detail})
}
