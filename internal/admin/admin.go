// Package admin is the daemon's HTTP surface: liveness, readiness, server
// status and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/guestbook/internal/observability"
	"github.com/danmuck/guestbook/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// StatsSource is the slice of the server the admin surface reports on.
type StatsSource interface {
	Stats() server.Stats
}

type Admin struct {
	addr    string
	source  StatsSource
	router  *gin.Engine
	started time.Time
	httpSrv *http.Server
}

func New(addr string, source StatsSource) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(observability.ComponentLogger("admin")))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		addr:    addr,
		source:  source,
		router:  r,
		started: time.Now(),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"service": "guestbookd",
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		st := a.source.Stats()
		ready := st.State == server.StateListening
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": ready,
			"state": st.State.String(),
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		st := a.source.Stats()
		c.JSON(http.StatusOK, gin.H{
			"state":   st.State.String(),
			"addr":    st.Addr,
			"workers": st.Workers,
			"busy":    st.Busy,
			"queued":  st.Queued,
			"uptime":  st.Uptime.String(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve blocks serving on ln until Shutdown.
func (a *Admin) Serve(ln net.Listener) error {
	a.httpSrv = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds the configured address and serves.
func (a *Admin) ListenAndServe() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	return a.Serve(ln)
}

func (a *Admin) Shutdown(ctx context.Context) error {
	if a.httpSrv == nil {
		return nil
	}
	return a.httpSrv.Shutdown(ctx)
}
