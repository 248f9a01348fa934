package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/hopmq/internal/devbroker"
	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusOptions selects what the status router exposes. A nil source leaves
// its route unregistered.
type StatusOptions struct {
	Node        string
	CorsOrigins []string
	Sessions    func() []*session.Session
	Queues      func() []devbroker.VHostStats
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

func NewStatusRouter(opts StatusOptions) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(opts.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"node":   opts.Node,
			"uptime": time.Since(started).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.Sessions != nil {
		r.GET("/sessions", func(c *gin.Context) {
			out := make([]session.Stats, 0)
			for _, s := range opts.Sessions() {
				st, err := s.Stats(c.Request.Context())
				if err != nil {
					continue
				}
				out = append(out, st)
			}
			c.JSON(http.StatusOK, gin.H{"sessions": out})
		})
	}
	if opts.Queues != nil {
		r.GET("/queues", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"vhosts": opts.Queues()})
		})
	}
	return r
}

// ServeStatus runs h on addr until ctx is done.
func ServeStatus(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("status router listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
