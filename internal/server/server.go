// Package server is the bundled reference server run by "apprun serve". It
// serves a static document root and announces its address through the
// runtime state store once it is accepting connections.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/apprun/internal/metrics"
	"github.com/loykin/apprun/internal/runstate"
)

const DefaultShutdownTimeout = 5 * time.Second

// Config configures Run.
type Config struct {
	Root            string
	Addr            string // default 127.0.0.1:0
	Store           runstate.Store
	Out             io.Writer // banner lines
	Log             *slog.Logger
	ShutdownTimeout time.Duration
}

// NewRouter returns the gin handler for root:
//
//	GET /         index.html
//	GET /draw     draw.html
//	GET /healthz  {"status":"ok"}
//	GET /metrics  Prometheus metrics
//	anything else is served from root
func NewRouter(root string, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	g := gin.New()
	g.Use(gin.Recovery(), requestMetrics(log))
	g.GET("/", func(c *gin.Context) { c.File(filepath.Join(root, "index.html")) })
	g.GET("/draw", func(c *gin.Context) { c.File(filepath.Join(root, "draw.html")) })
	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	files := http.FileServer(gin.Dir(root, false))
	g.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	})
	return g
}

func requestMetrics(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		metrics.IncHTTPRequest(c.Request.Method, strconv.Itoa(status))
		log.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "duration", time.Since(start))
	}
}

// Run serves until ctx is cancelled. The endpoint record is written only
// after the listener is bound and is cleared again on shutdown.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Store == nil {
		return errors.New("server: store is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	fi, err := os.Stat(cfg.Root)
	if err != nil {
		return fmt.Errorf("document root not found: %s", cfg.Root)
	}
	if !fi.IsDir() {
		return fmt.Errorf("document root is not a directory: %s", cfg.Root)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	url := "http://" + ln.Addr().String() + "/"

	srv := &http.Server{
		Handler:           NewRouter(cfg.Root, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if err := cfg.Store.WriteEndpoint(runstate.Endpoint{Address: url}); err != nil {
		_ = srv.Close()
		return fmt.Errorf("write endpoint: %w", err)
	}
	defer clearOwnEndpoint(cfg.Store, url, log)

	_, _ = fmt.Fprintln(out, "apprun server started")
	_, _ = fmt.Fprintf(out, "   docroot: %s\n", cfg.Root)
	_, _ = fmt.Fprintf(out, "   open:    %s\n", url)
	_, _ = fmt.Fprintf(out, "   draw:    %sdraw\n", url)
	_, _ = fmt.Fprintln(out, "   stop:    apprun stop")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	_, _ = fmt.Fprintln(out, "server stopped")
	return nil
}

// clearOwnEndpoint removes the endpoint record unless another server has
// replaced it since.
func clearOwnEndpoint(store runstate.Store, url string, log *slog.Logger) {
	ep, ok, err := store.ReadEndpoint()
	if err != nil || !ok || ep.Address != url {
		return
	}
	if err := store.ClearEndpoint(); err != nil {
		log.Warn("failed to clear endpoint", "error", err)
	}
}
