package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/colloquy-ai/colloquy/config"
	"github.com/colloquy-ai/colloquy/internal/brainstorm"
	"github.com/colloquy-ai/colloquy/internal/dialogue"
	"github.com/colloquy-ai/colloquy/internal/transport"
)

// Run wires the coordinator, stores and handlers and serves the control API
// until the listener fails or the process exits.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging.
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	metrics := NewMetrics(prometheus.DefaultRegisterer)

	var onOpen func(sessionID, url string)
	if cfg.Dialogue.OpenBrowser {
		openLogger := log.New(log.Writer(), "[BROWSER] ", log.LstdFlags)
		onOpen = func(sessionID, url string) {
			if err := openBrowser(url); err != nil {
				openLogger.Printf("open %s for session %s: %v", url, sessionID, err)
			}
		}
	}

	mgr := dialogue.NewManager(dialogue.Options{
		Transport:      transport.Factory(transport.Options{Host: cfg.Dialogue.TransportHost}),
		DefaultTimeout: cfg.Dialogue.DefaultTimeout,
		Observer:       metrics,
		OnOpen:         onOpen,
	})

	store, err := brainstorm.NewStore(brainstorm.Kind(cfg.Storage.Kind), brainstorm.StoreOptions{
		BaseDir:       cfg.Storage.BaseDir,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		TTL:           cfg.Storage.Retention,
	})
	if err != nil {
		return err
	}
	if rs, ok := store.(*brainstorm.RedisStore); ok {
		if err := rs.Ping(context.Background()); err != nil {
			return err
		}
	}

	runner := brainstorm.NewRunner(store, mgr, nil, nil)

	api := e.Group("/api")
	(&DialogueHandler{Manager: mgr}).Register(api)
	bh := &BrainstormHandler{
		Store:  store,
		Runner: runner,
		Logger: log.New(log.Writer(), "[BRAINSTORM] ", log.LstdFlags),
	}
	bh.Register(api.Group("/brainstorms"))

	if fs, ok := store.(*brainstorm.FileStore); ok && cfg.Storage.Retention > 0 {
		jan, err := NewJanitor(fs.Dir(), cfg.Storage.Retention, cfg.Storage.SweepCron, nil)
		if err != nil {
			return err
		}
		jan.Start()
	}

	log.Printf("listening on %s", cfg.Server.Listen)
	return e.Start(cfg.Server.Listen)
}
