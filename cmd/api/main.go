package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trellis-api/internal/middleware"
	"trellis-api/internal/routers"
	"trellis-api/internal/shared"
	"trellis-api/internal/trellis"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	port := flag.String("port", "5000", "Listen port")
	modelEndpoint := flag.String("model-endpoint", "", "TRELLIS sidecar base URL")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	workspaceRoot := flag.String("workspace-root", "", "Workspace root directory (defaults to the system temp dir)")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	// Model loads once at startup. A failed probe is not fatal: generation
	// routes answer 503 until the sidecar comes back and the process restarts.
	model := trellis.NewClient(*modelEndpoint, log)
	initCtx, cancelInit := context.WithTimeout(context.Background(), shared.DefaultInitTimeout)
	if err := model.Init(initCtx); err != nil {
		log.Errorw("model failed to initialize, generation requests will be rejected", "error", err)
	}
	cancelInit()

	e := echo.New()
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	// Register routes
	err = routers.RegisterGenerateRoutes(base, routers.GenerateRouterConfig{
		Model:         model,
		WorkspaceRoot: *workspaceRoot,
	}, log)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := e.Start(":" + *port); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Wait for interrupt signal to gracefully shut down the server with a timeout.
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
