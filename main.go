package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/pdfpages/config"
	database "github.com/drummonds/pdfpages/database"
	engine "github.com/drummonds/pdfpages/engine"
	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfpage.Logger = Logger
}

// newEcho builds the echo instance with the JSON 404 handler and CORS
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	// Request logging
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
	}))

	// Health check endpoint
	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "pdfpages",
		})
	})
	return e
}

// @title pdfpages API
// @version 1.0
// @description Page level access to PDF documents: sizes, boxes, links, font sizes,
// @description coordinate transforms and rendering over a single native engine

// @BasePath /api
// @schemes http https

// @tag.name Documents
// @tag.description Upload, list and delete documents

// @tag.name Pages
// @tag.description Page queries and rendering

// @tag.name Transform
// @tag.description Page and device coordinate mapping

// @tag.name Admin
// @tag.description Cleanup and session housekeeping

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("🚀  EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println("• Perfect for testing and development")
		fmt.Println("• No persistent data storage")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	// Setup database (handles ephemeral, postgres, cockroachdb, sqlite)
	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db := database.NewRepository(serverConfig)
	defer db.Close()
	Logger.Info("Database setup complete")

	Logger.Info("Starting PDF engine", "engine", serverConfig.PDFEngine)
	pdfEngine, err := pdfrenderer.NewEngine(serverConfig.PDFEngine, serverConfig.InstanceTimeout)
	if err != nil {
		Logger.Error("Unable to start PDF engine", "engine", serverConfig.PDFEngine, "error", err)
		os.Exit(1)
	}
	defer pdfEngine.Close()

	e := newEcho()
	serverHandler := engine.NewServerHandler(db, e, serverConfig, pdfEngine)
	defer serverHandler.Sessions.CloseAll() // pages and documents go before the engine

	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete")
	scheduler := serverHandler.InitializeSchedules()
	defer scheduler.Stop()
	serverHandler.AddRoutes()

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			Logger.Error("Server shutdown failed", "error", err)
		}
	}()

	Logger.Info("Starting HTTP server")
	if err := startServer(e, &serverConfig); err != nil {
		Logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

// startServer starts echo, trying the next few ports if the configured one is taken
func startServer(e *echo.Echo, serverConfig *config.ServerConfig) error {
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr := e.Start(addr)
		switch {
		case startErr == nil, errors.Is(startErr, http.ErrServerClosed):
			if serverConfig.ListenAddrPort != startPort {
				Logger.Warn("Server ran on alternative port due to conflicts",
					"requested_port", startPort,
					"actual_port", serverConfig.ListenAddrPort)
			}
			return nil
		case isAddressInUse(startErr):
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			// Increment port for next attempt
			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)
		default:
			return startErr
		}
	}
	return fmt.Errorf("no free port found between %s and %s", startPort, serverConfig.ListenAddrPort)
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
