package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	DocumentPath     string
	ThumbnailPath    string
	EngineConfig
	HousekeepingConfig
}

// EngineConfig selects and tunes the native PDF engine
type EngineConfig struct {
	PDFEngine         string        // pdfium or fitz
	RenderDPI         int           // default DPI for page sessions
	RenderAnnotations bool          // default for the render annot parameter
	ThumbnailDPI      int           // DPI used when rendering thumbnails
	ThumbnailWidth    int           // thumbnails are fitted into a square of this size
	InstanceTimeout   time.Duration // how long to wait for the engine instance
}

// HousekeepingConfig drives the scheduled jobs
type HousekeepingConfig struct {
	SessionIdle  time.Duration // open pages unused this long are closed
	ReapInterval int           // minutes between idle session sweeps
	JobRetention time.Duration // finished jobs older than this are deleted
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvPositive is getEnvInt that also falls back on zero or negative values
func getEnvPositive(key string, defaultValue int) int {
	if value := getEnvInt(key, defaultValue); value > 0 {
		return value
	}
	return defaultValue
}

// absPath resolves a configured directory, logging rather than failing
func absPath(logger *slog.Logger, key, defaultValue string) string {
	relative := filepath.ToSlash(getEnv(key, defaultValue))
	abs, err := filepath.Abs(relative)
	if err != nil {
		logger.Error("Failed creating absolute path", "key", key, "path", relative, "error", err)
		return relative
	}
	return abs
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfigLive := LoadServerConfig(logger)

	fmt.Println("\n========================================")
	fmt.Println("   pdfpages - PDF Page Service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("PDF engine: %s\n", serverConfigLive.PDFEngine)
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "pdfpages.log"))
	fmt.Println("Initializing...")

	logger.Info("About to setup database", "type", serverConfigLive.DatabaseType)

	return serverConfigLive, logger
}

// LoadServerConfig reads the configuration from the environment only
func LoadServerConfig(logger *slog.Logger) ServerConfig {
	serverConfigLive := ServerConfig{}

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "pdfpages")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "pdfpages")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Storage configuration
	serverConfigLive.DocumentPath = absPath(logger, "DOCUMENT_PATH", "documents")
	serverConfigLive.ThumbnailPath = absPath(logger, "THUMBNAIL_PATH", "thumbnails")

	// Engine configuration
	serverConfigLive.PDFEngine = getEnv("PDF_ENGINE", "pdfium")
	serverConfigLive.RenderDPI = getEnvPositive("RENDER_DPI", 96)
	serverConfigLive.RenderAnnotations = getEnvBool("RENDER_ANNOTATIONS", true)
	serverConfigLive.ThumbnailDPI = getEnvPositive("THUMBNAIL_DPI", 72)
	serverConfigLive.ThumbnailWidth = getEnvPositive("THUMBNAIL_WIDTH", 256)
	serverConfigLive.InstanceTimeout = time.Duration(getEnvPositive("ENGINE_INSTANCE_TIMEOUT", 30)) * time.Second

	// Housekeeping configuration
	serverConfigLive.SessionIdle = time.Duration(getEnvPositive("SESSION_IDLE_MINUTES", 10)) * time.Minute
	serverConfigLive.ReapInterval = getEnvPositive("REAP_INTERVAL_MINUTES", 1)
	serverConfigLive.JobRetention = time.Duration(getEnvPositive("JOB_RETENTION_HOURS", 168)) * time.Hour

	logger.Info("Engine configuration loaded",
		"engine", serverConfigLive.PDFEngine,
		"renderDPI", serverConfigLive.RenderDPI,
		"sessionIdle", serverConfigLive.SessionIdle)

	return serverConfigLive
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdfpages.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
