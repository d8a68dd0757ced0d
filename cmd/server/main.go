package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/powlabs/proofwork/internal/classifier"
	apperrors "github.com/powlabs/proofwork/internal/errors"
	"github.com/powlabs/proofwork/internal/ingest"
	"github.com/powlabs/proofwork/internal/pipeline"
	"github.com/powlabs/proofwork/internal/progress"
	"github.com/powlabs/proofwork/internal/scoring"
	"github.com/powlabs/proofwork/internal/source"
	"github.com/powlabs/proofwork/internal/store"
)

func main() {
	// Structured logging setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded configuration from .env")
	}

	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	port := getEnvOrDefault("PORT", "8080")
	githubToken := os.Getenv("GITHUB_TOKEN")

	// Persistence
	st, err := store.NewSQLiteStore(dataDir)
	if err != nil {
		slog.Error("failed to initialize persistence store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Progress tracking: Redis when configured, in-process map otherwise.
	var progressStore progress.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisStore, err := progress.NewRedisStore(addr, os.Getenv("REDIS_PASSWORD"), envInt("REDIS_DB", 0))
		if err != nil {
			slog.Error("failed to connect progress store to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		progressStore = redisStore
	} else {
		progressStore = progress.NewMemoryStore()
	}

	// Pipeline components. The classifier gateway is constructed
	// optimistically; missing credentials surface at first use.
	gateway := classifier.NewGateway(classifier.Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  os.Getenv("ANTHROPIC_MODEL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
	})

	ingestor := ingest.NewIngestor(source.NewClient(githubToken))
	engine := scoring.NewEngine(gateway)
	service := pipeline.NewService(ingestor, gateway, engine, st, progressStore)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(apperrors.ErrorHandler())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := r.Group("/api/v1")

	api.POST("/profiles/:subject/generate", func(c *gin.Context) {
		subject := c.Param("subject")
		monthsBack, _ := strconv.Atoi(c.DefaultQuery("months_back", "12"))

		var err error
		var profile interface{}
		if c.Query("mode") == "fast" {
			profile, err = service.GenerateProfileFast(c.Request.Context(), subject, monthsBack)
		} else {
			profile, err = service.GenerateProfile(c.Request.Context(), subject, monthsBack)
		}
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, profile)
	})

	api.GET("/profiles/:subject", func(c *gin.Context) {
		profile, err := service.StoredProfile(c.Request.Context(), c.Param("subject"))
		if err == store.ErrProfileNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "no profile generated for subject"})
			return
		}
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, profile)
	})

	api.GET("/progress/:subject", func(c *gin.Context) {
		state, ok, err := service.Progress(c.Request.Context(), c.Param("subject"))
		if err != nil {
			c.Error(err)
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active pipeline run for subject"})
			return
		}

		c.JSON(http.StatusOK, state)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
