package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/handlers"
	"aria-assistant-pipeline/internal/pkg/logger"
	"aria-assistant-pipeline/internal/services"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	log.Info("starting assistant pipeline",
		"environment", cfg.Environment,
		"port", cfg.HTTP.Port,
	)

	llmService, err := services.NewLLMService(cfg, log)
	if err != nil {
		log.Error("failed to initialize LLM service", "error", err)
		os.Exit(1)
	}

	calendarService := services.NewCalendarService(context.Background(), cfg, log)

	stockService := services.NewStockService(llmService, cfg, log)
	newsService := services.NewNewsService(llmService, cfg, log)
	emailService := services.NewEmailService(cfg, log)
	courierService := services.NewCourierService(cfg, log)

	memoryService, err := services.NewMemoryService(cfg, log)
	if err != nil {
		log.Error("failed to initialize memory service", "error", err)
		os.Exit(1)
	}

	agentService := services.NewAgentService(
		llmService,
		calendarService,
		stockService,
		newsService,
		emailService,
		courierService,
		memoryService,
		cfg,
		log,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	handler := handlers.NewAssistantHandler(agentService, log)
	handler.RegisterHealthCheck("llm", llmService.HealthCheck)
	handler.RegisterHealthCheck("calendar", calendarService.HealthCheck)
	if memoryService.Enabled() {
		handler.RegisterHealthCheck("memory", memoryService.HealthCheck)
	}
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := memoryService.Close(); err != nil {
		log.Warn("failed to close memory service", "error", err)
	}

	log.Info("shutdown complete")
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
