package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Assistant is the orchestrator surface the handler depends on.
type Assistant interface {
	ProcessRequest(ctx context.Context, req *models.AssistantRequest) *models.AssistantResponse
}

type AssistantHandler struct {
	assistant    Assistant
	logger       *logger.Logger
	healthChecks map[string]func(context.Context) error
	startTime    time.Time
}

func NewAssistantHandler(assistant Assistant, log *logger.Logger) *AssistantHandler {
	return &AssistantHandler{
		assistant:    assistant,
		logger:       log,
		healthChecks: map[string]func(context.Context) error{},
		startTime:    time.Now(),
	}
}

// RegisterHealthCheck adds a named dependency probe to the health endpoint.
func (handler *AssistantHandler) RegisterHealthCheck(name string, check func(context.Context) error) {
	handler.healthChecks[name] = check
}

func (handler *AssistantHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/assistant", handler.HandleAssistant)
	api.GET("/health", handler.HandleHealth)
}

// HandleAssistant runs one user request. Tool batches that produced a PDF
// answer with the binary; everything else answers with JSON.
func (handler *AssistantHandler) HandleAssistant(c *gin.Context) {
	var req models.AssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	response := handler.assistant.ProcessRequest(c.Request.Context(), &req)

	if response.Kind == models.ResponseKindPDF && len(response.PDF) > 0 {
		filename := response.Filename
		if filename == "" {
			filename = "report.pdf"
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		c.Header("X-Request-ID", response.RequestID)
		c.Data(http.StatusOK, "application/pdf", response.PDF)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (handler *AssistantHandler) HandleHealth(c *gin.Context) {
	checkCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status := http.StatusOK
	dependencies := gin.H{}
	for name, check := range handler.healthChecks {
		if err := check(checkCtx); err != nil {
			dependencies[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		dependencies[name] = gin.H{"status": "healthy"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":         overall,
		"uptime_seconds": int(time.Since(handler.startTime).Seconds()),
		"dependencies":   dependencies,
		"timestamp":      time.Now(),
	})
}
