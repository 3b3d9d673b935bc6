package services

import (
	"context"
	"strings"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// LLMService talks to an OpenAI-compatible chat-completions endpoint.
type LLMService struct {
	client openai.Client
	config *config.Config
	logger *logger.Logger
}

type GenerationRequest struct {
	SystemRole  string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

func NewLLMService(cfg *config.Config, log *logger.Logger) (*LLMService, error) {
	if cfg.LLM.APIKey == "" {
		return nil, models.NewValidationError("LLM_CONFIG", "LLM API key is not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.LLM.APIKey)}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.LLM.BaseURL))
	}

	service := &LLMService{
		client: openai.NewClient(opts...),
		config: cfg,
		logger: log,
	}

	log.Info("LLM service initialized",
		"model", cfg.LLM.Model,
		"base_url", cfg.LLM.BaseURL,
		"max_retries", cfg.LLM.MaxRetries)

	return service, nil
}

// Generate runs one chat completion, retrying transient failures up to the
// configured attempt count. Context cancellation stops the retry loop.
func (service *LLMService) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	startTime := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = service.config.LLM.MaxTokens
	}
	temperature := service.config.LLM.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(service.config.LLM.Model),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}
	if req.SystemRole != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemRole))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))

	var lastErr error
	for attempt := 1; attempt <= service.config.LLM.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, service.config.LLM.Timeout)
		completion, err := service.client.Chat.Completions.New(callCtx, params)
		cancel()

		if err == nil {
			if len(completion.Choices) == 0 {
				lastErr = models.NewExternalError("LLM_EMPTY", "completion returned no choices")
			} else {
				content := strings.TrimSpace(completion.Choices[0].Message.Content)
				service.logger.LogService("llm", "generate", time.Since(startTime), map[string]interface{}{
					"attempt":       attempt,
					"prompt_length": len(req.Prompt),
					"output_length": len(content),
				}, nil)
				return content, nil
			}
		} else {
			lastErr = models.WrapExternalError("LLM", err).WithMetadata("attempt", attempt)
		}

		service.logger.Warn("LLM call failed, retrying",
			"attempt", attempt,
			"max_retries", service.config.LLM.MaxRetries,
			"error", lastErr.Error())

		if attempt < service.config.LLM.MaxRetries {
			select {
			case <-time.After(service.config.LLM.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return "", models.NewTimeoutError("LLM_TIMEOUT", "generation cancelled").WithCause(ctx.Err())
			}
		}
	}

	service.logger.LogService("llm", "generate", time.Since(startTime), nil, lastErr)
	return "", lastErr
}

func (service *LLMService) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := service.client.Chat.Completions.New(checkCtx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(service.config.LLM.Model),
		MaxTokens: openai.Int(8),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("Respond with 'OK'"),
		},
	})
	if err != nil {
		return models.WrapExternalError("LLM", err)
	}
	return nil
}
