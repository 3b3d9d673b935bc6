package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// MemoryService keeps short-lived conversation context per user in Redis.
// It is optional: without a configured URL every lookup misses and every
// update is a no-op.
type MemoryService struct {
	client *redis.Client
	config *config.Config
	logger *logger.Logger
}

type ConversationMemory struct {
	LastQuery     string    `json:"last_query"`
	LastResponse  string    `json:"last_response"`
	RecentActions []string  `json:"recent_actions"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewMemoryService(cfg *config.Config, log *logger.Logger) (*MemoryService, error) {
	service := &MemoryService{config: cfg, logger: log}

	if cfg.Redis.URL == "" {
		log.Info("conversation memory disabled: no redis url configured")
		return service, nil
	}

	options, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, models.NewValidationError("REDIS_URL", "invalid redis url").WithCause(err)
	}
	options.PoolSize = cfg.Redis.PoolSize

	service.client = redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, conversation memory disabled", "error", err.Error())
		service.client = nil
		return service, nil
	}

	log.Info("conversation memory initialized", "pool_size", cfg.Redis.PoolSize)
	return service, nil
}

func (service *MemoryService) Enabled() bool {
	return service.client != nil
}

func memoryKey(userID string) string {
	return fmt.Sprintf("assistant:memory:%s", userID)
}

func (service *MemoryService) GetConversationMemory(ctx context.Context, userID string) (*ConversationMemory, error) {
	if service.client == nil {
		return nil, models.ErrContextNotFound
	}

	values, err := service.client.HGetAll(ctx, memoryKey(userID)).Result()
	if err != nil {
		return nil, models.WrapExternalError("REDIS", err)
	}
	if len(values) == 0 {
		return nil, models.ErrContextNotFound
	}

	memory := &ConversationMemory{
		LastQuery:    values["last_query"],
		LastResponse: values["last_response"],
	}
	if raw := values["recent_actions"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &memory.RecentActions); err != nil {
			service.logger.Warn("corrupt recent_actions field dropped", "user_id", userID)
		}
	}
	if raw := values["updated_at"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			memory.UpdatedAt = parsed
		}
	}
	return memory, nil
}

func (service *MemoryService) UpdateConversationMemory(ctx context.Context, userID string, memory *ConversationMemory) error {
	if service.client == nil {
		return nil
	}

	actions, err := json.Marshal(memory.RecentActions)
	if err != nil {
		return models.NewInternalError("MEMORY_ENCODE", "recent actions encoding failed").WithCause(err)
	}

	key := memoryKey(userID)
	pipe := service.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"last_query":     memory.LastQuery,
		"last_response":  memory.LastResponse,
		"recent_actions": string(actions),
		"updated_at":     time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, service.config.Redis.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return models.WrapExternalError("REDIS", err)
	}
	return nil
}

func (service *MemoryService) HealthCheck(ctx context.Context) error {
	if service.client == nil {
		return models.ErrServiceNotInitialized
	}
	if err := service.client.Ping(ctx).Err(); err != nil {
		return models.WrapExternalError("REDIS", err)
	}
	return nil
}

func (service *MemoryService) Close() error {
	if service.client == nil {
		return nil
	}
	return service.client.Close()
}
