package config_test

import (
	"testing"
	"time"

	"aria-assistant-pipeline/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.HTTP.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.HTTP.Port)
	}
	if cfg.LLM.Model != "deepseek-v3" {
		t.Errorf("Expected default model deepseek-v3, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.LLM.MaxRetries)
	}
	if cfg.Google.Timezone != "Asia/Shanghai" {
		t.Errorf("Expected Asia/Shanghai, got %s", cfg.Google.Timezone)
	}
	if cfg.Google.CalendarID != "primary" {
		t.Errorf("Expected primary calendar, got %s", cfg.Google.CalendarID)
	}
	if cfg.News.MaxArticles != 10 {
		t.Errorf("Expected 10 max articles, got %d", cfg.News.MaxArticles)
	}
	if cfg.News.BatchSize != 3 {
		t.Errorf("Expected batch size 3, got %d", cfg.News.BatchSize)
	}
	if cfg.Courier.Endpoint != "https://poll.kuaidi100.com/poll/query.do" {
		t.Errorf("Unexpected courier endpoint %s", cfg.Courier.Endpoint)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("Expected error when LLM_API_KEY is missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LLM_MAX_RETRIES", "5")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("NEWS_DIGEST_RECIPIENTS", "a@b.com, c@d.com")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.HTTP.Port != "9090" {
		t.Errorf("Expected port override 9090, got %s", cfg.HTTP.Port)
	}
	if cfg.LLM.MaxRetries != 5 {
		t.Errorf("Expected 5 retries, got %d", cfg.LLM.MaxRetries)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %v", cfg.LLM.Timeout)
	}
	if len(cfg.News.DigestRecipients) != 2 || cfg.News.DigestRecipients[1] != "c@d.com" {
		t.Errorf("Recipient list should split and trim, got %v", cfg.News.DigestRecipients)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_MAX_RETRIES", "many")
	t.Setenv("LLM_TIMEOUT", "soon")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.LLM.MaxRetries != 3 {
		t.Errorf("Malformed int should fall back to default, got %d", cfg.LLM.MaxRetries)
	}
	if cfg.LLM.Timeout != 90*time.Second {
		t.Errorf("Malformed duration should fall back to default, got %v", cfg.LLM.Timeout)
	}
}
