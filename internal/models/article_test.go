package models_test

import (
	"testing"

	"aria-assistant-pipeline/internal/models"
)

func TestArticleDedupeKey(t *testing.T) {
	first := &models.Article{Title: "AI chips hit new milestone", Source: "TechCrunch"}
	duplicate := &models.Article{Title: "AI chips hit new milestone", Source: "TechCrunch"}
	otherSource := &models.Article{Title: "AI chips hit new milestone", Source: "Wired"}

	if first.DedupeKey() != duplicate.DedupeKey() {
		t.Error("Same title and source should produce the same dedupe key")
	}
	if first.DedupeKey() == otherSource.DedupeKey() {
		t.Error("Different sources should produce different dedupe keys")
	}
	if len(first.DedupeKey()) != 32 {
		t.Errorf("Expected 32-char md5 hex key, got %d chars", len(first.DedupeKey()))
	}
}
