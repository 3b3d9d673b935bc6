package services_test

import (
	"fmt"
	"strings"
	"testing"

	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/services"
)

func TestIsTechRelated(t *testing.T) {
	cases := []struct {
		title       string
		description string
		want        bool
	}{
		{"OpenAI releases new model", "the latest in AI research", true},
		{"人工智能芯片出货量创新高", "半导体行业报告", true},
		{"Best soup recipes for fall", "cooking at home", false},
		{"Best gift ideas this season", "shopping guide", false},
		{"Monthly weather outlook", "", false},
	}

	for _, tc := range cases {
		if got := services.IsTechRelated(tc.title, tc.description); got != tc.want {
			t.Errorf("IsTechRelated(%q, %q) = %v, want %v", tc.title, tc.description, got, tc.want)
		}
	}
}

func TestDedupeArticles(t *testing.T) {
	articles := []*models.Article{
		{Title: "AI breakthrough", Source: "TechCrunch", Link: "https://a"},
		{Title: "AI breakthrough", Source: "TechCrunch", Link: "https://b"},
		{Title: "AI breakthrough", Source: "Wired", Link: "https://c"},
	}

	unique := services.DedupeArticles(articles)

	if len(unique) != 2 {
		t.Fatalf("Expected 2 unique articles, got %d", len(unique))
	}
	if unique[0].Link != "https://a" {
		t.Errorf("Dedupe should keep the first occurrence, got %s", unique[0].Link)
	}
}

func TestBalanceArticlesBySourceDrawsFromAllSources(t *testing.T) {
	var articles []*models.Article
	for _, source := range []string{"TechCrunch", "Wired", "36Kr"} {
		for i := 0; i < 5; i++ {
			articles = append(articles, &models.Article{
				Title:  fmt.Sprintf("%s article %d", source, i),
				Source: source,
			})
		}
	}

	balanced := services.BalanceArticlesBySource(articles, 6)

	if len(balanced) != 6 {
		t.Fatalf("Expected 6 articles, got %d", len(balanced))
	}
	counts := map[string]int{}
	for _, article := range balanced {
		counts[article.Source]++
	}
	for _, source := range []string{"TechCrunch", "Wired", "36Kr"} {
		if counts[source] != 2 {
			t.Errorf("Expected 2 articles from %s, got %d", source, counts[source])
		}
	}
}

func TestBalanceArticlesBySourceSmallGroups(t *testing.T) {
	articles := []*models.Article{
		{Title: "a1", Source: "A"},
		{Title: "a2", Source: "A"},
		{Title: "a3", Source: "A"},
		{Title: "b1", Source: "B"},
	}

	balanced := services.BalanceArticlesBySource(articles, 4)

	if len(balanced) != 4 {
		t.Fatalf("Expected 4 articles, got %d", len(balanced))
	}
	counts := map[string]int{}
	for _, article := range balanced {
		counts[article.Source]++
	}
	if counts["A"] != 3 || counts["B"] != 1 {
		t.Errorf("Leftover slots should go to the larger group: got %v", counts)
	}
}

func TestBalanceArticlesBySourceCapsAtTotal(t *testing.T) {
	articles := []*models.Article{
		{Title: "a1", Source: "A"},
		{Title: "b1", Source: "B"},
		{Title: "c1", Source: "C"},
	}

	balanced := services.BalanceArticlesBySource(articles, 2)

	if len(balanced) != 2 {
		t.Errorf("Expected flat cap at 2 even with base quota 1 per source, got %d", len(balanced))
	}
}

func TestIsMostlyChinese(t *testing.T) {
	if !services.IsMostlyChinese("人工智能正在改变世界") {
		t.Error("Pure Chinese text should be mostly Chinese")
	}
	if services.IsMostlyChinese("AI is changing the world") {
		t.Error("English text should not be mostly Chinese")
	}
	if services.IsMostlyChinese("") {
		t.Error("Empty text should not be mostly Chinese")
	}
}

func TestIsMostlyEnglish(t *testing.T) {
	if !services.IsMostlyEnglish("AI is changing the world, fast.") {
		t.Error("English sentence should be mostly English")
	}
	if services.IsMostlyEnglish("人工智能正在改变世界") {
		t.Error("Chinese text should not be mostly English")
	}
}

func TestParseBilingualSummaryWithMarkers(t *testing.T) {
	text := "中文摘要：\n人工智能芯片市场持续增长，推动行业变革。\n英文摘要：\nThe AI chip market keeps growing and reshaping the industry."

	summary := services.ParseBilingualSummary(text)

	if !strings.Contains(summary.Chinese, "人工智能芯片市场") {
		t.Errorf("Chinese summary not captured: %q", summary.Chinese)
	}
	if !strings.Contains(summary.English, "AI chip market") {
		t.Errorf("English summary not captured: %q", summary.English)
	}
}

func TestParseBilingualSummaryWithoutMarkers(t *testing.T) {
	text := "人工智能芯片市场持续增长。\nThe AI chip market keeps growing fast."

	summary := services.ParseBilingualSummary(text)

	if !strings.Contains(summary.Chinese, "人工智能") {
		t.Errorf("Line classification should recover the Chinese line, got %q", summary.Chinese)
	}
	if !strings.Contains(summary.English, "chip market") {
		t.Errorf("Line classification should recover the English line, got %q", summary.English)
	}
}

func TestParseBilingualSummaryFallbackDefaults(t *testing.T) {
	summary := services.ParseBilingualSummary("12345 67890 !!!")

	if summary.Chinese != "未能解析中文摘要" {
		t.Errorf("Expected Chinese fallback, got %q", summary.Chinese)
	}
	if summary.English != "Failed to parse English summary" {
		t.Errorf("Expected English fallback, got %q", summary.English)
	}
}

func TestTruncateContent(t *testing.T) {
	collapsed := services.TruncateContent("hello   world\n\n  again", 100)
	if collapsed != "hello world again" {
		t.Errorf("Whitespace should collapse to single spaces, got %q", collapsed)
	}

	long := strings.Repeat("字", 30)
	cut := services.TruncateContent(long, 10)
	if len([]rune(cut)) != 10 {
		t.Errorf("Expected 10 runes after truncation, got %d", len([]rune(cut)))
	}
	if !strings.HasSuffix(cut, "...") {
		t.Errorf("Truncated content should end with ellipsis, got %q", cut)
	}
}

func TestSourceNames(t *testing.T) {
	names := services.SourceNames()

	if len(names) != 4 {
		t.Fatalf("Expected 4 sources, got %d", len(names))
	}
	want := map[string]bool{"TechCrunch": true, "Wired": true, "36Kr": true, "MIT Technology Review": true}
	for _, name := range names {
		if !want[name] {
			t.Errorf("Unexpected source %s", name)
		}
	}
}

func TestExtractTitleKeywords(t *testing.T) {
	keywords := services.ExtractTitleKeywords("OpenAI launches new AI chip for robotics startups")

	if len(keywords) == 0 {
		t.Fatal("Expected keywords from a tech title")
	}
	joined := strings.ToLower(strings.Join(keywords, " "))
	if !strings.Contains(joined, "ai") && !strings.Contains(joined, "chip") {
		t.Errorf("Expected tech terms among keywords, got %v", keywords)
	}
}
