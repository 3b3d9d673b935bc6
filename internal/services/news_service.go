package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"
)

// NewsService runs the tech-news aggregation pipeline: fetch from the fixed
// sources, filter, dedupe, balance, summarize through the LLM, render a PDF.
type NewsService struct {
	llm       *LLMService
	config    *config.Config
	logger    *logger.Logger
	parser    *gofeed.Parser
	collector *colly.Collector
}

type newsSource struct {
	Name         string
	Aliases      []string
	FeedURLs     []string
	PageURLs     []string
	Selectors    []string
	FallbackLink string
}

var newsSources = []newsSource{
	{
		Name: "TechCrunch",
		FeedURLs: []string{
			"https://techcrunch.com/feed/",
			"http://feeds.feedburner.com/TechCrunch/",
		},
	},
	{
		Name:     "Wired",
		FeedURLs: []string{"https://www.wired.com/feed/rss"},
	},
	{
		Name:     "36Kr",
		FeedURLs: []string{"https://36kr.com/feed"},
		PageURLs: []string{"https://36kr.com/newsflashes", "https://36kr.com/"},
		Selectors: []string{
			".newsflash-item .newsflash-item-title",
			".newsflash-item .title",
			`a[href*="/newsflashes/"]`,
		},
		FallbackLink: "https://36kr.com/",
	},
	{
		Name:    "MIT Technology Review",
		Aliases: []string{"MIT"},
		FeedURLs: []string{
			"https://www.technologyreview.com/feed/",
			"https://www.technologyreview.com/topics/rss/",
			"https://www.technologyreview.com/stories.rss",
		},
		PageURLs: []string{"https://www.technologyreview.com/"},
		Selectors: []string{
			"h3 a",
			".headline a",
			"article h2 a",
			`a[href*="/article/"]`,
			`a[href*="/story/"]`,
		},
		FallbackLink: "https://www.technologyreview.com/",
	},
}

var techKeywords = []string{
	// AI
	"AI", "Artificial Intelligence", "Machine Learning", "Deep Learning", "Neural Network",
	"Large Language Model", "LLM", "GPT", "Generative AI", "Computer Vision",
	"Natural Language Processing", "NLP", "Autonomous", "自动驾驶", "人工智能", "机器学习",
	// biotech
	"Biotech", "Biopharma", "Gene Editing", "CRISPR", "mRNA", "Vaccine", "Therapeutics",
	"Precision Medicine", "Clinical Trial", "FDA approval", "生物技术", "基因编辑", "疫苗",
	"医药", "临床试验",
	// robotics
	"Robotics", "Robot", "Automation", "Industrial Automation", "Cobot", "无人机",
	"Drone", "机器人", "自动化",
	// manufacturing
	"3D Printing", "Additive Manufacturing", "Advanced Manufacturing", "3D打印",
	// energy
	"Nuclear", "Nuclear Energy", "Fusion", "Fission", "Renewable Energy", "Solar", "Wind",
	"Battery", "Energy Storage", "核能", "核聚变", "可再生能源", "电池", "储能",
	// quantum
	"Quantum Computing", "Quantum", "Qubit", "量子计算", "量子",
	// space
	"Space", "Satellite", "Rocket", "Spacecraft", "太空", "卫星", "火箭",
	// frontier misc
	"Nanotechnology", "Biometrics", "VR", "AR", "Virtual Reality", "Augmented Reality",
	"Internet of Things", "IoT", "5G", "6G", "半导体", "芯片", "纳米技术", "虚拟现实",
}

var nonTechIndicators = []string{
	"pizza", "oven", "vacuum", "gift", "sexy", "dating", "relationship",
	"lice", "craft", "spa", "butt lift", "cosmetic", "entertainment",
	"financial", "stock", "investment", "bank", "loan", "credit",
	"shopping", "retail", "consumer", "lifestyle", "travel", "food",
}

const bilingualSummaryPrompt = `你是一位专业的科技新闻编辑，你的任务是为读者生成简洁、准确、有深度的科技新闻摘要。

请严格遵循以下要求生成摘要：

**语言要求：**
必须同时提供中文和英文两种语言的摘要

**格式要求：**
中文摘要：[2-3句中文摘要]
英文摘要：[2-3句英文摘要]

**内容要求：**
1. 用2-3句话概括新闻的核心内容
2. 突出技术亮点、创新点和行业影响
3. 指出该技术可能的应用场景或市场前景`

var newsUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

func NewNewsService(llm *LLMService, cfg *config.Config, log *logger.Logger) *NewsService {
	parser := gofeed.NewParser()
	parser.UserAgent = newsUserAgents[0]

	collector := colly.NewCollector(
		colly.UserAgent(newsUserAgents[0]),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.News.RequestTimeout)

	service := &NewsService{
		llm:       llm,
		config:    cfg,
		logger:    log,
		parser:    parser,
		collector: collector,
	}

	log.Info("news service initialized",
		"sources", len(newsSources),
		"max_articles", cfg.News.MaxArticles,
		"batch_size", cfg.News.BatchSize)

	return service
}

// IsTechRelated decides topical relevance: any tech keyword passes, any
// block-list word fails, anything else fails.
func IsTechRelated(title, description string) bool {
	combined := strings.ToLower(title + " " + description)
	for _, keyword := range techKeywords {
		if strings.Contains(combined, strings.ToLower(keyword)) {
			return true
		}
	}
	for _, indicator := range nonTechIndicators {
		if strings.Contains(combined, indicator) {
			return false
		}
	}
	return false
}

// DedupeArticles collapses articles sharing a (title, source) pair, keeping
// the first occurrence.
func DedupeArticles(articles []*models.Article) []*models.Article {
	seen := make(map[string]bool, len(articles))
	unique := make([]*models.Article, 0, len(articles))
	for _, article := range articles {
		key := article.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, article)
	}
	return unique
}

// BalanceArticlesBySource spreads the selection across sources. Round one
// gives every source max(1, total/sources) slots; round two hands leftover
// slots to the sources holding the most articles.
func BalanceArticlesBySource(articles []*models.Article, totalCount int) []*models.Article {
	if len(articles) == 0 {
		return nil
	}

	groups := make(map[string][]*models.Article)
	var order []string
	for _, article := range articles {
		if _, ok := groups[article.Source]; !ok {
			order = append(order, article.Source)
		}
		groups[article.Source] = append(groups[article.Source], article)
	}

	baseCount := totalCount / len(groups)
	if baseCount < 1 {
		baseCount = 1
	}

	var balanced []*models.Article
	for _, source := range order {
		group := groups[source]
		take := baseCount
		if take > len(group) {
			take = len(group)
		}
		balanced = append(balanced, group[:take]...)
	}

	remaining := totalCount - len(balanced)
	if remaining > 0 {
		sorted := make([]string, len(order))
		copy(sorted, order)
		// largest groups first
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				if len(groups[sorted[j]]) > len(groups[sorted[i]]) {
					sorted[i], sorted[j] = sorted[j], sorted[i]
				}
			}
		}
		for _, source := range sorted {
			if remaining <= 0 {
				break
			}
			group := groups[source]
			selected := 0
			for _, article := range balanced {
				if article.Source == source {
					selected++
				}
			}
			if selected < len(group) {
				balanced = append(balanced, group[selected])
				remaining--
			}
		}
	}

	if len(balanced) > totalCount {
		balanced = balanced[:totalCount]
	}
	return balanced
}

// IsMostlyChinese reports whether more than half of the runes are CJK.
func IsMostlyChinese(text string) bool {
	runes := []rune(text)
	if len(runes) == 0 {
		return false
	}
	chinese := 0
	for _, r := range runes {
		if r >= 0x4e00 && r <= 0x9fff {
			chinese++
		}
	}
	return float64(chinese)/float64(len(runes)) > 0.5
}

// IsMostlyEnglish reports whether the text is dominated by letters, spaces,
// and basic punctuation while not being mostly Chinese.
func IsMostlyEnglish(text string) bool {
	runes := []rune(text)
	if len(runes) == 0 {
		return false
	}
	english := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsSpace(r) || strings.ContainsRune(",.!?;:-", r) {
			english++
		}
	}
	return float64(english)/float64(len(runes)) > 0.7 && !IsMostlyChinese(text)
}

// ParseBilingualSummary splits LLM output into Chinese and English buckets.
// Section markers win; without them every line is classified by its
// character-class majority.
func ParseBilingualSummary(text string) models.BilingualSummary {
	result := models.BilingualSummary{
		Chinese: "未能解析中文摘要",
		English: "Failed to parse English summary",
	}

	var chineseLines, englishLines []string
	section := ""
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, "中文摘要") || strings.Contains(line, "Chinese Summary") {
			section = "chinese"
			continue
		}
		if strings.Contains(line, "英文摘要") || strings.Contains(line, "English Summary") {
			section = "english"
			continue
		}
		switch section {
		case "chinese":
			if IsMostlyChinese(line) {
				chineseLines = append(chineseLines, line)
			}
		case "english":
			if IsMostlyEnglish(line) {
				englishLines = append(englishLines, line)
			}
		}
	}

	if len(chineseLines) == 0 && len(englishLines) == 0 {
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if IsMostlyChinese(line) {
				chineseLines = append(chineseLines, line)
			} else if IsMostlyEnglish(line) {
				englishLines = append(englishLines, line)
			}
		}
	}

	if len(chineseLines) > 0 {
		result.Chinese = strings.Join(chineseLines, " ")
	}
	if len(englishLines) > 0 {
		result.English = strings.Join(englishLines, " ")
	}
	return result
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// TruncateContent collapses whitespace and caps the text at maxLen runes,
// appending an ellipsis marker when cut.
func TruncateContent(text string, maxLen int) string {
	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-3]) + "..."
}

var articleBodySelectors = []string{
	"article",
	".article-content",
	".post-content",
	".entry-content",
	".story-content",
	".content",
	"main",
	`[class*="article"]`,
	`[class*="content"]`,
	`[class*="post"]`,
}

// ExtractArticleText pulls readable body text out of a parsed page: body
// selectors first, then long paragraphs.
func ExtractArticleText(doc *goquery.Selection) string {
	doc.Find("script, style, nav, footer, header, aside").Remove()

	extracted := ""
	for _, selector := range articleBodySelectors {
		element := doc.Find(selector).First()
		if element.Length() == 0 {
			continue
		}
		var parts []string
		element.Find("p, h1, h2, h3").Each(func(_ int, node *goquery.Selection) {
			if len(parts) >= 8 {
				return
			}
			text := strings.TrimSpace(node.Text())
			if len([]rune(text)) > 50 {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			extracted = strings.Join(parts, " ")
			break
		}
	}

	if len([]rune(extracted)) < 200 {
		var parts []string
		doc.Find("p").Each(func(_ int, node *goquery.Selection) {
			if len(parts) >= 6 {
				return
			}
			text := strings.TrimSpace(node.Text())
			if len([]rune(text)) > 100 {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			extracted = strings.Join(parts, " ")
		}
	}

	if extracted == "" {
		return ""
	}
	return TruncateContent(extracted, 1500)
}

func (service *NewsService) fetchArticleContent(link string) string {
	collector := service.collector.Clone()

	content := ""
	collector.OnHTML("html", func(element *colly.HTMLElement) {
		content = ExtractArticleText(element.DOM)
	})

	if err := collector.Visit(link); err != nil {
		service.logger.Warn("article fetch failed", "link", link, "error", err.Error())
		return fmt.Sprintf("提取内容时出错: %v", err)
	}
	collector.Wait()

	if content == "" {
		return "无法提取文章内容"
	}
	return content
}

func (service *NewsService) fetchFromFeeds(ctx context.Context, source newsSource, maxArticles int) []*models.Article {
	for _, feedURL := range source.FeedURLs {
		feed, err := service.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			service.logger.Warn("feed fetch failed", "source", source.Name, "url", feedURL, "error", err.Error())
			continue
		}
		if len(feed.Items) == 0 {
			continue
		}

		var articles []*models.Article
		for _, item := range feed.Items {
			if len(articles) >= maxArticles {
				break
			}
			if !IsTechRelated(item.Title, item.Description) {
				continue
			}
			article := &models.Article{
				Title:       item.Title,
				Link:        item.Link,
				Source:      source.Name,
				Description: item.Description,
			}
			if item.PublishedParsed != nil {
				article.PublishedAt = *item.PublishedParsed
			}
			articles = append(articles, article)
		}
		service.logger.Info("feed fetched", "source", source.Name, "total", len(feed.Items), "kept", len(articles))
		return articles
	}
	return nil
}

func (service *NewsService) scrapeSource(source newsSource, maxArticles int) []*models.Article {
	for _, pageURL := range source.PageURLs {
		collector := service.collector.Clone()

		seen := map[string]bool{}
		var articles []*models.Article

		collector.OnHTML("html", func(element *colly.HTMLElement) {
			for _, selector := range source.Selectors {
				element.DOM.Find(selector).Each(func(_ int, node *goquery.Selection) {
					if len(articles) >= maxArticles {
						return
					}
					title := strings.TrimSpace(node.Text())
					if len([]rune(title)) <= 5 || len([]rune(title)) >= 200 || seen[title] {
						return
					}
					if !IsTechRelated(title, "") {
						return
					}
					seen[title] = true
					link := source.FallbackLink
					if href, ok := node.Attr("href"); ok && href != "" {
						if strings.HasPrefix(href, "http") {
							link = href
						} else {
							link = strings.TrimSuffix(source.FallbackLink, "/") + href
						}
					}
					articles = append(articles, &models.Article{
						Title:  title,
						Link:   link,
						Source: source.Name,
					})
				})
				if len(articles) > 0 {
					break
				}
			}
		})

		if err := collector.Visit(pageURL); err != nil {
			service.logger.Warn("page scrape failed", "source", source.Name, "url", pageURL, "error", err.Error())
			continue
		}
		collector.Wait()

		if len(articles) > 0 {
			return articles
		}
	}
	return nil
}

// FetchSource pulls articles from one named source, RSS first with
// HTML-scrape fallback.
func (service *NewsService) FetchSource(ctx context.Context, name string, maxArticles int) ([]*models.Article, error) {
	source, ok := lookupSource(name)
	if !ok {
		return nil, models.NewValidationError("NEWS_SOURCE", fmt.Sprintf("unknown news source %q", name))
	}

	articles := service.fetchFromFeeds(ctx, source, maxArticles)
	if len(articles) == 0 && len(source.PageURLs) > 0 {
		articles = service.scrapeSource(source, maxArticles)
	}
	return articles, nil
}

func lookupSource(name string) (newsSource, bool) {
	for _, source := range newsSources {
		if strings.EqualFold(source.Name, name) {
			return source, true
		}
		for _, alias := range source.Aliases {
			if strings.EqualFold(alias, name) {
				return source, true
			}
		}
	}
	return newsSource{}, false
}

// SourceNames lists the canonical source names in fetch order.
func SourceNames() []string {
	names := make([]string, 0, len(newsSources))
	for _, source := range newsSources {
		names = append(names, source.Name)
	}
	return names
}

// ExtractTitleKeywords keeps the tech keywords appearing in the title.
func ExtractTitleKeywords(title string) []string {
	lower := strings.ToLower(title)
	var keywords []string
	for _, keyword := range techKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			keywords = append(keywords, keyword)
		}
	}
	return keywords
}

func (service *NewsService) generateSummary(ctx context.Context, article *models.Article) models.BilingualSummary {
	if service.llm == nil {
		return models.BilingualSummary{
			Chinese: "AI客户端未配置，无法生成AI摘要",
			English: "LLM client not configured, unable to generate AI summary",
		}
	}
	if strings.Contains(article.Content, "出错") || strings.Contains(article.Content, "无法提取") {
		return models.BilingualSummary{
			Chinese: "无法获取文章内容，无法生成摘要",
			English: "Unable to retrieve article content, cannot generate summary",
		}
	}

	temperature := 0.3
	output, err := service.llm.Generate(ctx, GenerationRequest{
		SystemRole:  bilingualSummaryPrompt,
		Prompt:      fmt.Sprintf("请为以下科技新闻生成中英文双语摘要：\n\n标题：%s\n\n内容：%s", article.Title, article.Content),
		MaxTokens:   800,
		Temperature: &temperature,
	})
	if err != nil {
		return models.BilingualSummary{
			Chinese: fmt.Sprintf("AI摘要生成失败: %v", err),
			English: fmt.Sprintf("AI summary generation failed: %v", err),
		}
	}
	return ParseBilingualSummary(output)
}

func (service *NewsService) processArticle(ctx context.Context, article *models.Article) {
	article.Content = service.fetchArticleContent(article.Link)
	summary := service.generateSummary(ctx, article)
	article.Summary = &summary
	article.Keywords = ExtractTitleKeywords(article.Title)
}

type DigestOptions struct {
	EnableAISummary bool
	TotalArticles   int
	PerSource       int
	Sources         []string
}

type DigestStats struct {
	TotalArticles      int            `json:"total_articles"`
	SourceDistribution map[string]int `json:"source_distribution"`
	HasAISummary       bool           `json:"has_ai_summary"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// GenerateDigest runs the whole pipeline and returns the rendered PDF.
func (service *NewsService) GenerateDigest(ctx context.Context, opts DigestOptions) ([]byte, *DigestStats, error) {
	startTime := time.Now()

	totalArticles := opts.TotalArticles
	if totalArticles <= 0 {
		totalArticles = service.config.News.MaxArticles
	}
	perSource := opts.PerSource
	if perSource <= 0 {
		perSource = 8
	}
	sources := opts.Sources
	if len(sources) == 0 {
		sources = SourceNames()
	}

	var all []*models.Article
	sourceStats := make(map[string]int, len(sources))
	for i, name := range sources {
		articles, err := service.FetchSource(ctx, name, perSource)
		if err != nil {
			service.logger.Warn("source skipped", "source", name, "error", err.Error())
			continue
		}
		canonical, _ := lookupSource(name)
		sourceStats[canonical.Name] = len(articles)
		all = append(all, articles...)

		if i < len(sources)-1 {
			select {
			case <-time.After(service.config.News.FetchDelay):
			case <-ctx.Done():
				return nil, nil, models.NewTimeoutError("NEWS_TIMEOUT", "digest cancelled").WithCause(ctx.Err())
			}
		}
	}

	unique := DedupeArticles(all)
	balanced := BalanceArticlesBySource(unique, totalArticles)
	service.logger.Info("articles selected",
		"fetched", len(all), "unique", len(unique), "selected", len(balanced))

	final := balanced
	if opts.EnableAISummary && service.llm != nil {
		final = service.processInBatches(ctx, balanced)
	}

	if len(final) == 0 {
		return nil, nil, models.NewExternalError("NEWS_EMPTY", "no articles available from any source")
	}

	stats := &DigestStats{
		TotalArticles:      len(final),
		SourceDistribution: sourceStats,
		HasAISummary:       opts.EnableAISummary && service.llm != nil,
		GeneratedAt:        time.Now(),
	}

	pdf, err := RenderNewsDigest(final, sourceStats, service.config.News.CJKFontPath)
	service.logger.LogService("news", "generate_digest", time.Since(startTime), map[string]interface{}{
		"articles": len(final),
		"pdf_size": len(pdf),
	}, err)
	if err != nil {
		return nil, nil, err
	}
	return pdf, stats, nil
}

// processInBatches extracts content and summaries in fixed-size concurrent
// batches with a delay between batches. Output order follows completion
// order, not input order.
func (service *NewsService) processInBatches(ctx context.Context, articles []*models.Article) []*models.Article {
	batchSize := service.config.News.BatchSize
	if batchSize <= 0 {
		batchSize = 3
	}

	var (
		mu        sync.Mutex
		processed []*models.Article
	)

	for start := 0; start < len(articles); start += batchSize {
		end := start + batchSize
		if end > len(articles) {
			end = len(articles)
		}

		var wg sync.WaitGroup
		for _, article := range articles[start:end] {
			wg.Add(1)
			go func(article *models.Article) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						service.logger.Error("article processing panicked", "title", article.Title, "panic", fmt.Sprintf("%v", r))
					}
				}()
				service.processArticle(ctx, article)
				mu.Lock()
				processed = append(processed, article)
				mu.Unlock()
			}(article)
		}
		wg.Wait()

		if end < len(articles) {
			select {
			case <-time.After(service.config.News.BatchDelay):
			case <-ctx.Done():
				return processed
			}
		}
	}
	return processed
}
