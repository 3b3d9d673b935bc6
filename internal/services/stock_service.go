package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// StockService asks the LLM for an HTML research report and prints it to
// PDF through a headless Chrome instance.
type StockService struct {
	llm    *LLMService
	config *config.Config
	logger *logger.Logger
}

const stockAnalystPrompt = `你是一位顶级的金融分析师，你的任务是为客户撰写一份专业、深入、数据驱动且观点明确的股票研究报告。
你的分析必须客观、严谨，并结合基本面、技术面和市场情绪进行综合判断。

请严格遵循以下结构和要求，生成一份完整的美观的HTML格式的股票分析报告：

报告结构与格式要求：

1. 报告摘要 (Report Summary)
   - 关键投资亮点：以要点形式列出3-5个最重要的投资亮点或关注点
   - 投资者画像：指出该股票适合哪类投资者，并说明建议的投资时间周期

2. 深度分析 (In-Depth Analysis)
   2.1 公司与行业分析
     - 商业模式：公司如何创造收入？核心产品、服务和主要客户群体
     - 行业格局与竞争优势：行业驱动因素、市场规模、增长前景、主要竞争对手、护城河分析

   2.2 财务健康状况与业绩
     - 近期业绩：注明最近财报日期，总结业绩超预期/不及预期的关键点
     - 核心财务趋势：过去3-5年收入、净利润和利润率趋势
     - 关键财务比率分析：提供P/S、P/B、PEG、债务权益比等，并与行业比较

   2.3 增长前景与催化剂
     - 增长战略：新产品发布、市场扩张、并购等计划
     - 潜在催化剂：未来6-12个月内可能影响股价的事件

   2.4 技术分析与市场情绪
     - 价格行为与趋势：当前趋势、移动平均线状态
     - 关键价位：支撑位和阻力位分析
     - 成交量分析：近期成交量趋势
     - 市场情绪与持仓：分析师评级分布、机构持仓趋势

   2.5 风险评估
     - 核心业务风险：主要经营风险
     - 宏观与行业风险：经济周期、政策变化等影响
     - 危险信号：需要警惕的负面信号

HTML格式要求：
- 使用专业的金融报告样式
- 包含清晰的章节分隔
- 重要数据加粗突出显示
- 风险提示使用醒目标记
- 适当使用图表和表格展示数据
- 确保响应式设计，适应PDF输出
- 报告需要美观和简洁

重要：直接输出完整的HTML代码，不要包含任何代码块标记（如` + "```html或```" + `）`

func NewStockService(llm *LLMService, cfg *config.Config, log *logger.Logger) *StockService {
	return &StockService{llm: llm, config: cfg, logger: log}
}

var (
	htmlFenceOpen  = regexp.MustCompile("^```html\\s*")
	htmlFenceClose = regexp.MustCompile("\\s*```$")
)

// CleanHTMLContent strips markdown code-fence markers the model sometimes
// wraps its HTML output in despite the prompt.
func CleanHTMLContent(html string) string {
	cleaned := htmlFenceOpen.ReplaceAllString(html, "")
	cleaned = htmlFenceClose.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, "```html", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return cleaned
}

// GenerateReport builds the report and returns the PDF bytes with a
// suggested filename.
func (service *StockService) GenerateReport(ctx context.Context, stockName string) ([]byte, string, error) {
	startTime := time.Now()

	if service.llm == nil {
		return nil, "", models.NewInternalError("STOCK_NOT_INITIALIZED", "LLM服务未初始化")
	}

	temperature := 0.3
	html, err := service.llm.Generate(ctx, GenerationRequest{
		SystemRole:  stockAnalystPrompt,
		Prompt:      fmt.Sprintf("请为股票 '%s' 生成一份完整的专业股票分析报告。", stockName),
		MaxTokens:   15000,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, "", err
	}

	html = CleanHTMLContent(strings.TrimSpace(html))
	if html == "" {
		return nil, "", models.NewExternalError("STOCK_EMPTY", "model returned empty report")
	}

	pdf, err := service.renderHTMLToPDF(ctx, html)
	service.logger.LogService("stock", "generate_report", time.Since(startTime), map[string]interface{}{
		"stock":       stockName,
		"html_length": len(html),
		"pdf_size":    len(pdf),
	}, err)
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("%s_分析报告_%s.pdf", stockName, time.Now().Format("20060102"))
	return pdf, filename, nil
}

// renderHTMLToPDF drives headless Chrome: load the document, let resources
// settle, then print to A4 with backgrounds and half-inch margins.
func (service *StockService) renderHTMLToPDF(ctx context.Context, html string) ([]byte, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	renderCtx, cancelRender := context.WithTimeout(browserCtx, 90*time.Second)
	defer cancelRender()

	var pdf []byte
	err := chromedp.Run(renderCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.Sleep(2*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.5).
				WithMarginLeft(0.5).
				WithMarginRight(0.5).
				WithDisplayHeaderFooter(false).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		return nil, models.WrapExternalError("CHROME", err)
	}
	if len(pdf) == 0 {
		return nil, models.NewExternalError("CHROME_EMPTY", "print returned no data")
	}
	return pdf, nil
}
