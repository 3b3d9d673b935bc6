package services

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"aria-assistant-pipeline/internal/models"

	"github.com/go-pdf/fpdf"
)

// Digest layout constants, A4 with 1in side margins and a short bottom
// margin so article sections pack tightly.
const (
	digestMarginSide   = 25.4
	digestMarginTop    = 25.4
	digestMarginBottom = 6.35
)

type digestStyles struct {
	titleSize        float64
	subtitleSize     float64
	articleTitleSize float64
	metaSize         float64
	summaryHeadSize  float64
	bodySize         float64
}

var (
	digestFontOnce sync.Once
	digestFontData []byte
	digestStyleSet digestStyles
)

// initDigestStyles loads the CJK font bytes and the style table exactly
// once per process.
func initDigestStyles(fontPath string) {
	digestFontOnce.Do(func() {
		digestStyleSet = digestStyles{
			titleSize:        20,
			subtitleSize:     12,
			articleTitleSize: 13,
			metaSize:         9,
			summaryHeadSize:  10,
			bodySize:         9,
		}
		if fontPath == "" {
			return
		}
		data, err := os.ReadFile(fontPath)
		if err != nil {
			return
		}
		digestFontData = data
	})
}

// RenderNewsDigest lays out the news digest PDF: a header block with title,
// date and per-source stats, then one numbered section per article.
func RenderNewsDigest(articles []*models.Article, sourceStats map[string]int, fontPath string) ([]byte, error) {
	initDigestStyles(fontPath)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(digestMarginSide, digestMarginTop, digestMarginSide)
	pdf.SetAutoPageBreak(true, digestMarginBottom)

	cjkFamily := "Helvetica"
	if digestFontData != nil {
		pdf.AddUTF8FontFromBytes("cjk", "", digestFontData)
		pdf.AddUTF8FontFromBytes("cjk", "B", digestFontData)
		cjkFamily = "cjk"
	}
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	// With a registered CJK font text goes through untouched; with the core
	// fallback it is transliterated to the closest latin form.
	write := func(family string, style string, size float64, lineHeight float64, text string) {
		pdf.SetFont(family, style, size)
		if family == "cjk" {
			pdf.MultiCell(0, lineHeight, text, "", "L", false)
			return
		}
		pdf.MultiCell(0, lineHeight, translate(text), "", "L", false)
	}

	pdf.AddPage()

	// header
	pdf.SetFont(cjkFamily, "", digestStyleSet.titleSize)
	if cjkFamily == "cjk" {
		pdf.CellFormat(0, 12, "每日科技新闻摘要", "", 1, "C", false, 0, "")
	} else {
		pdf.CellFormat(0, 12, "Daily Tech News Digest", "", 1, "C", false, 0, "")
	}

	dateLine := time.Now().Format("2006年01月02日")
	write(cjkFamily, "", digestStyleSet.subtitleSize, 7, "生成日期: "+dateLine)
	pdf.Ln(6)

	statsParts := make([]string, 0, len(sourceStats))
	for source, count := range sourceStats {
		statsParts = append(statsParts, fmt.Sprintf("%s: %d", source, count))
	}
	statsLine := fmt.Sprintf("本次共获取 %d 篇科技新闻，来源分布: %s", len(articles), strings.Join(statsParts, ", "))
	write(cjkFamily, "", digestStyleSet.metaSize, 5, statsLine)
	pdf.Ln(10)

	for i, article := range articles {
		titleFamily := cjkFamily
		if IsMostlyEnglish(article.Title) {
			titleFamily = "Helvetica"
		}
		write(titleFamily, "B", digestStyleSet.articleTitleSize, 6.5, fmt.Sprintf("%d. %s", i+1, article.Title))

		write(cjkFamily, "", digestStyleSet.metaSize, 5, "来源: "+article.Source)

		pdf.SetFont("Courier", "", digestStyleSet.metaSize)
		pdf.MultiCell(0, 5, translate("链接: "+article.Link), "", "L", false)

		if len(article.Keywords) > 0 {
			write(cjkFamily, "", digestStyleSet.metaSize, 5, "关键词: "+strings.Join(article.Keywords, ", "))
		}

		if article.Summary != nil {
			write(cjkFamily, "B", digestStyleSet.summaryHeadSize, 5.5, "中文摘要:")
			write(cjkFamily, "", digestStyleSet.bodySize, 5, article.Summary.Chinese)
			write("Helvetica", "B", digestStyleSet.summaryHeadSize, 5.5, "English Summary:")
			write("Helvetica", "", digestStyleSet.bodySize, 5, article.Summary.English)
		}

		pdf.Ln(6)
		if i < len(articles)-1 {
			pdf.SetFont("Helvetica", "", digestStyleSet.bodySize)
			pdf.MultiCell(0, 5, strings.Repeat("_", 80), "", "L", false)
			pdf.Ln(6)
		}
	}

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, models.NewInternalError("PDF_RENDER", "news digest rendering failed").WithCause(err)
	}
	return buffer.Bytes(), nil
}
