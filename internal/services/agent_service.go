package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"
)

// ToolHandler executes one tool call and reports its outcome. Handlers
// never panic outward; the dispatcher converts panics into failed results.
type ToolHandler func(ctx context.Context, call models.ToolCall) models.ToolResult

// AgentService is the orchestrator: it turns a user query into tool calls
// through the LLM and dispatches them strictly in list order.
type AgentService struct {
	llm      *LLMService
	calendar *CalendarService
	stock    *StockService
	news     *NewsService
	email    *EmailService
	courier  *CourierService
	memory   *MemoryService
	config   *config.Config
	logger   *logger.Logger

	handlers  map[string]ToolHandler
	toolDelay time.Duration
}

const assistantSystemPrompt = `你是一个智能助手，具备工具调用能力。当用户请求涉及日历、任务、邮件、股票分析、科技新闻或快递查询时，你需要返回JSON格式的工具调用。

重要更新：现在支持一次处理多个任务！当用户输入包含多个请求时，你需要返回一个JSON数组，包含多个工具调用。

可用工具：
【日历事件功能】
1. 创建日历事件：{"action": "create_event", "parameters": {"summary": "事件标题", "description": "事件描述", "start_time": "开始时间(YYYY-MM-DD HH:MM)", "end_time": "结束时间(YYYY-MM-DD HH:MM)", "reminder_minutes": 30, "priority": "medium"}}
2. 查询日历事件：{"action": "query_events", "parameters": {"days": 30, "max_results": 20}}
3. 更新事件状态：{"action": "update_event_status", "parameters": {"event_id": "事件ID", "status": "completed"}}
4. 删除日历事件：{"action": "delete_event", "parameters": {"event_id": "事件ID"}}
5. 按标题删除事件：{"action": "delete_event_by_summary", "parameters": {"summary": "事件标题关键词", "days": 30}}
6. 按时间范围删除事件：{"action": "delete_events_by_time_range", "parameters": {"start_date": "开始日期(YYYY-MM-DD)", "end_date": "结束日期(YYYY-MM-DD)"}}

【任务管理功能】
7. 创建任务：{"action": "create_task", "parameters": {"title": "任务标题", "notes": "任务描述", "due_date": "截止时间(YYYY-MM-DD HH:MM)", "reminder_minutes": 60, "priority": "medium"}}
8. 查询任务：{"action": "query_tasks", "parameters": {"show_completed": false, "max_results": 20}}
9. 更新任务状态：{"action": "update_task_status", "parameters": {"task_id": "任务ID", "status": "completed"}}
10. 删除任务：{"action": "delete_task", "parameters": {"task_id": "任务ID"}}
11. 按标题删除任务：{"action": "delete_task_by_title", "parameters": {"title_keyword": "任务标题关键词"}}
12. 按时间范围删除任务：{"action": "delete_tasks_by_time_range", "parameters": {"start_date": "开始日期(YYYY-MM-DD)", "end_date": "结束日期(YYYY-MM-DD)", "show_completed": true}}

【股票分析功能】
13. 生成股票分析报告：{"action": "generate_stock_report", "parameters": {"stock_name": "股票名称或代码"}}

【科技新闻汇总功能】
14. 生成科技新闻汇总报告：{"action": "generate_tech_news_report", "parameters": {"total_articles": 10}}

【其他功能】
15. 发送邮件：{"action": "send_email", "parameters": {"to": "收件邮箱", "subject": "邮件主题", "body": "邮件内容"}}
16. 查询快递：{"action": "track_courier", "parameters": {"company": "快递公司编码", "number": "快递单号", "phone": "收件人手机号(顺丰必填)"}}

重要规则：
1. 当需要调用工具时，必须返回 ` + "```json 和 ```" + ` 包裹的JSON格式
2. 支持单个工具调用（JSON对象）和多个工具调用（JSON数组）
3. 不需要工具时，直接用自然语言回答
4. JSON格式必须严格符合上面的示例
5. 时间格式：YYYY-MM-DD HH:MM (24小时制)，日期格式：YYYY-MM-DD
6. 优先级：low(低), medium(中), high(高)
7. 股票分析功能会返回PDF二进制数据，用于后续上传或其他操作

示例：
用户：生成腾讯控股的股票分析报告
AI：` + "```json" + `
{"action": "generate_stock_report", "parameters": {"stock_name": "腾讯控股"}}
` + "```" + `
用户：删除10月份的所有任务，并查看我的日历事件
AI：` + "```json" + `
[
{"action": "delete_tasks_by_time_range", "parameters": {"start_date": "2025-10-01", "end_date": "2025-10-31"}},
{"action": "query_events", "parameters": {"days": 7, "max_results": 10}}
]
` + "```"

func NewAgentService(
	llm *LLMService,
	calendarService *CalendarService,
	stock *StockService,
	news *NewsService,
	email *EmailService,
	courier *CourierService,
	memory *MemoryService,
	cfg *config.Config,
	log *logger.Logger,
) *AgentService {
	service := &AgentService{
		llm:       llm,
		calendar:  calendarService,
		stock:     stock,
		news:      news,
		email:     email,
		courier:   courier,
		memory:    memory,
		config:    cfg,
		logger:    log,
		toolDelay: time.Second,
	}
	service.handlers = map[string]ToolHandler{
		"create_event":                service.handleCreateEvent,
		"query_events":                service.handleQueryEvents,
		"update_event_status":         service.handleUpdateEventStatus,
		"delete_event":                service.handleDeleteEvent,
		"delete_event_by_summary":     service.handleDeleteEventBySummary,
		"delete_events_by_time_range": service.handleDeleteEventsByTimeRange,
		"create_task":                 service.handleCreateTask,
		"query_tasks":                 service.handleQueryTasks,
		"update_task_status":          service.handleUpdateTaskStatus,
		"delete_task":                 service.handleDeleteTask,
		"delete_task_by_title":        service.handleDeleteTaskByTitle,
		"delete_tasks_by_time_range":  service.handleDeleteTasksByTimeRange,
		"generate_stock_report":       service.handleGenerateStockReport,
		"generate_tech_news_report":   service.handleGenerateNewsReport,
		"send_email":                  service.handleSendEmail,
		"track_courier":               service.handleTrackCourier,
	}
	return service
}

// RegisterHandler replaces or adds a tool handler. Exposed so tests can
// substitute stubs for the external services.
func (service *AgentService) RegisterHandler(action string, handler ToolHandler) {
	service.handlers[action] = handler
}

// SetToolDelay overrides the fixed inter-call delay.
func (service *AgentService) SetToolDelay(delay time.Duration) {
	service.toolDelay = delay
}

// SupportedActions lists the recognized action names.
func (service *AgentService) SupportedActions() []string {
	actions := make([]string, 0, len(service.handlers))
	for action := range service.handlers {
		actions = append(actions, action)
	}
	return actions
}

// ProcessRequest runs the full loop: prompt the LLM, extract tool calls,
// dispatch them, consolidate.
func (service *AgentService) ProcessRequest(ctx context.Context, req *models.AssistantRequest) *models.AssistantResponse {
	requestID := models.GenerateRequestID()
	startTime := time.Now()

	prompt := req.Query
	if service.memory != nil && service.memory.Enabled() {
		if memory, err := service.memory.GetConversationMemory(ctx, req.UserID); err == nil && memory.LastQuery != "" {
			prompt = fmt.Sprintf("（上一次请求：%s）\n%s", memory.LastQuery, req.Query)
		}
	}

	llmOutput, err := service.llm.Generate(ctx, GenerationRequest{
		SystemRole: assistantSystemPrompt,
		Prompt:     prompt,
	})
	if err != nil {
		service.logger.LogAgent(requestID, "assistant", "generate", time.Since(startTime), nil, err)
		return &models.AssistantResponse{
			RequestID:    requestID,
			Kind:         models.ResponseKindChat,
			Message:      fmt.Sprintf("处理请求时出错：%v", err),
			FailureCount: 1,
			Timestamp:    time.Now(),
		}
	}

	calls := models.ExtractToolCalls(llmOutput)
	if len(calls) == 0 {
		service.logger.LogAgent(requestID, "assistant", "chat", time.Since(startTime), map[string]interface{}{
			"user_id": req.UserID,
		}, nil)
		response := &models.AssistantResponse{
			RequestID:    requestID,
			Kind:         models.ResponseKindChat,
			Message:      llmOutput,
			SuccessCount: 1,
			Timestamp:    time.Now(),
		}
		service.rememberExchange(ctx, req.UserID, req.Query, response)
		return response
	}

	response := service.ExecuteToolCalls(ctx, requestID, calls)
	service.logger.LogAgent(requestID, "assistant", "tools", time.Since(startTime), map[string]interface{}{
		"user_id":    req.UserID,
		"tool_calls": len(calls),
		"succeeded":  response.SuccessCount,
		"failed":     response.FailureCount,
	}, nil)
	service.rememberExchange(ctx, req.UserID, req.Query, response)
	return response
}

func (service *AgentService) rememberExchange(ctx context.Context, userID, query string, response *models.AssistantResponse) {
	if service.memory == nil || !service.memory.Enabled() {
		return
	}
	memory := &ConversationMemory{
		LastQuery:    query,
		LastResponse: TruncateContent(response.Message, 500),
	}
	for _, result := range response.Results {
		memory.RecentActions = append(memory.RecentActions, result.Action)
	}
	if err := service.memory.UpdateConversationMemory(ctx, userID, memory); err != nil {
		service.logger.Warn("conversation memory update failed", "user_id", userID, "error", err.Error())
	}
}

// ExecuteToolCalls dispatches the calls strictly in list order with the
// fixed inter-call delay. A failed call never stops its siblings. A stock
// report PDF short-circuits and is returned immediately; a news digest PDF
// rides along as an artifact of the aggregate response.
func (service *AgentService) ExecuteToolCalls(ctx context.Context, requestID string, calls []models.ToolCall) *models.AssistantResponse {
	response := &models.AssistantResponse{
		RequestID: requestID,
		Kind:      models.ResponseKindTools,
		Timestamp: time.Now(),
	}

	for i, call := range calls {
		callStart := time.Now()
		result := service.dispatch(ctx, call)
		response.Results = append(response.Results, result)

		if result.Succeeded() {
			response.SuccessCount++
			service.logger.LogToolCall(requestID, call.Action, i, time.Since(callStart), nil)
		} else {
			response.FailureCount++
			service.logger.LogToolCall(requestID, call.Action, i, time.Since(callStart),
				models.NewInternalError("TOOL_FAILED", result.Message))
		}

		if call.Action == "generate_stock_report" && result.Succeeded() && result.PDF != nil {
			response.Kind = models.ResponseKindPDF
			response.Message = result.Message
			response.PDF = result.PDF
			response.Filename = result.Filename
			return response
		}

		if call.Action == "generate_tech_news_report" && result.Succeeded() && result.PDF != nil {
			response.PDF = result.PDF
			response.Filename = result.Filename
		}

		if i < len(calls)-1 {
			select {
			case <-time.After(service.toolDelay):
			case <-ctx.Done():
			}
		}
	}

	var parts []string
	for i, result := range response.Results {
		parts = append(parts, fmt.Sprintf("任务 %d: %s", i+1, result.Message))
	}
	response.Message = fmt.Sprintf("✅ 所有任务执行完成:\n成功: %d 个, 失败: %d 个\n\n%s",
		response.SuccessCount, response.FailureCount, strings.Join(parts, "\n\n"))
	return response
}

func (service *AgentService) dispatch(ctx context.Context, call models.ToolCall) (result models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			service.logger.Error("tool handler panicked", "action", call.Action, "panic", fmt.Sprintf("%v", r))
			result = models.FailedResult(call.Action, fmt.Sprintf("❌ 执行工具 %s 时出错: %v", call.Action, r))
		}
	}()

	handler, ok := service.handlers[call.Action]
	if !ok {
		return models.FailedResult(call.Action, fmt.Sprintf("未知工具：%s", call.Action))
	}
	return handler(ctx, call)
}

// ========== calendar event handlers ==========

func (service *AgentService) handleCreateEvent(ctx context.Context, call models.ToolCall) models.ToolResult {
	req := EventCreateRequest{
		Summary:         call.StringParam("summary"),
		Description:     call.StringParam("description"),
		ReminderMinutes: call.IntParam("reminder_minutes", 30),
		Priority:        call.StringParam("priority"),
		Status:          call.StringParam("status"),
	}
	if raw := call.StringParam("start_time"); raw != "" {
		start, err := ParseLocalTime(raw, service.calendar.Location())
		if err != nil {
			return models.FailedResult(call.Action, fmt.Sprintf("❌ 创建日历事件失败: %v", err))
		}
		req.Start = start
	}
	if raw := call.StringParam("end_time"); raw != "" {
		end, err := ParseLocalTime(raw, service.calendar.Location())
		if err != nil {
			return models.FailedResult(call.Action, fmt.Sprintf("❌ 创建日历事件失败: %v", err))
		}
		req.End = end
	}

	message, err := service.calendar.CreateEvent(ctx, req)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 创建日历事件失败: %v", err))
	}
	return models.OKResult(call.Action, message)
}

func (service *AgentService) handleQueryEvents(ctx context.Context, call models.ToolCall) models.ToolResult {
	days := call.IntParam("days", 30)
	events, err := service.calendar.QueryEvents(ctx, days, call.IntParam("max_results", 20))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 查询日历事件失败: %v", err))
	}
	if len(events) == 0 {
		return models.OKResult(call.Action, fmt.Sprintf("📭 未来%d天内没有日历事件", days))
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("📅 找到%d个未来%d天内的事件 (北京时间):", len(events), days))
	for _, event := range events {
		lines = append(lines, fmt.Sprintf("• %s [%s - %s] 优先级:%s 状态:%s",
			event.Summary, event.Start, event.End, event.Priority, event.Status))
	}
	return models.OKResult(call.Action, strings.Join(lines, "\n"))
}

func (service *AgentService) handleUpdateEventStatus(ctx context.Context, call models.ToolCall) models.ToolResult {
	message, err := service.calendar.UpdateEventStatus(ctx, call.StringParam("event_id"), call.StringParam("status"))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 更新事件状态失败: %v", err))
	}
	return models.OKResult(call.Action, message)
}

func (service *AgentService) handleDeleteEvent(ctx context.Context, call models.ToolCall) models.ToolResult {
	if err := service.calendar.DeleteEvent(ctx, call.StringParam("event_id")); err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 删除日历事件失败: %v", err))
	}
	return models.OKResult(call.Action, "🗑️ 日历事件已成功删除")
}

func (service *AgentService) handleDeleteEventBySummary(ctx context.Context, call models.ToolCall) models.ToolResult {
	deleted, err := service.calendar.DeleteEventsBySummary(ctx, call.StringParam("summary"), call.IntParam("days", 30))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 删除事件时出错: %v", err))
	}
	return models.OKResult(call.Action, fmt.Sprintf("🗑️ 成功删除 %d 个匹配事件", deleted))
}

func (service *AgentService) handleDeleteEventsByTimeRange(ctx context.Context, call models.ToolCall) models.ToolResult {
	start, end, err := ResolveDateRange(call.StringParam("start_date"), call.StringParam("end_date"), service.calendar.Location())
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 按时间范围删除日历事件时出错: %v", err))
	}
	deleted, err := service.calendar.DeleteEventsByTimeRange(ctx, start, end)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 按时间范围删除日历事件时出错: %v", err))
	}
	return models.OKResult(call.Action, fmt.Sprintf("🗑️ 成功删除 %d 个在 %s 到 %s 范围内的日历事件",
		deleted, start.Format("2006-01-02"), end.Format("2006-01-02")))
}

// ========== task handlers ==========

func (service *AgentService) handleCreateTask(ctx context.Context, call models.ToolCall) models.ToolResult {
	req := TaskCreateRequest{
		Title:    call.StringParam("title"),
		Notes:    call.StringParam("notes"),
		Priority: call.StringParam("priority"),
	}
	if raw := call.StringParam("due_date"); raw != "" {
		due, err := ParseLocalTime(raw, service.calendar.Location())
		if err != nil {
			return models.FailedResult(call.Action, fmt.Sprintf("❌ 创建任务失败: %v", err))
		}
		req.Due = due
	}

	message, err := service.calendar.CreateTask(ctx, req)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 创建任务失败: %v", err))
	}
	return models.OKResult(call.Action, message)
}

func (service *AgentService) handleQueryTasks(ctx context.Context, call models.ToolCall) models.ToolResult {
	infos, err := service.calendar.QueryTasks(ctx, call.BoolParam("show_completed", false), call.IntParam("max_results", 20))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 查询任务失败: %v", err))
	}
	if len(infos) == 0 {
		return models.OKResult(call.Action, "📭 没有找到任务")
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("📋 找到%d个任务:", len(infos)))
	for _, task := range infos {
		marker := "⏳"
		if task.Status == "completed" {
			marker = "✅"
		}
		lines = append(lines, fmt.Sprintf("%s %s (截止: %s, 优先级: %s)", marker, task.Title, task.Due, task.Priority))
	}
	return models.OKResult(call.Action, strings.Join(lines, "\n"))
}

func (service *AgentService) handleUpdateTaskStatus(ctx context.Context, call models.ToolCall) models.ToolResult {
	message, err := service.calendar.UpdateTaskStatus(ctx, call.StringParam("task_id"), call.StringParam("status"))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 更新任务状态失败: %v", err))
	}
	return models.OKResult(call.Action, message)
}

func (service *AgentService) handleDeleteTask(ctx context.Context, call models.ToolCall) models.ToolResult {
	if err := service.calendar.DeleteTask(ctx, call.StringParam("task_id")); err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 删除任务失败: %v", err))
	}
	return models.OKResult(call.Action, "🗑️ 任务已成功删除")
}

func (service *AgentService) handleDeleteTaskByTitle(ctx context.Context, call models.ToolCall) models.ToolResult {
	deleted, err := service.calendar.DeleteTasksByTitle(ctx, call.StringParam("title_keyword"))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 删除任务时出错: %v", err))
	}
	return models.OKResult(call.Action, fmt.Sprintf("🗑️ 成功删除 %d 个匹配任务", deleted))
}

func (service *AgentService) handleDeleteTasksByTimeRange(ctx context.Context, call models.ToolCall) models.ToolResult {
	start, end, err := ResolveDateRange(call.StringParam("start_date"), call.StringParam("end_date"), service.calendar.Location())
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 按时间范围删除任务时出错: %v", err))
	}
	deleted, err := service.calendar.DeleteTasksByTimeRange(ctx, start, end)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 按时间范围删除任务时出错: %v", err))
	}
	return models.OKResult(call.Action, fmt.Sprintf("🗑️ 成功删除 %d 个在 %s 到 %s 范围内的任务",
		deleted, start.Format("2006-01-02"), end.Format("2006-01-02")))
}

// ========== report / email / courier handlers ==========

func (service *AgentService) handleGenerateStockReport(ctx context.Context, call models.ToolCall) models.ToolResult {
	stockName := call.StringParam("stock_name")
	if stockName == "" {
		return models.FailedResult(call.Action, "❌ 股票分析报告生成失败: 缺少股票名称")
	}

	pdf, filename, err := service.stock.GenerateReport(ctx, stockName)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 股票分析报告生成失败: %v", err))
	}

	result := models.OKResult(call.Action, fmt.Sprintf("✅ 股票分析报告生成成功，PDF大小: %d 字节", len(pdf)))
	result.PDF = pdf
	result.Filename = filename
	return result
}

func (service *AgentService) handleGenerateNewsReport(ctx context.Context, call models.ToolCall) models.ToolResult {
	opts := DigestOptions{
		EnableAISummary: call.BoolParam("enable_ai_summary", true),
		TotalArticles:   call.IntParam("total_articles", 0),
		PerSource:       call.IntParam("articles_per_source", 0),
		Sources:         call.StringSliceParam("sources"),
	}

	pdf, stats, err := service.news.GenerateDigest(ctx, opts)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 科技新闻汇总生成失败: %v", err))
	}

	filename := fmt.Sprintf("tech_news_%s.pdf", time.Now().Format("20060102"))
	service.archiveDigest(ctx, filename, pdf)

	result := models.OKResult(call.Action, fmt.Sprintf("✅ 科技新闻汇总生成成功，共 %d 篇文章", stats.TotalArticles))
	result.PDF = pdf
	result.Filename = filename
	return result
}

// archiveDigest persists and mails the digest when configured. Both are
// best effort; failures only log.
func (service *AgentService) archiveDigest(ctx context.Context, filename string, pdf []byte) {
	if dir := service.config.News.OutputDir; dir != "" {
		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, pdf, 0o644); err != nil {
			service.logger.Warn("digest archive failed", "path", path, "error", err.Error())
		}
	}
	if service.email != nil && service.email.Ready() {
		for _, recipient := range service.config.News.DigestRecipients {
			err := service.email.Send(ctx, recipient, "每日科技新闻摘要", "今日科技新闻摘要已生成，详见附件。",
				map[string][]byte{filename: pdf})
			if err != nil {
				service.logger.Warn("digest mail failed", "to", recipient, "error", err.Error())
			}
		}
	}
}

func (service *AgentService) handleSendEmail(ctx context.Context, call models.ToolCall) models.ToolResult {
	to := call.StringParam("to")
	err := service.email.Send(ctx, to, call.StringParam("subject"), call.StringParam("body"), nil)
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 邮件发送失败：%v", err))
	}
	return models.OKResult(call.Action, fmt.Sprintf("📧 邮件发送成功！已发送至：%s", to))
}

func (service *AgentService) handleTrackCourier(ctx context.Context, call models.ToolCall) models.ToolResult {
	company := call.StringParam("company")
	if company == "" {
		company = call.StringParam("com")
	}
	number := call.StringParam("number")
	if number == "" {
		number = call.StringParam("num")
	}

	text, err := service.courier.Track(ctx, company, number, call.StringParam("phone"))
	if err != nil {
		return models.FailedResult(call.Action, fmt.Sprintf("❌ 快递查询失败: %v", err))
	}
	return models.OKResult(call.Action, text)
}
