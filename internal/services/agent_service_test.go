package services_test

import (
	"context"
	"strings"
	"testing"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/services"
)

func testAgent(t *testing.T) *services.AgentService {
	t.Helper()
	agent := services.NewAgentService(nil, nil, nil, nil, nil, nil, nil, &config.Config{}, testLogger(t))
	agent.SetToolDelay(0)
	return agent
}

func TestExecuteToolCallsRunsInOrder(t *testing.T) {
	agent := testAgent(t)

	var executed []string
	for _, action := range []string{"first", "second", "third"} {
		action := action
		agent.RegisterHandler(action, func(ctx context.Context, call models.ToolCall) models.ToolResult {
			executed = append(executed, action)
			return models.OKResult(action, "done "+action)
		})
	}

	calls := []models.ToolCall{
		{Action: "first", Parameters: map[string]interface{}{}},
		{Action: "second", Parameters: map[string]interface{}{}},
		{Action: "third", Parameters: map[string]interface{}{}},
	}

	response := agent.ExecuteToolCalls(context.Background(), "req_test", calls)

	if len(executed) != 3 {
		t.Fatalf("Expected 3 handler invocations, got %d", len(executed))
	}
	for i, action := range []string{"first", "second", "third"} {
		if executed[i] != action {
			t.Errorf("Position %d: expected %s, got %s", i, action, executed[i])
		}
	}
	if response.SuccessCount != 3 || response.FailureCount != 0 {
		t.Errorf("Expected 3 successes and 0 failures, got %d/%d", response.SuccessCount, response.FailureCount)
	}
	if !strings.Contains(response.Message, "成功: 3 个, 失败: 0 个") {
		t.Errorf("Summary line mismatch: %q", response.Message)
	}
	if !strings.Contains(response.Message, "任务 1: done first") {
		t.Errorf("Per-task lines missing: %q", response.Message)
	}
}

func TestExecuteToolCallsFailureDoesNotStopSiblings(t *testing.T) {
	agent := testAgent(t)

	agent.RegisterHandler("bad", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		return models.FailedResult("bad", "❌ 出错了")
	})
	agent.RegisterHandler("good", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		return models.OKResult("good", "✅ 成功")
	})

	calls := []models.ToolCall{
		{Action: "bad", Parameters: map[string]interface{}{}},
		{Action: "good", Parameters: map[string]interface{}{}},
	}

	response := agent.ExecuteToolCalls(context.Background(), "req_test", calls)

	if response.SuccessCount != 1 || response.FailureCount != 1 {
		t.Errorf("Expected 1 success and 1 failure, got %d/%d", response.SuccessCount, response.FailureCount)
	}
	if len(response.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(response.Results))
	}
	if response.Results[0].Succeeded() {
		t.Error("First result should be failed")
	}
	if !response.Results[1].Succeeded() {
		t.Error("Second result should be ok")
	}
}

func TestExecuteToolCallsUnknownAction(t *testing.T) {
	agent := testAgent(t)

	calls := []models.ToolCall{{Action: "teleport", Parameters: map[string]interface{}{}}}
	response := agent.ExecuteToolCalls(context.Background(), "req_test", calls)

	if response.FailureCount != 1 {
		t.Fatalf("Expected 1 failure, got %d", response.FailureCount)
	}
	if !strings.Contains(response.Results[0].Message, "未知工具：teleport") {
		t.Errorf("Expected unknown-tool message, got %q", response.Results[0].Message)
	}
}

func TestExecuteToolCallsRecoversFromPanic(t *testing.T) {
	agent := testAgent(t)

	agent.RegisterHandler("explode", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		panic("boom")
	})
	agent.RegisterHandler("after", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		return models.OKResult("after", "still running")
	})

	calls := []models.ToolCall{
		{Action: "explode", Parameters: map[string]interface{}{}},
		{Action: "after", Parameters: map[string]interface{}{}},
	}

	response := agent.ExecuteToolCalls(context.Background(), "req_test", calls)

	if response.FailureCount != 1 || response.SuccessCount != 1 {
		t.Errorf("Expected panic converted to failure, got %d/%d", response.SuccessCount, response.FailureCount)
	}
	if !strings.Contains(response.Results[0].Message, "执行工具 explode 时出错") {
		t.Errorf("Expected panic message, got %q", response.Results[0].Message)
	}
}

func TestExecuteToolCallsStockReportShortCircuits(t *testing.T) {
	agent := testAgent(t)

	agent.RegisterHandler("generate_stock_report", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		result := models.OKResult("generate_stock_report", "报告已生成")
		result.PDF = []byte("%PDF-fake")
		result.Filename = "腾讯控股_分析报告_20260829.pdf"
		return result
	})
	followUpRan := false
	agent.RegisterHandler("send_email", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		followUpRan = true
		return models.OKResult("send_email", "sent")
	})

	calls := []models.ToolCall{
		{Action: "generate_stock_report", Parameters: map[string]interface{}{"stock_name": "腾讯控股"}},
		{Action: "send_email", Parameters: map[string]interface{}{}},
	}

	response := agent.ExecuteToolCalls(context.Background(), "req_test", calls)

	if response.Kind != models.ResponseKindPDF {
		t.Errorf("Expected pdf response kind, got %s", response.Kind)
	}
	if len(response.PDF) == 0 {
		t.Error("Expected PDF bytes on response")
	}
	if response.Filename == "" {
		t.Error("Expected PDF filename on response")
	}
	if followUpRan {
		t.Error("Calls after a stock report should not run")
	}
}

func TestExecuteToolCallsNewsReportAttachesArtifact(t *testing.T) {
	agent := testAgent(t)

	agent.RegisterHandler("generate_tech_news_report", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		result := models.OKResult("generate_tech_news_report", "新闻汇总完成")
		result.PDF = []byte("%PDF-digest")
		result.Filename = "tech_news_20260829.pdf"
		return result
	})
	agent.RegisterHandler("create_task", func(ctx context.Context, call models.ToolCall) models.ToolResult {
		return models.OKResult("create_task", "✅ 任务创建成功")
	})

	calls := []models.ToolCall{
		{Action: "generate_tech_news_report", Parameters: map[string]interface{}{}},
		{Action: "create_task", Parameters: map[string]interface{}{}},
	}

	response := agent.ExecuteToolCalls(context.Background(), "req_test", calls)

	if response.Kind != models.ResponseKindTools {
		t.Errorf("News digest should not short-circuit, got kind %s", response.Kind)
	}
	if len(response.PDF) == 0 {
		t.Error("Digest PDF should ride along on the aggregate response")
	}
	if response.SuccessCount != 2 {
		t.Errorf("Expected both calls to run, got %d successes", response.SuccessCount)
	}
}

func TestSupportedActionsCoversAllTools(t *testing.T) {
	agent := services.NewAgentService(nil, nil, nil, nil, nil, nil, nil, &config.Config{}, testLogger(t))

	actions := agent.SupportedActions()
	if len(actions) != 16 {
		t.Fatalf("Expected 16 registered actions, got %d", len(actions))
	}

	registered := map[string]bool{}
	for _, action := range actions {
		registered[action] = true
	}
	for _, action := range []string{
		"create_event", "query_events", "update_event_status", "delete_event",
		"delete_event_by_summary", "delete_events_by_time_range",
		"create_task", "query_tasks", "update_task_status", "delete_task",
		"delete_task_by_title", "delete_tasks_by_time_range",
		"generate_stock_report", "generate_tech_news_report",
		"send_email", "track_courier",
	} {
		if !registered[action] {
			t.Errorf("Action %s is not registered", action)
		}
	}
}
