package models_test

import (
	"strings"
	"testing"

	"aria-assistant-pipeline/internal/models"
)

func TestExtractToolCallsSingleObject(t *testing.T) {
	text := "好的，我来安排。\n```json\n{\"action\": \"create_event\", \"parameters\": {\"summary\": \"团队会议\", \"start_time\": \"2026-09-01 14:00\"}}\n```\n完成后我会通知你。"

	calls := models.ExtractToolCalls(text)

	if len(calls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Action != "create_event" {
		t.Errorf("Expected action create_event, got %s", calls[0].Action)
	}
	if calls[0].StringParam("summary") != "团队会议" {
		t.Errorf("Expected summary 团队会议, got %s", calls[0].StringParam("summary"))
	}
}

func TestExtractToolCallsArrayPreservesOrder(t *testing.T) {
	text := "```json\n[" +
		"{\"action\": \"query_events\", \"parameters\": {\"days\": 7}}," +
		"{\"action\": \"create_task\", \"parameters\": {\"title\": \"买菜\"}}," +
		"{\"action\": \"send_email\", \"parameters\": {\"to\": \"a@b.com\", \"subject\": \"hi\", \"body\": \"hello\"}}" +
		"]\n```"

	calls := models.ExtractToolCalls(text)

	if len(calls) != 3 {
		t.Fatalf("Expected 3 tool calls, got %d", len(calls))
	}
	expected := []string{"query_events", "create_task", "send_email"}
	for i, action := range expected {
		if calls[i].Action != action {
			t.Errorf("Call %d: expected action %s, got %s", i, action, calls[i].Action)
		}
	}
}

func TestExtractToolCallsSkipsMalformedEntries(t *testing.T) {
	text := "```json\n[" +
		"{\"action\": \"create_task\", \"parameters\": {\"title\": \"ok\"}}," +
		"{\"action\": \"\", \"parameters\": {}}," +
		"{\"parameters\": {\"title\": \"no action\"}}," +
		"{\"action\": \"update_task\"}" +
		"]\n```"

	calls := models.ExtractToolCalls(text)

	if len(calls) != 1 {
		t.Fatalf("Expected 1 valid tool call, got %d", len(calls))
	}
	if calls[0].Action != "create_task" {
		t.Errorf("Expected create_task, got %s", calls[0].Action)
	}
}

func TestExtractToolCallsNoFence(t *testing.T) {
	text := "今天天气不错，我们聊聊别的吧。{\"action\": \"create_event\"} 这不是代码块。"

	if calls := models.ExtractToolCalls(text); calls != nil {
		t.Errorf("Expected nil for text without json fence, got %v", calls)
	}
}

func TestExtractToolCallsPlainFence(t *testing.T) {
	text := "```\n{\"action\": \"query_tasks\", \"parameters\": {\"status\": \"pending\"}}\n```"

	calls := models.ExtractToolCalls(text)

	if len(calls) != 1 {
		t.Fatalf("Expected 1 tool call from plain fence, got %d", len(calls))
	}
	if calls[0].Action != "query_tasks" {
		t.Errorf("Expected query_tasks, got %s", calls[0].Action)
	}
}

func TestExtractToolCallsNonToolJSONIgnored(t *testing.T) {
	text := "```json\n{\"temperature\": 23, \"city\": \"上海\"}\n```"

	if calls := models.ExtractToolCalls(text); calls != nil {
		t.Errorf("Expected nil for json without action/parameters, got %v", calls)
	}
}

func TestStringParamFormatsNumbers(t *testing.T) {
	text := "```json\n{\"action\": \"query_events\", \"parameters\": {\"days\": 7, \"ratio\": 1.5, \"name\": \"周会\"}}\n```"

	calls := models.ExtractToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(calls))
	}

	call := calls[0]
	if got := call.StringParam("days"); got != "7" {
		t.Errorf("Expected integer-valued float to format as 7, got %s", got)
	}
	if got := call.StringParam("ratio"); got != "1.5" {
		t.Errorf("Expected 1.5, got %s", got)
	}
	if got := call.StringParam("name"); got != "周会" {
		t.Errorf("Expected 周会, got %s", got)
	}
	if got := call.StringParam("missing"); got != "" {
		t.Errorf("Expected empty string for missing key, got %s", got)
	}
}

func TestIntParam(t *testing.T) {
	text := "```json\n{\"action\": \"query_events\", \"parameters\": {\"days\": 14, \"label\": \"soon\"}}\n```"

	calls := models.ExtractToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(calls))
	}

	call := calls[0]
	if got := call.IntParam("days", 7); got != 14 {
		t.Errorf("Expected 14, got %d", got)
	}
	if got := call.IntParam("missing", 7); got != 7 {
		t.Errorf("Expected fallback 7, got %d", got)
	}
	if got := call.IntParam("label", 3); got != 3 {
		t.Errorf("Expected fallback for non-numeric value, got %d", got)
	}
}

func TestStringSliceParam(t *testing.T) {
	text := "```json\n{\"action\": \"send_email\", \"parameters\": {\"to\": [\"a@b.com\", \"c@d.com\"], \"subject\": \"x\"}}\n```"

	calls := models.ExtractToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(calls))
	}

	recipients := calls[0].StringSliceParam("to")
	if len(recipients) != 2 || recipients[0] != "a@b.com" || recipients[1] != "c@d.com" {
		t.Errorf("Expected [a@b.com c@d.com], got %v", recipients)
	}
}

func TestToolResultStatus(t *testing.T) {
	ok := models.OKResult("create_task", "✅ 任务创建成功")
	failed := models.FailedResult("create_task", "❌ 创建失败")

	if !ok.Succeeded() {
		t.Error("OKResult should report success")
	}
	if failed.Succeeded() {
		t.Error("FailedResult should not report success")
	}
	if ok.Status != models.ToolStatusOK {
		t.Errorf("Expected status %s, got %s", models.ToolStatusOK, ok.Status)
	}
	if failed.Status != models.ToolStatusFailed {
		t.Errorf("Expected status %s, got %s", models.ToolStatusFailed, failed.Status)
	}
}

func TestGenerateRequestID(t *testing.T) {
	first := models.GenerateRequestID()
	second := models.GenerateRequestID()

	if !strings.HasPrefix(first, "req_") {
		t.Errorf("Expected req_ prefix, got %s", first)
	}
	if first == second {
		t.Error("Request IDs should be unique")
	}
}
