package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ToolCall is a single structured instruction extracted from LLM output.
type ToolCall struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
}

var (
	jsonFencePattern  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	plainFencePattern = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractToolCalls scans raw LLM text for a fenced JSON block and parses it
// into tool calls. The block may hold a single object or an array; entries
// missing either the action or parameters key are dropped, order is kept.
// Returns nil when no valid call is found.
func ExtractToolCalls(raw string) []ToolCall {
	body := ""
	if match := jsonFencePattern.FindStringSubmatch(raw); match != nil {
		body = match[1]
	} else if match := plainFencePattern.FindStringSubmatch(raw); match != nil {
		body = match[1]
	}
	if body == "" {
		return nil
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		var single map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return nil
		}
		entries = []map[string]json.RawMessage{single}
	}

	var calls []ToolCall
	for _, entry := range entries {
		rawAction, hasAction := entry["action"]
		rawParams, hasParams := entry["parameters"]
		if !hasAction || !hasParams {
			continue
		}
		var action string
		if err := json.Unmarshal(rawAction, &action); err != nil || action == "" {
			continue
		}
		params := map[string]interface{}{}
		if err := json.Unmarshal(rawParams, &params); err != nil {
			continue
		}
		calls = append(calls, ToolCall{Action: action, Parameters: params})
	}
	return calls
}

// StringParam returns the parameter as a string, converting scalar types.
func (c ToolCall) StringParam(key string) string {
	value, ok := c.Parameters[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IntParam returns the parameter as an int, or fallback when absent or
// not numeric.
func (c ToolCall) IntParam(key string, fallback int) int {
	value, ok := c.Parameters[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// BoolParam returns the parameter as a bool, accepting JSON booleans and
// their string forms.
func (c ToolCall) BoolParam(key string, fallback bool) bool {
	value, ok := c.Parameters[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func (c ToolCall) StringSliceParam(key string) []string {
	value, ok := c.Parameters[key]
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

type ToolStatus string

const (
	ToolStatusOK     ToolStatus = "ok"
	ToolStatusFailed ToolStatus = "failed"
)

// ToolResult carries the outcome of one dispatched tool call. Status is the
// single source of truth for success classification; the message text is
// presentation only.
type ToolResult struct {
	Action   string     `json:"action"`
	Status   ToolStatus `json:"status"`
	Message  string     `json:"message"`
	PDF      []byte     `json:"-"`
	Filename string     `json:"filename,omitempty"`
}

func (r ToolResult) Succeeded() bool {
	return r.Status == ToolStatusOK
}

func OKResult(action, message string) ToolResult {
	return ToolResult{Action: action, Status: ToolStatusOK, Message: message}
}

func FailedResult(action, message string) ToolResult {
	return ToolResult{Action: action, Status: ToolStatusFailed, Message: message}
}

type AssistantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Query  string `json:"query" binding:"required"`
}

type ResponseKind string

const (
	ResponseKindChat  ResponseKind = "chat"
	ResponseKindTools ResponseKind = "tools"
	ResponseKindPDF   ResponseKind = "pdf"
)

// AssistantResponse is the consolidated outcome of one user request.
type AssistantResponse struct {
	RequestID    string       `json:"request_id"`
	Kind         ResponseKind `json:"kind"`
	Message      string       `json:"message"`
	Results      []ToolResult `json:"results,omitempty"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	PDF          []byte       `json:"-"`
	Filename     string       `json:"filename,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

func GenerateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().Unix(), uuid.New().String()[:8])
}
