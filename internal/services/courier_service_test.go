package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/services"
)

func courierConfig(endpoint string) *config.Config {
	return &config.Config{
		Courier: config.CourierConfig{
			Key:      "testkey",
			Customer: "testcustomer",
			Endpoint: endpoint,
			Timeout:  5 * time.Second,
		},
	}
}

func TestSignCourierRequest(t *testing.T) {
	// md5("paramkeycustomer") uppercased
	sign := services.SignCourierRequest("param", "key", "customer")

	if sign != strings.ToUpper(sign) {
		t.Error("Signature must be uppercase")
	}
	if len(sign) != 32 {
		t.Errorf("Expected 32-char md5 hex, got %d chars", len(sign))
	}
	if sign != services.SignCourierRequest("param", "key", "customer") {
		t.Error("Signature must be deterministic")
	}
	if sign == services.SignCourierRequest("param", "otherkey", "customer") {
		t.Error("Different keys must produce different signatures")
	}
}

func TestFormatTrackingResult(t *testing.T) {
	resp := &services.TrackingResponse{
		State: "3",
		Data: []services.TrackingCheckpoint{
			{Time: "2026-08-29 10:00:00", Context: "已签收，签收人：本人"},
			{Time: "2026-08-29 08:12:00", Context: "派送中"},
		},
	}

	text := services.FormatTrackingResult("顺丰", "SF123456", resp)

	if !strings.Contains(text, "单号: SF123456 (顺丰)") {
		t.Errorf("Header line missing, got %q", text)
	}
	if !strings.Contains(text, "状态: 已签收") {
		t.Errorf("State 3 should map to 已签收, got %q", text)
	}
	if !strings.Contains(text, "已签收，签收人：本人") {
		t.Errorf("Checkpoint lines missing, got %q", text)
	}
}

func TestFormatTrackingResultEmptyRoute(t *testing.T) {
	text := services.FormatTrackingResult("中通", "ZT1", &services.TrackingResponse{State: "0"})

	if !strings.Contains(text, "暂无物流轨迹") {
		t.Errorf("Empty route should render placeholder, got %q", text)
	}
}

func TestCourierTrack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse form: %v", err)
		}
		if r.PostFormValue("customer") != "testcustomer" {
			t.Errorf("Expected customer field, got %q", r.PostFormValue("customer"))
		}
		param := r.PostFormValue("param")
		expected := services.SignCourierRequest(param, "testkey", "testcustomer")
		if r.PostFormValue("sign") != expected {
			t.Errorf("Signature mismatch: got %q, want %q", r.PostFormValue("sign"), expected)
		}

		var decoded map[string]string
		if err := json.Unmarshal([]byte(param), &decoded); err != nil {
			t.Errorf("param is not valid JSON: %v", err)
		}
		if decoded["com"] != "shunfeng" || decoded["num"] != "SF123" {
			t.Errorf("Unexpected param payload: %v", decoded)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "ok",
			"state":   "5",
			"status":  "200",
			"data": []map[string]string{
				{"time": "2026-08-29 09:00:00", "context": "快件正在派送"},
			},
		})
	}))
	defer server.Close()

	service := services.NewCourierService(courierConfig(server.URL), testLogger(t))

	result, err := service.Track(context.Background(), "shunfeng", "SF123", "")
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if !strings.Contains(result, "状态: 派送中") {
		t.Errorf("Expected 派送中 status, got %q", result)
	}
	if !strings.Contains(result, "快件正在派送") {
		t.Errorf("Expected checkpoint context, got %q", result)
	}
}

func TestCourierTrackInBandError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "查询无结果，请隔段时间再查",
			"status":  "500",
		})
	}))
	defer server.Close()

	service := services.NewCourierService(courierConfig(server.URL), testLogger(t))

	_, err := service.Track(context.Background(), "shunfeng", "NOPE", "")
	if err == nil {
		t.Fatal("Expected error for in-band failure status")
	}
	if !strings.Contains(err.Error(), "查询无结果") {
		t.Errorf("Error should carry the provider message, got %v", err)
	}
}

func TestCourierTrackValidation(t *testing.T) {
	service := services.NewCourierService(courierConfig("http://unused"), testLogger(t))

	if _, err := service.Track(context.Background(), "", "SF123", ""); err == nil {
		t.Error("Expected validation error for empty company")
	}
	if _, err := service.Track(context.Background(), "shunfeng", "", ""); err == nil {
		t.Error("Expected validation error for empty number")
	}
}
