package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"
)

// CourierService queries the Kuaidi100-style tracking endpoint: a signed
// form POST whose signature is md5(param + key + customer), uppercased.
type CourierService struct {
	config     *config.Config
	logger     *logger.Logger
	httpClient *http.Client
}

type courierParam struct {
	Com   string `json:"com"`
	Num   string `json:"num"`
	Phone string `json:"phone,omitempty"`
}

// TrackingCheckpoint is one stop along a shipment's route.
type TrackingCheckpoint struct {
	Time    string `json:"time"`
	Context string `json:"context"`
}

// TrackingResponse is the provider's query payload.
type TrackingResponse struct {
	Message string              `json:"message"`
	State   string              `json:"state"`
	Status  string              `json:"status"`
	Data    []TrackingCheckpoint `json:"data"`
}

var courierStates = map[string]string{
	"0": "在途中",
	"1": "已揽收",
	"2": "疑难件",
	"3": "已签收",
	"4": "已退签",
	"5": "派送中",
	"6": "退回中",
}

func NewCourierService(cfg *config.Config, log *logger.Logger) *CourierService {
	return &CourierService{
		config:     cfg,
		logger:     log,
		httpClient: &http.Client{Timeout: cfg.Courier.Timeout},
	}
}

func (service *CourierService) Ready() bool {
	return service.config.Courier.Key != "" && service.config.Courier.Customer != ""
}

// SignCourierRequest computes the provider signature over the serialized
// param, the shared key, and the customer id.
func SignCourierRequest(param, key, customer string) string {
	sum := md5.Sum([]byte(param + key + customer))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FormatTrackingResult renders the JSON payload into the fixed text layout:
// a status header followed by one line per checkpoint, newest first.
func FormatTrackingResult(company, number string, resp *TrackingResponse) string {
	state := courierStates[resp.State]
	if state == "" {
		state = "未知状态"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📦 快递查询结果\n单号: %s (%s)\n状态: %s\n", number, company, state))
	if len(resp.Data) == 0 {
		builder.WriteString("暂无物流轨迹\n")
		return builder.String()
	}
	builder.WriteString("物流轨迹:\n")
	for _, checkpoint := range resp.Data {
		builder.WriteString(fmt.Sprintf("  %s  %s\n", checkpoint.Time, checkpoint.Context))
	}
	return builder.String()
}

// Track queries the tracking endpoint and reformats the response.
func (service *CourierService) Track(ctx context.Context, company, number, phone string) (string, error) {
	if company == "" || number == "" {
		return "", models.NewValidationError("COURIER_PARAMS", "快递公司和单号不能为空")
	}
	if !service.Ready() {
		return "", models.NewInternalError("COURIER_NOT_INITIALIZED", "快递服务未配置")
	}

	param, err := json.Marshal(courierParam{Com: company, Num: number, Phone: phone})
	if err != nil {
		return "", models.NewInternalError("COURIER_ENCODE", "param encoding failed").WithCause(err)
	}

	form := url.Values{}
	form.Set("customer", service.config.Courier.Customer)
	form.Set("param", string(param))
	form.Set("sign", SignCourierRequest(string(param), service.config.Courier.Key, service.config.Courier.Customer))

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, service.config.Courier.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", models.NewInternalError("COURIER_REQUEST", "request build failed").WithCause(err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	startTime := time.Now()
	response, err := service.httpClient.Do(request)
	if err != nil {
		service.logger.LogService("courier", "track", time.Since(startTime), nil, err)
		return "", models.WrapExternalError("COURIER", err)
	}
	defer response.Body.Close()

	var payload TrackingResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", models.NewExternalError("COURIER_DECODE", "response decoding failed").WithCause(err)
	}

	// The provider reports request-level failures in-band.
	if payload.Status != "" && payload.Status != "200" {
		err := models.NewExternalError("COURIER_REJECTED", payload.Message)
		service.logger.LogService("courier", "track", time.Since(startTime), map[string]interface{}{"number": number}, err)
		return "", err
	}

	service.logger.LogService("courier", "track", time.Since(startTime), map[string]interface{}{
		"number":      number,
		"checkpoints": len(payload.Data),
	}, nil)
	return FormatTrackingResult(company, number, &payload), nil
}
