package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"
)

// EmailService sends transactional mail through the Brevo REST API.
type EmailService struct {
	config     *config.Config
	logger     *logger.Logger
	httpClient *http.Client
}

type brevoParty struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoPayload struct {
	Sender      brevoParty        `json:"sender"`
	To          []brevoParty      `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	TextContent string            `json:"textContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

type brevoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewEmailService(cfg *config.Config, log *logger.Logger) *EmailService {
	return &EmailService{
		config:     cfg,
		logger:     log,
		httpClient: &http.Client{Timeout: cfg.Email.Timeout},
	}
}

func (service *EmailService) Ready() bool {
	return service.config.Email.APIKey != "" && service.config.Email.SenderEmail != ""
}

// WrapEmailBody applies the fixed assistant HTML template around the plain
// body text.
func WrapEmailBody(subject, body string) string {
	return fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; line-height: 1.6;">
    <h2>%s</h2>
    <div style="white-space: pre-line; padding: 20px; background: #f9f9f9; border-radius: 5px;">
        %s
    </div>
    <p style="color: #999; font-size: 12px; margin-top: 20px;">
        此邮件由智能助手自动发送
    </p>
</div>`, subject, body)
}

// Send posts one transactional email. Attachments are optional PDF blobs
// named by the caller. The API answers 201 on acceptance.
func (service *EmailService) Send(ctx context.Context, to, subject, body string, attachments map[string][]byte) error {
	if to == "" || subject == "" || body == "" {
		return models.NewValidationError("EMAIL_PARAMS", "收件人、主题或正文不能为空")
	}
	if !service.Ready() {
		return models.NewInternalError("EMAIL_NOT_INITIALIZED", "邮件服务未配置")
	}

	payload := brevoPayload{
		Sender: brevoParty{
			Name:  service.config.Email.SenderName,
			Email: service.config.Email.SenderEmail,
		},
		To:          []brevoParty{{Email: to}},
		Subject:     subject,
		HTMLContent: WrapEmailBody(subject, body),
		TextContent: body,
	}
	for name, data := range attachments {
		payload.Attachment = append(payload.Attachment, brevoAttachment{
			Name:    name,
			Content: base64.StdEncoding.EncodeToString(data),
		})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return models.NewInternalError("EMAIL_ENCODE", "payload encoding failed").WithCause(err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, service.config.Email.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return models.NewInternalError("EMAIL_REQUEST", "request build failed").WithCause(err)
	}
	request.Header.Set("accept", "application/json")
	request.Header.Set("content-type", "application/json")
	request.Header.Set("api-key", service.config.Email.APIKey)

	startTime := time.Now()
	response, err := service.httpClient.Do(request)
	if err != nil {
		service.logger.LogService("email", "send", time.Since(startTime), nil, err)
		return models.WrapExternalError("BREVO", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		var apiErr brevoError
		_ = json.NewDecoder(response.Body).Decode(&apiErr)
		message := apiErr.Message
		if message == "" {
			message = fmt.Sprintf("unexpected status %d", response.StatusCode)
		}
		err := models.NewExternalError("BREVO_REJECTED", message).WithMetadata("status", response.StatusCode)
		service.logger.LogService("email", "send", time.Since(startTime), map[string]interface{}{"to": to}, err)
		return err
	}

	service.logger.LogService("email", "send", time.Since(startTime), map[string]interface{}{"to": to}, nil)
	return nil
}
