package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/config"
	"entitlement-api/pkg/logging"
)

// FraudAlertService emails the operations contact when a validation fails in
// a way that suggests a forged proof (signature or chain failures). Alerts
// are best-effort: failures are logged and never affect the validation result.
type FraudAlertService struct {
	apiKey     string
	fromEmail  string
	alertEmail string
	httpClient *http.Client
}

// NewFraudAlertService 创建欺诈告警服务
func NewFraudAlertService() *FraudAlertService {
	s := &FraudAlertService{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if config.AppConfig != nil {
		s.apiKey = config.AppConfig.BrevoAPIKey
		s.fromEmail = config.AppConfig.BrevoFromEmail
		s.alertEmail = config.AppConfig.FraudAlertEmail
	}
	return s
}

// emailRequest represents Brevo email request structure
type emailRequest struct {
	Sender      emailAddress   `json:"sender"`
	To          []emailAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

type emailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Enabled reports whether alerting is configured.
func (s *FraudAlertService) Enabled() bool {
	return s.apiKey != "" && s.fromEmail != "" && s.alertEmail != ""
}

// SendFraudAlert sends an alert email for a suspected forged proof.
// Called asynchronously; never blocks or fails the validation path.
func (s *FraudAlertService) SendFraudAlert(familyID, transactionID, errorKind, detail string) {
	if !s.Enabled() {
		return
	}

	subject := fmt.Sprintf("Fraud alert: %s", errorKind)
	textContent := fmt.Sprintf(
		"A subscription validation failed with a cryptographic trust error.\n\n"+
			"Family ID: %s\nTransaction ID: %s\nError: %s\nDetail: %s\nTime: %s\n",
		familyID, transactionID, errorKind, detail, time.Now().Format(time.RFC3339))

	req := emailRequest{
		Sender:      emailAddress{Name: "Entitlement Service", Email: s.fromEmail},
		To:          []emailAddress{{Email: s.alertEmail}},
		Subject:     subject,
		TextContent: textContent,
	}

	if err := s.sendEmail(req); err != nil {
		logging.Errorf("Failed to send fraud alert - family: %s, transaction: %s, error: %v",
			familyID, transactionID, err)
		return
	}
	logging.Infof("Fraud alert sent - family: %s, transaction: %s, kind: %s", familyID, transactionID, errorKind)
}

// sendEmail sends email via Brevo API
func (s *FraudAlertService) sendEmail(req emailRequest) error {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, "https://api.brevo.com/v3/smtp/email", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}

	return nil
}
