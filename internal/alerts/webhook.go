package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/gatewatch/internal/config"
)

// WebhookSender POSTs the alert as JSON to an operator-supplied endpoint.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender builds a webhook sender for the given URL.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts the alert payload; any non-2xx status is a failure.
func (w *WebhookSender) Send(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"subject":   subject,
		"message":   body,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// TelegramSender delivers the alert through the Telegram bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender builds a Telegram sender for the given bot credentials.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{token: token, chatID: chatID, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts subject and body as one Telegram message.
func (t *TelegramSender) Send(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    subject + "\n\n" + body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// SenderFor picks the transport for the configured channel.
func SenderFor(cfg config.AlertsConfig) (Sender, error) {
	switch cfg.Channel {
	case "", "email":
		return NewMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.FromAddress,
			Password: cfg.Password,
			To:       cfg.ToAddresses,
		}), nil
	case "webhook":
		return NewWebhookSender(cfg.WebhookURL), nil
	case "telegram":
		return NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID), nil
	default:
		return nil, fmt.Errorf("unknown alert channel %q", cfg.Channel)
	}
}
