package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts to a chat through the Bot API sendMessage method.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a sender for one bot and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send posts the title in bold above the message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  fmt.Sprintf("*%s*\n%s", title, message),
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// Name identifies the sender in logs.
func (t *TelegramSender) Name() string { return "telegram" }
