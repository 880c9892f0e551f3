package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crossvenue/arbot/internal/domain"
)

// TelegramSender renders lifecycle events as Markdown messages and posts
// them through the Telegram Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// PositionOpened posts an open announcement with the entry prices and the
// expected outcome.
func (t *TelegramSender) PositionOpened(ctx context.Context, p domain.Position) error {
	text := fmt.Sprintf(
		"*Opened %s*\nbuy %s @ %.6f / sell %s @ %.6f\ndiff %.2f%% | volume %.2f\ninvested $%.2f | expected net $%.2f",
		p.Symbol,
		p.BuyVenue, p.BuyPrice, p.SellVenue, p.SellPrice,
		p.OpenDiffPercent, p.Volume,
		p.TotalInvestment, p.ExpectedNetProfit)
	return t.post(ctx, text)
}

// PositionClosed posts a close announcement with the realized result.
func (t *TelegramSender) PositionClosed(ctx context.Context, r domain.CloseResult) error {
	text := fmt.Sprintf(
		"*Closed %s*\n%s/%s spread %.2f%% -> %.2f%%\nnet %.2f%% | profit $%.2f",
		r.Position.Symbol,
		r.Position.BuyVenue, r.Position.SellVenue,
		r.Position.OpenDiffPercent, r.CloseDiffPercent,
		r.NetProfitPercent, r.ActualProfitUSD)
	return t.post(ctx, text)
}

func (t *TelegramSender) post(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
