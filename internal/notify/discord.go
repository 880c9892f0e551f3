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

// Embed colors in Discord's decimal RGB form.
const (
	colorOpen   = 0x3498db // blue
	colorProfit = 0x2ecc71 // green
	colorLoss   = 0xe74c3c // red
)

// DiscordSender renders lifecycle events as webhook embeds, colored by
// outcome.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
}

// PositionOpened posts an open embed with one field per leg.
func (d *DiscordSender) PositionOpened(ctx context.Context, p domain.Position) error {
	return d.post(ctx, discordEmbed{
		Title: fmt.Sprintf("Opened %s (%.2f%%)", p.Symbol, p.OpenDiffPercent),
		Color: colorOpen,
		Fields: []discordField{
			{Name: "Buy", Value: fmt.Sprintf("%s @ %.6f", p.BuyVenue, p.BuyPrice), Inline: true},
			{Name: "Sell", Value: fmt.Sprintf("%s @ %.6f", p.SellVenue, p.SellPrice), Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%.2f", p.Volume), Inline: true},
			{Name: "Invested", Value: fmt.Sprintf("$%.2f", p.TotalInvestment), Inline: true},
			{Name: "Expected net", Value: fmt.Sprintf("$%.2f", p.ExpectedNetProfit), Inline: true},
		},
	})
}

// PositionClosed posts a close embed, green for profit and red for loss.
func (d *DiscordSender) PositionClosed(ctx context.Context, r domain.CloseResult) error {
	color := colorProfit
	if r.ActualProfitUSD < 0 {
		color = colorLoss
	}
	return d.post(ctx, discordEmbed{
		Title: fmt.Sprintf("Closed %s", r.Position.Symbol),
		Color: color,
		Fields: []discordField{
			{Name: "Pair", Value: fmt.Sprintf("%s/%s", r.Position.BuyVenue, r.Position.SellVenue), Inline: true},
			{Name: "Spread", Value: fmt.Sprintf("%.2f%% -> %.2f%%", r.Position.OpenDiffPercent, r.CloseDiffPercent), Inline: true},
			{Name: "Net", Value: fmt.Sprintf("%.2f%%", r.NetProfitPercent), Inline: true},
			{Name: "Profit", Value: fmt.Sprintf("$%.2f", r.ActualProfitUSD), Inline: true},
		},
	})
}

func (d *DiscordSender) post(ctx context.Context, embed discordEmbed) error {
	body, err := json.Marshal(map[string]any{"embeds": []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
