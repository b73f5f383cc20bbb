package notification

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
)

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordProvider delivers alerts to a Discord webhook as embeds.
type DiscordProvider struct {
	enabled    bool
	webhookURL string
	client     *httpclient.Client
}

func NewDiscordProvider(enabled bool, webhookURL string, client *httpclient.Client) *DiscordProvider {
	if client == nil {
		client = httpclient.New(nil)
	}
	return &DiscordProvider{
		enabled:    enabled,
		webhookURL: webhookURL,
		client:     client,
	}
}

func (d *DiscordProvider) GetName() string { return "discord" }

func (d *DiscordProvider) IsEnabled() bool { return d.enabled }

func (d *DiscordProvider) SupportsType(detection.AlertType) bool { return true }

func (d *DiscordProvider) ValidateConfig() error {
	if d.enabled && d.webhookURL == "" {
		return errors.Newf("discord webhook URL is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (d *DiscordProvider) Send(ctx context.Context, n *Notification) error {
	payload := discordPayload{
		Embeds: []discordEmbed{{
			Title:       n.Title,
			Description: n.Message,
			Color:       embedColor(n.Severity),
			Timestamp:   n.Timestamp.Format(time.RFC3339),
			Fields: []discordField{
				{Name: "Camera", Value: n.CameraID, Inline: true},
				{Name: "Severity", Value: string(n.Severity), Inline: true},
				{Name: "Type", Value: string(n.Type), Inline: true},
				{Name: "Confidence", Value: fmt.Sprintf("%.2f", n.Confidence), Inline: true},
			},
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	resp, err := d.client.Post(ctx, d.webhookURL, "application/json", payload)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("channel", "discord").
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return errors.Newf("discord returned status %d: %s", resp.StatusCode, string(body)).
			Component("notification").
			Category(errors.CategoryHTTP).
			Context("channel", "discord").
			Build()
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// embedColor converts the shared hex color to Discord's integer form.
func embedColor(severity detection.Severity) int {
	hex := strings.TrimPrefix(colorFor(severity), "#")
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0x808080
	}
	return int(v)
}
