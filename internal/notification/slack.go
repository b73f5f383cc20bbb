package notification

import (
	"context"
	"fmt"
	"io"

	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
)

// slackPayload is the incoming-webhook message format.
type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackProvider delivers alerts to a Slack incoming webhook.
type SlackProvider struct {
	enabled    bool
	webhookURL string
	channel    string
	client     *httpclient.Client
}

func NewSlackProvider(enabled bool, webhookURL, channel string, client *httpclient.Client) *SlackProvider {
	if client == nil {
		client = httpclient.New(nil)
	}
	return &SlackProvider{
		enabled:    enabled,
		webhookURL: webhookURL,
		channel:    channel,
		client:     client,
	}
}

func (s *SlackProvider) GetName() string { return "slack" }

func (s *SlackProvider) IsEnabled() bool { return s.enabled }

func (s *SlackProvider) SupportsType(detection.AlertType) bool { return true }

func (s *SlackProvider) ValidateConfig() error {
	if s.enabled && s.webhookURL == "" {
		return errors.Newf("slack webhook URL is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (s *SlackProvider) Send(ctx context.Context, n *Notification) error {
	payload := slackPayload{
		Channel: s.channel,
		Text:    fmt.Sprintf("Alert: %s", n.Title),
		Attachments: []slackAttachment{{
			Color: colorFor(n.Severity),
			Title: n.Title,
			Text:  n.Message,
			Fields: []slackField{
				{Title: "Camera", Value: n.CameraID, Short: true},
				{Title: "Severity", Value: string(n.Severity), Short: true},
				{Title: "Type", Value: string(n.Type), Short: true},
				{Title: "Confidence", Value: fmt.Sprintf("%.2f", n.Confidence), Short: true},
			},
			Ts: n.Timestamp.Unix(),
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	resp, err := s.client.Post(ctx, s.webhookURL, "application/json", payload)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("channel", "slack").
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return errors.Newf("slack returned status %d: %s", resp.StatusCode, string(body)).
			Component("notification").
			Category(errors.CategoryHTTP).
			Context("channel", "slack").
			Build()
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
