package notification

import (
	"context"
	"io"
	"time"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
)

const (
	webhookTimeout = 10 * time.Second

	// maxErrorBodySize caps how much of a failure response gets read.
	maxErrorBodySize = 1024
)

// WebhookProvider POSTs the alert payload as JSON to one or more
// endpoints. Each endpoint failure is reported; one bad endpoint does not
// stop delivery to the rest.
type WebhookProvider struct {
	enabled bool
	targets []conf.WebhookTarget
	client  *httpclient.Client
}

func NewWebhookProvider(targets []conf.WebhookTarget, client *httpclient.Client) *WebhookProvider {
	if client == nil {
		client = httpclient.New(nil)
	}
	return &WebhookProvider{
		enabled: len(targets) > 0,
		targets: targets,
		client:  client,
	}
}

func (w *WebhookProvider) GetName() string { return "webhook" }

func (w *WebhookProvider) IsEnabled() bool { return w.enabled }

func (w *WebhookProvider) SupportsType(detection.AlertType) bool { return true }

func (w *WebhookProvider) ValidateConfig() error {
	for _, t := range w.targets {
		if t.URL == "" {
			return errors.Newf("webhook target %q has no URL", t.Name).
				Component("notification").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

func (w *WebhookProvider) Send(ctx context.Context, n *Notification) error {
	var firstErr error
	for _, target := range w.targets {
		if err := w.post(ctx, target, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WebhookProvider) post(ctx context.Context, target conf.WebhookTarget, n *Notification) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	resp, err := w.client.Post(ctx, target.URL, "application/json", n)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("channel", "webhook").
			Context("target", target.Name).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return errors.Newf("webhook %s returned status %d: %s", target.Name, resp.StatusCode, string(body)).
			Component("notification").
			Category(errors.CategoryHTTP).
			Context("channel", "webhook").
			Context("status", resp.StatusCode).
			Build()
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
