package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
)

func testNotification() *Notification {
	return &Notification{
		AlertID:    "a1b2c3",
		CameraID:   "cam-7",
		Type:       detection.AlertWeapon,
		Severity:   detection.SeverityCritical,
		Title:      "Weapon detected on camera cam-7",
		Message:    "Weapon detected with 85% confidence",
		Confidence: 0.85,
		Timestamp:  time.Now(),
	}
}

func mockedClient(t *testing.T) *httpclient.Client {
	t.Helper()
	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestWebhookProviderSendsPayload(t *testing.T) {
	client := mockedClient(t)

	var received map[string]any
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/alerts",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	p := NewWebhookProvider([]conf.WebhookTarget{
		{Name: "ops", URL: "https://hooks.example.com/alerts"},
	}, client)

	require.NoError(t, p.Send(context.Background(), testNotification()))
	assert.Equal(t, "a1b2c3", received["alert_id"])
	assert.Equal(t, "cam-7", received["camera_id"])
	assert.Equal(t, "weapon", received["alert_type"])
	assert.Equal(t, "critical", received["severity"])
}

func TestWebhookProviderNon2xxIsError(t *testing.T) {
	client := mockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/alerts",
		httpmock.NewStringResponder(500, "boom"))

	p := NewWebhookProvider([]conf.WebhookTarget{
		{Name: "ops", URL: "https://hooks.example.com/alerts"},
	}, client)

	err := p.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookProviderOneFailureDoesNotBlockOthers(t *testing.T) {
	client := mockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/bad",
		httpmock.NewStringResponder(503, "down"))
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/good",
		httpmock.NewStringResponder(200, "ok"))

	p := NewWebhookProvider([]conf.WebhookTarget{
		{Name: "bad", URL: "https://hooks.example.com/bad"},
		{Name: "good", URL: "https://hooks.example.com/good"},
	}, client)

	err := p.Send(context.Background(), testNotification())
	require.Error(t, err)

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST https://hooks.example.com/good"])
}

func TestWebhookProviderValidateConfig(t *testing.T) {
	p := NewWebhookProvider([]conf.WebhookTarget{{Name: "noop"}}, nil)
	assert.Error(t, p.ValidateConfig())

	p = NewWebhookProvider([]conf.WebhookTarget{{Name: "ok", URL: "https://x.test"}}, nil)
	assert.NoError(t, p.ValidateConfig())

	assert.False(t, NewWebhookProvider(nil, nil).IsEnabled())
}

func TestSlackProviderPayload(t *testing.T) {
	client := mockedClient(t)

	var payload slackPayload
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.slack.com/services/T/B/x",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	p := NewSlackProvider(true, "https://hooks.slack.com/services/T/B/x", "#alerts", client)
	require.NoError(t, p.Send(context.Background(), testNotification()))

	assert.Equal(t, "#alerts", payload.Channel)
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "#cc0000", payload.Attachments[0].Color)
}

func TestDiscordProviderPayload(t *testing.T) {
	client := mockedClient(t)

	var payload discordPayload
	httpmock.RegisterResponder(http.MethodPost, "https://discord.com/api/webhooks/1/x",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			return httpmock.NewStringResponse(204, ""), nil
		})

	p := NewDiscordProvider(true, "https://discord.com/api/webhooks/1/x", client)
	require.NoError(t, p.Send(context.Background(), testNotification()))

	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, 0xcc0000, payload.Embeds[0].Color)
}

func TestEmbedColorBySeverity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0x2eb886, embedColor(detection.SeverityLow))
	assert.Equal(t, 0xcc0000, embedColor(detection.SeverityCritical))
	assert.Equal(t, 0x808080, embedColor(detection.Severity("bogus")))
}
