// Package notification contains the alert delivery providers.
package notification

import (
	"context"
	"time"

	"github.com/kestrelwatch/kestrel/internal/detection"
)

// Notification is the channel-independent alert payload.
type Notification struct {
	AlertID    string              `json:"alert_id"`
	CameraID   string              `json:"camera_id"`
	Type       detection.AlertType `json:"alert_type"`
	Severity   detection.Severity  `json:"severity"`
	Title      string              `json:"title"`
	Message    string              `json:"message"`
	Confidence float64             `json:"confidence"`
	Timestamp  time.Time           `json:"timestamp"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

// Provider defines a delivery backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	GetName() string
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
	SupportsType(alertType detection.AlertType) bool
	IsEnabled() bool
}

// severityColors maps severities to the hex colors used by the rich
// channels (Slack attachments, Discord embeds).
var severityColors = map[detection.Severity]string{
	detection.SeverityLow:      "#2eb886",
	detection.SeverityMedium:   "#ffcc00",
	detection.SeverityHigh:     "#ff6600",
	detection.SeverityCritical: "#cc0000",
}

func colorFor(severity detection.Severity) string {
	if c, ok := severityColors[severity]; ok {
		return c
	}
	return "#808080"
}
