// Package alertmanager owns the alert lifecycle: creation from detector
// candidates, rule-based notification routing, resolution and queries.
package alertmanager

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/notification"
	"github.com/kestrelwatch/kestrel/internal/observability"
)

const (
	// ruleCacheTTL bounds how stale the routing rule set can get.
	ruleCacheTTL = 30 * time.Second
	ruleCacheKey = "rules"

	dispatchTimeout = 30 * time.Second
)

// AlertManager coordinates alert persistence and notification dispatch.
// Safe for concurrent use; no I/O happens under its mutex.
type AlertManager struct {
	store     datastore.Interface
	providers map[string]notification.Provider
	metrics   *observability.Metrics
	ruleCache *gocache.Cache
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*datastore.Alert // unresolved alerts by ID

	dispatchWG sync.WaitGroup
}

// New creates an AlertManager dispatching through the given providers.
func New(store datastore.Interface, providers []notification.Provider, metrics *observability.Metrics) *AlertManager {
	byName := make(map[string]notification.Provider, len(providers))
	for _, p := range providers {
		byName[p.GetName()] = p
	}
	return &AlertManager{
		store:     store,
		providers: byName,
		metrics:   metrics,
		ruleCache: gocache.New(ruleCacheTTL, 2*ruleCacheTTL),
		logger:    logging.ForService("alertmanager"),
		active:    make(map[string]*datastore.Alert),
	}
}

// Location carries the camera placement copied onto alerts.
type Location struct {
	ZoneID    string
	Latitude  float64
	Longitude float64
}

// CreateAlert validates a candidate, persists it and kicks off async
// notification dispatch. Unknown alert types are rejected; an unknown
// severity is downgraded to medium with a warning. loc may be nil.
func (am *AlertManager) CreateAlert(ctx context.Context, c *detection.Candidate, loc *Location) (*datastore.Alert, error) {
	if !detection.ValidAlertType(c.Type) {
		return nil, errors.Newf("unknown alert type %q", c.Type).
			Component("alertmanager").
			Category(errors.CategoryValidation).
			Context("camera", c.CameraID).
			Build()
	}
	severity := c.Severity
	if !detection.ValidSeverity(severity) {
		am.logger.Warn("unknown severity, defaulting to medium",
			"severity", severity, "camera", c.CameraID, "type", c.Type)
		severity = detection.SeverityMedium
	}

	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	alert := &datastore.Alert{
		ID:          uuid.NewString(),
		CameraID:    c.CameraID,
		AlertType:   string(c.Type),
		Severity:    string(severity),
		Title:       alertTitle(c.Type, c.CameraID),
		Description: c.Description,
		Confidence:  c.Confidence,
		Metadata:    marshalMetadata(c.Metadata),
		Timestamp:   ts,
	}
	if loc != nil {
		alert.ZoneID = loc.ZoneID
		alert.Latitude = loc.Latitude
		alert.Longitude = loc.Longitude
	}

	if err := am.store.SaveAlert(alert); err != nil {
		return nil, errors.New(err).
			Component("alertmanager").
			Category(errors.CategoryDatabase).
			Context("camera", c.CameraID).
			Context("type", string(c.Type)).
			Build()
	}

	am.mu.Lock()
	am.active[alert.ID] = alert
	am.mu.Unlock()

	if am.metrics != nil {
		am.metrics.AlertsCreated.WithLabelValues(alert.AlertType, alert.Severity).Inc()
	}
	am.logger.Info("alert created",
		"alert", alert.ID,
		"camera", alert.CameraID,
		"type", alert.AlertType,
		"severity", alert.Severity,
		"confidence", alert.Confidence)

	am.dispatchWG.Add(1)
	go func() {
		defer am.dispatchWG.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		am.dispatch(dctx, alert)
	}()

	return alert, nil
}

// ResolveAlert marks an alert resolved. Resolving an already-resolved
// alert succeeds without touching the original resolution.
func (am *AlertManager) ResolveAlert(id, resolvedBy, notes string) error {
	if _, err := am.store.GetAlert(id); err != nil {
		return errors.Newf("alert %s not found", id).
			Component("alertmanager").
			Category(errors.CategoryNotFound).
			Build()
	}
	if err := am.store.ResolveAlert(id, resolvedBy, notes, time.Now()); err != nil {
		return errors.New(err).
			Component("alertmanager").
			Category(errors.CategoryDatabase).
			Context("alert", id).
			Build()
	}

	am.mu.Lock()
	_, wasActive := am.active[id]
	delete(am.active, id)
	am.mu.Unlock()

	if wasActive && am.metrics != nil {
		am.metrics.AlertsResolved.Inc()
	}
	am.logger.Info("alert resolved", "alert", id, "by", resolvedBy)
	return nil
}

// SetAlertMedia attaches clip and thumbnail paths once recording finishes.
func (am *AlertManager) SetAlertMedia(id, videoPath, thumbnailPath string) error {
	return am.store.SetAlertMedia(id, videoPath, thumbnailPath)
}

// GetAlert returns one alert by ID.
func (am *AlertManager) GetAlert(id string) (datastore.Alert, error) {
	return am.store.GetAlert(id)
}

// GetAlerts returns alerts matching the filter, newest first.
func (am *AlertManager) GetAlerts(filter *datastore.AlertFilter) ([]datastore.Alert, error) {
	return am.store.GetAlerts(filter)
}

// GetAlertStatistics returns aggregate alert counts.
func (am *AlertManager) GetAlertStatistics() (*datastore.AlertStatistics, error) {
	return am.store.AlertStatistics()
}

// ActiveCount returns the number of unresolved alerts seen this run.
func (am *AlertManager) ActiveCount() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	return len(am.active)
}

// Wait blocks until all in-flight dispatches finish. Used during shutdown
// and by tests.
func (am *AlertManager) Wait() {
	am.dispatchWG.Wait()
}

// dispatch routes an alert through the notification rules and sends it on
// every selected channel, recording the outcome of each attempt.
func (am *AlertManager) dispatch(ctx context.Context, alert *datastore.Alert) {
	channels := am.routeChannels(alert)
	if len(channels) == 0 {
		am.logger.Debug("no channels matched alert", "alert", alert.ID)
		return
	}

	n := &notification.Notification{
		AlertID:    alert.ID,
		CameraID:   alert.CameraID,
		Type:       detection.AlertType(alert.AlertType),
		Severity:   detection.Severity(alert.Severity),
		Title:      alert.Title,
		Message:    alert.Description,
		Confidence: alert.Confidence,
		Timestamp:  alert.Timestamp,
		Metadata:   unmarshalMetadata(alert.Metadata),
	}

	for _, channel := range channels {
		provider, ok := am.providers[channel]
		if !ok {
			am.logger.Warn("rule names unknown channel", "channel", channel, "alert", alert.ID)
			continue
		}
		if !provider.IsEnabled() || !provider.SupportsType(n.Type) {
			continue
		}
		am.sendOne(ctx, provider, n)
	}
}

func (am *AlertManager) sendOne(ctx context.Context, provider notification.Provider, n *notification.Notification) {
	channel := provider.GetName()
	err := provider.Send(ctx, n)

	status := "sent"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
		am.logger.Error("notification delivery failed",
			"channel", channel, "alert", n.AlertID, "error", err)
	} else {
		am.logger.Debug("notification delivered", "channel", channel, "alert", n.AlertID)
	}
	if am.metrics != nil {
		am.metrics.NotificationsSent.WithLabelValues(channel, status).Inc()
	}

	now := time.Now()
	record := &datastore.NotificationRecord{
		AlertID:          n.AlertID,
		NotificationType: channel,
		Recipient:        channel,
		Status:           status,
		SentAt:           &now,
		ErrorMessage:     errMsg,
	}
	if err := am.store.SaveNotificationRecord(record); err != nil {
		am.logger.Error("failed to save notification record",
			"alert", n.AlertID, "error", err)
	}
}

// routeChannels evaluates the enabled rules against the alert and returns
// the union of matched channels. With no rules configured every enabled
// provider receives the alert.
func (am *AlertManager) routeChannels(alert *datastore.Alert) []string {
	rules := am.loadRules()
	if len(rules) == 0 {
		channels := make([]string, 0, len(am.providers))
		for name, p := range am.providers {
			if p.IsEnabled() {
				channels = append(channels, name)
			}
		}
		return channels
	}

	seen := make(map[string]bool)
	var channels []string
	for _, rule := range rules {
		if !rule.matches(alert) {
			continue
		}
		for _, ch := range rule.Actions.Channels {
			if !seen[ch] {
				seen[ch] = true
				channels = append(channels, ch)
			}
		}
	}
	return channels
}

// loadRules returns the parsed enabled rules, cached briefly to keep rule
// evaluation off the database hot path.
func (am *AlertManager) loadRules() []*parsedRule {
	if cached, ok := am.ruleCache.Get(ruleCacheKey); ok {
		return cached.([]*parsedRule)
	}

	rows, err := am.store.GetNotificationRules()
	if err != nil {
		am.logger.Error("failed to load notification rules", "error", err)
		return nil
	}
	rules := make([]*parsedRule, 0, len(rows))
	for i := range rows {
		if !rows[i].Enabled {
			continue
		}
		rule, err := parseRule(&rows[i])
		if err != nil {
			am.logger.Warn("skipping malformed rule", "rule", rows[i].Name, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	am.ruleCache.Set(ruleCacheKey, rules, gocache.DefaultExpiration)
	return rules
}

// InvalidateRules drops the rule cache, forcing a reload on next dispatch.
func (am *AlertManager) InvalidateRules() {
	am.ruleCache.Delete(ruleCacheKey)
}

// SaveRule persists a rule and invalidates the cache.
func (am *AlertManager) SaveRule(rule *datastore.NotificationRule) error {
	if err := am.store.SaveNotificationRule(rule); err != nil {
		return errors.New(err).
			Component("alertmanager").
			Category(errors.CategoryDatabase).
			Context("rule", rule.Name).
			Build()
	}
	am.InvalidateRules()
	return nil
}

func alertTitle(t detection.AlertType, cameraID string) string {
	titles := map[detection.AlertType]string{
		detection.AlertManifestation: "Crowd gathering detected",
		detection.AlertWeapon:        "Weapon detected",
		detection.AlertFireSmoke:     "Fire or smoke detected",
		detection.AlertTrafficJam:    "Traffic congestion detected",
		detection.AlertIntrusion:     "Intrusion detected",
		detection.AlertManual:        "Manual alert",
	}
	title, ok := titles[t]
	if !ok {
		title = "Alert"
	}
	return title + " on camera " + cameraID
}

func marshalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalMetadata(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
