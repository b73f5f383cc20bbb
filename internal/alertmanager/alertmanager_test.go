package alertmanager

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/notification"
)

// captureProvider records every notification it is asked to deliver.
type captureProvider struct {
	name    string
	enabled bool
	failAll bool

	mu   sync.Mutex
	sent []*notification.Notification
}

func (c *captureProvider) GetName() string                       { return c.name }
func (c *captureProvider) ValidateConfig() error                 { return nil }
func (c *captureProvider) IsEnabled() bool                       { return c.enabled }
func (c *captureProvider) SupportsType(detection.AlertType) bool { return true }

func (c *captureProvider) Send(_ context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return assert.AnError
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureProvider) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "kestrel.db")

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func weaponCandidate(cameraID string) *detection.Candidate {
	return &detection.Candidate{
		Type:        detection.AlertWeapon,
		Severity:    detection.SeverityCritical,
		Description: "Weapon detected with 85% confidence",
		Confidence:  0.85,
		CameraID:    cameraID,
		Timestamp:   time.Now(),
	}
}

func TestCreateAlertPersistsAndDispatches(t *testing.T) {
	store := newTestStore(t)
	provider := &captureProvider{name: "webhook", enabled: true}
	am := New(store, []notification.Provider{provider}, nil)

	alert, err := am.CreateAlert(context.Background(), weaponCandidate("cam-1"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, alert.ID)

	am.Wait()

	got, err := store.GetAlert(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "weapon", got.AlertType)
	assert.Equal(t, "critical", got.Severity)

	require.Equal(t, 1, provider.count())
	assert.Equal(t, alert.ID, provider.sent[0].AlertID)

	records, err := store.GetNotificationRecords(alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sent", records[0].Status)
}

func TestCreateAlertRejectsUnknownType(t *testing.T) {
	am := New(newTestStore(t), nil, nil)

	c := weaponCandidate("cam-1")
	c.Type = detection.AlertType("alien_invasion")

	_, err := am.CreateAlert(context.Background(), c, nil)
	require.Error(t, err)
	assert.Zero(t, am.ActiveCount())
}

func TestCreateAlertDefaultsUnknownSeverityToMedium(t *testing.T) {
	store := newTestStore(t)
	am := New(store, nil, nil)

	c := weaponCandidate("cam-1")
	c.Severity = detection.Severity("catastrophic")

	alert, err := am.CreateAlert(context.Background(), c, nil)
	require.NoError(t, err)
	am.Wait()

	assert.Equal(t, "medium", alert.Severity)
}

func TestCreateAlertCopiesLocation(t *testing.T) {
	store := newTestStore(t)
	am := New(store, nil, nil)

	alert, err := am.CreateAlert(context.Background(), weaponCandidate("cam-1"), &Location{
		ZoneID:   "zone-3",
		Latitude: 60.17, Longitude: 24.94,
	})
	require.NoError(t, err)
	am.Wait()

	got, err := store.GetAlert(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "zone-3", got.ZoneID)
	assert.InDelta(t, 60.17, got.Latitude, 1e-9)
}

func TestResolveAlertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	am := New(store, nil, nil)

	alert, err := am.CreateAlert(context.Background(), weaponCandidate("cam-1"), nil)
	require.NoError(t, err)
	am.Wait()

	require.NoError(t, am.ResolveAlert(alert.ID, "operator", "handled"))
	require.NoError(t, am.ResolveAlert(alert.ID, "second-operator", "ignored"))

	got, err := store.GetAlert(alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "operator", got.ResolvedBy)
	assert.Zero(t, am.ActiveCount())
}

func TestResolveAlertUnknownID(t *testing.T) {
	am := New(newTestStore(t), nil, nil)
	assert.Error(t, am.ResolveAlert("missing", "op", ""))
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	store := newTestStore(t)
	provider := &captureProvider{name: "webhook", enabled: true, failAll: true}
	am := New(store, []notification.Provider{provider}, nil)

	alert, err := am.CreateAlert(context.Background(), weaponCandidate("cam-1"), nil)
	require.NoError(t, err)
	am.Wait()

	records, err := store.GetNotificationRecords(alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0].Status)
	assert.NotEmpty(t, records[0].ErrorMessage)
}

func TestRuleRoutingMinSeverity(t *testing.T) {
	store := newTestStore(t)
	slack := &captureProvider{name: "slack", enabled: true}
	email := &captureProvider{name: "email", enabled: true}
	am := New(store, []notification.Provider{slack, email}, nil)

	require.NoError(t, am.SaveRule(&datastore.NotificationRule{
		Name:       "high-and-up-to-slack",
		Conditions: `{"min_severity":"high"}`,
		Actions:    `{"channels":["slack"]}`,
		Enabled:    true,
	}))

	// Critical matches the rule, only slack fires.
	_, err := am.CreateAlert(context.Background(), weaponCandidate("cam-1"), nil)
	require.NoError(t, err)
	am.Wait()

	assert.Equal(t, 1, slack.count())
	assert.Equal(t, 0, email.count())

	// Medium falls short of the rule, nothing fires.
	medium := weaponCandidate("cam-1")
	medium.Severity = detection.SeverityMedium
	_, err = am.CreateAlert(context.Background(), medium, nil)
	require.NoError(t, err)
	am.Wait()

	assert.Equal(t, 1, slack.count())
	assert.Equal(t, 0, email.count())
}

func TestNoRulesRoutesToAllEnabledProviders(t *testing.T) {
	store := newTestStore(t)
	slack := &captureProvider{name: "slack", enabled: true}
	disabled := &captureProvider{name: "email", enabled: false}
	am := New(store, []notification.Provider{slack, disabled}, nil)

	_, err := am.CreateAlert(context.Background(), weaponCandidate("cam-1"), nil)
	require.NoError(t, err)
	am.Wait()

	assert.Equal(t, 1, slack.count())
	assert.Equal(t, 0, disabled.count())
}

func TestRuleMatching(t *testing.T) {
	t.Parallel()

	base := &datastore.Alert{
		CameraID:   "cam-1",
		AlertType:  "weapon",
		Severity:   "critical",
		Confidence: 0.9,
		ZoneID:     "zone-1",
		Timestamp:  time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
	}

	tests := []struct {
		name       string
		conditions string
		want       bool
	}{
		{"empty matches all", `{}`, true},
		{"type match", `{"alert_types":["weapon","fire_smoke"]}`, true},
		{"type mismatch", `{"alert_types":["traffic_jam"]}`, false},
		{"severity at least", `{"min_severity":"high"}`, true},
		{"severity equal to minimum", `{"min_severity":"critical","alert_types":["weapon"]}`, true},
		{"invalid min severity", `{"min_severity":"apocalyptic"}`, false},
		{"camera match", `{"camera_ids":["cam-1"]}`, true},
		{"camera mismatch", `{"camera_ids":["cam-9"]}`, false},
		{"zone match", `{"zone_ids":["zone-1"]}`, true},
		{"zone mismatch", `{"zone_ids":["zone-9"]}`, false},
		{"confidence met", `{"min_confidence":0.8}`, true},
		{"confidence not met", `{"min_confidence":0.95}`, false},
		{"inside hour window", `{"start_hour":9,"end_hour":17}`, true},
		{"outside hour window", `{"start_hour":0,"end_hour":6}`, false},
		{"wrapping window miss", `{"start_hour":22,"end_hour":6}`, false},
		{"all conditions AND", `{"alert_types":["weapon"],"camera_ids":["cam-9"]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule, err := parseRule(&datastore.NotificationRule{
				Name:       tt.name,
				Conditions: tt.conditions,
				Actions:    `{"channels":["slack"]}`,
				Enabled:    true,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.matches(base))
		})
	}
}

func TestRuleZoneConditionIgnoredWithoutZone(t *testing.T) {
	t.Parallel()

	rule, err := parseRule(&datastore.NotificationRule{
		Name:       "zoned",
		Conditions: `{"zone_ids":["zone-9"]}`,
		Actions:    `{"channels":["slack"]}`,
	})
	require.NoError(t, err)

	// An alert without a zone is not constrained by zone conditions.
	alert := &datastore.Alert{AlertType: "weapon", Severity: "critical", Timestamp: time.Now()}
	assert.True(t, rule.matches(alert))
}

func TestHourInRange(t *testing.T) {
	t.Parallel()

	at := func(hour int) time.Time {
		return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
	}

	assert.True(t, hourInRange(at(9), 9, 17))
	assert.True(t, hourInRange(at(17), 9, 17))
	assert.False(t, hourInRange(at(18), 9, 17))

	// Overnight windows wrap.
	assert.True(t, hourInRange(at(23), 22, 6))
	assert.True(t, hourInRange(at(3), 22, 6))
	assert.False(t, hourInRange(at(12), 22, 6))
}
