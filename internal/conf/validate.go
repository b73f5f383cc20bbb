package conf

import (
	"fmt"
	"strings"
)

// ValidateSettings checks the loaded configuration for values the pipeline
// cannot recover from at runtime.
func ValidateSettings(settings *Settings) error {
	var errs []string

	if settings.Detector.TargetFPS <= 0 {
		errs = append(errs, "detector.targetfps must be greater than 0")
	}
	if settings.Detector.SourceFPS <= 0 {
		errs = append(errs, "detector.sourcefps must be greater than 0")
	}
	if settings.Recorder.Enabled {
		if settings.Recorder.Path == "" {
			errs = append(errs, "recorder.path must be set when recording is enabled")
		}
		if settings.Recorder.SegmentSeconds <= 0 {
			errs = append(errs, "recorder.segmentseconds must be greater than 0")
		}
		if settings.Recorder.PreAlertSeconds <= 0 {
			errs = append(errs, "recorder.prealertseconds must be greater than 0")
		}
		if settings.Recorder.FPS <= 0 {
			errs = append(errs, "recorder.fps must be greater than 0")
		}
	}
	if settings.Storage.QuotaBytes <= 0 {
		errs = append(errs, "storage.quotabytes must be greater than 0")
	}
	if settings.Storage.UsageTarget <= 0 || settings.Storage.UsageTarget >= 1 {
		errs = append(errs, "storage.usagetarget must be between 0 and 1")
	}
	if settings.Notification.Email.Enabled {
		if settings.Notification.Email.Host == "" {
			errs = append(errs, "notification.email.host must be set when email is enabled")
		}
		if len(settings.Notification.Email.Recipients) == 0 {
			errs = append(errs, "notification.email.recipients must not be empty when email is enabled")
		}
	}
	if settings.Notification.MQTT.Enabled && settings.Notification.MQTT.Broker == "" {
		errs = append(errs, "notification.mqtt.broker must be set when mqtt is enabled")
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		errs = append(errs, "either output.sqlite or output.mysql must be enabled")
	}

	seen := make(map[string]bool, len(settings.Cameras))
	for i := range settings.Cameras {
		cam := &settings.Cameras[i]
		if cam.ID == "" {
			errs = append(errs, fmt.Sprintf("cameras[%d].id must be set", i))
			continue
		}
		if seen[cam.ID] {
			errs = append(errs, fmt.Sprintf("duplicate camera id %q", cam.ID))
		}
		seen[cam.ID] = true
		if cam.URL == "" {
			errs = append(errs, fmt.Sprintf("camera %q has no source url", cam.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
