// config.go: settings struct and loading for the kestrel surveillance core.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CameraSource describes one camera input. Owned by configuration; the
// pipeline only reads it.
type CameraSource struct {
	ID        string            // unique camera identifier
	Name      string            // operator-facing name
	URL       string            // raw source URL or descriptor
	Headers   map[string]string // optional auth headers for the source
	ZoneID    string            // optional zone the camera belongs to
	Latitude  float64
	Longitude float64
}

// ResolverSettings contains stream resolution settings.
type ResolverSettings struct {
	CacheTTL       time.Duration // how long resolved streams stay cached
	ProbeTimeout   time.Duration // timeout for HEAD existence checks
	ResolveTimeout time.Duration // per-URL timeout in batch resolution
	MaxConcurrency int           // worker bound for batch resolution
}

// DetectorSettings contains risk detection settings.
type DetectorSettings struct {
	Enabled       bool
	TargetFPS     int // detection rate, frames actually analyzed per second
	SourceFPS     int // assumed camera frame rate for gating
	Tracking      bool
	ModelEndpoint string // HTTP inference service URL
}

// RecorderSettings contains continuous recording and clip settings.
type RecorderSettings struct {
	Enabled          bool
	Path             string // recording output directory
	SegmentSeconds   int    // duration of one continuous segment file
	PreAlertSeconds  int    // pre-alert ring buffer window
	PostAlertSeconds int    // live continuation window after an alert
	FPS              int    // frame rate used to size the pre-alert buffer
	ThumbnailWidth   int    // max thumbnail width in pixels
}

// StorageSettings contains the recording storage budget.
type StorageSettings struct {
	Debug           bool
	QuotaBytes      int64         // total recording storage budget
	CleanupInterval time.Duration // how often the usage sweep runs
	UsageTarget     float64       // cleanup stops once usage falls to this fraction of quota
}

// EmailSettings contains SMTP notification settings.
type EmailSettings struct {
	Enabled    bool
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// WebhookTarget is one generic webhook endpoint.
type WebhookTarget struct {
	Name string
	URL  string
}

// MQTTSettings contains MQTT alert publishing settings.
type MQTTSettings struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	Enabled  bool
	Retain   bool
}

// NotificationSettings groups all delivery channels.
type NotificationSettings struct {
	Email    EmailSettings
	Webhooks []WebhookTarget
	Slack    struct {
		Enabled    bool
		WebhookURL string
		Channel    string
	}
	Discord struct {
		Enabled    bool
		WebhookURL string
	}
	Shoutrrr struct {
		Enabled bool
		URLs    []string
	}
	MQTT MQTTSettings
}

// Settings is the root configuration.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version string `yaml:"-"`

	Main struct {
		Name string // name of this kestrel node
		Log  struct {
			Enabled bool
			Path    string
			Level   string // debug, info, warn, error
		}
	}

	Cameras []CameraSource

	Resolver ResolverSettings
	Detector DetectorSettings
	Recorder RecorderSettings
	Storage  StorageSettings

	Notification NotificationSettings

	Output struct {
		SQLite struct {
			Enabled bool
			Path    string
		}
		MySQL struct {
			Enabled  bool
			Username string
			Password string
			Database string
			Host     string
			Port     string
		}
	}

	API struct {
		Enabled bool
		Listen  string // address:port for the query surface
	}

	Metrics struct {
		Enabled bool
		Listen  string // address:port for the prometheus endpoint
	}
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with defaults and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("KESTREL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file is fine, defaults plus env cover a minimal run.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// Setting returns the current settings instance, loading it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetTestSettings installs a settings instance directly, for tests.
func SetTestSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	once.Do(func() {})
	settingsInstance = s
}

// GetDefaultConfigPaths returns the list of directories searched for
// config.yaml, most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "kestrel"))
	}
	paths = append(paths, ".")
	return paths, nil
}

// SaveYAMLConfig writes the settings as YAML to configPath, atomically.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary config file: %w", err)
	}
	tempName := tempFile.Name()
	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("error writing temporary config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error closing temporary config file: %w", err)
	}
	if err := os.Rename(tempName, configPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
