// config.go: This file contains the configuration for the chorus-go service. It defines the
// settings struct and functions to load and access the settings.
package conf

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// BucketSettings names the storage areas audio moves through on its way to the archive.
type BucketSettings struct {
	Dropbox    string // create-only bucket field recorders upload into
	Archive    string // canonical archive bucket, 5-segment audio/ keys
	Filter     string // holding bucket for projects with speech filtering enabled
	Quarantine string // bucket audio that failed a speech check lands in
}

// AudioSettings describes what an acceptable upload looks like.
type AudioSettings struct {
	Extension   string // required filename extension, e.g. ".mp3"
	ContentType string // required object content type, e.g. "audio/mpeg"
}

// MQTTSettings contains the message bus connection and topic layout.
type MQTTSettings struct {
	Broker   string // broker URL, e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Topics   struct {
		UploadEvents     string // storage finalize events for the dropbox bucket
		ArchiveEvents    string // storage finalize events for the archive bucket
		QuarantineEvents string // storage finalize events for the quarantine bucket
		Clips            string // clip-generation requests for new detections
		ModelFit         string // model-fit work messages for the reconciler
	}
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// SQLiteSettings contains the SQLite database settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains the MySQL database settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the backing database for document records.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// ReconcilerSettings controls the scheduled job reconciler.
type ReconcilerSettings struct {
	Interval time.Duration // how often the sweeps run
}

// DispatchSettings controls the trigger dispatch graph.
type DispatchSettings struct {
	DefinitionCacheTTL time.Duration // how long the analysis definition index is cached
}

// LogSettings contains file logging rotation settings.
type LogSettings struct {
	MaxSize    int // megabytes before a log file is rotated
	MaxBackups int
	MaxAge     int // days
}

// Settings is the root configuration for the service.
type Settings struct {
	Debug bool

	Main struct {
		Name string // client / instance name, used as MQTT client id
		Log  LogSettings
	}

	Buckets    BucketSettings
	Audio      AudioSettings
	MQTT       MQTTSettings
	Output     OutputSettings
	Reconciler ReconcilerSettings
	Dispatch   DispatchSettings

	Metrics struct {
		Enabled bool
		Listen  string // address the prometheus handler listens on
	}
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		settingsInstance = &Settings{}
		if err := Load(settingsInstance); err != nil {
			log.Fatalf("error loading settings: %v", err)
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Load initializes viper and unmarshals the configuration into settings.
func Load(settings *Settings) error {
	if err := initViper(); err != nil {
		return fmt.Errorf("error initializing viper: %w", err)
	}
	if err := viper.Unmarshal(settings); err != nil {
		return fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	return validateSettings(settings)
}

// initViper sets defaults, reads the config file if present and binds environment overrides.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/chorus")
	viper.AddConfigPath("/etc/chorus")

	viper.SetEnvPrefix("chorus")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file is fine, defaults plus env cover a full run
	}

	return nil
}

func validateSettings(settings *Settings) error {
	if settings.Buckets.Dropbox == "" || settings.Buckets.Archive == "" {
		return fmt.Errorf("buckets.dropbox and buckets.archive must be configured")
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("either output.sqlite or output.mysql must be enabled")
	}
	if settings.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be positive")
	}
	return nil
}
