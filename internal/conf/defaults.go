// defaults.go: default configuration values applied before the config file is read
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value for every setting with viper.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "chorus")
	viper.SetDefault("main.log.maxsize", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)

	viper.SetDefault("buckets.dropbox", "chorus-audio-dropbox")
	viper.SetDefault("buckets.archive", "chorus-audio-archive")
	viper.SetDefault("buckets.filter", "chorus-audio-speech-filter")
	viper.SetDefault("buckets.quarantine", "chorus-audio-speech-quarantine")

	viper.SetDefault("audio.extension", ".mp3")
	viper.SetDefault("audio.contenttype", "audio/mpeg")

	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topics.uploadevents", "storage/dropbox/finalized")
	viper.SetDefault("mqtt.topics.archiveevents", "storage/archive/finalized")
	viper.SetDefault("mqtt.topics.quarantineevents", "storage/quarantine/finalized")
	viper.SetDefault("mqtt.topics.clips", "analyses/clippy")
	viper.SetDefault("mqtt.topics.modelfit", "analyses/anomaly-train-gmm")
	viper.SetDefault("mqtt.reconnectcooldown", 5*time.Second)
	viper.SetDefault("mqtt.reconnectdelay", 1*time.Second)
	viper.SetDefault("mqtt.connecttimeout", 30*time.Second)
	viper.SetDefault("mqtt.publishtimeout", 10*time.Second)
	viper.SetDefault("mqtt.disconnecttimeout", 250*time.Millisecond)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "chorus.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("reconciler.interval", time.Hour)
	viper.SetDefault("dispatch.definitioncachettl", 5*time.Minute)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", ":9090")
}
