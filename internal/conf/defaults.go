// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "Kestrel")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "kestrel.log")
	viper.SetDefault("main.log.level", "info")

	viper.SetDefault("cameras", []CameraSource{})

	viper.SetDefault("resolver.cachettl", 30*time.Minute)
	viper.SetDefault("resolver.probetimeout", 10*time.Second)
	viper.SetDefault("resolver.resolvetimeout", 30*time.Second)
	viper.SetDefault("resolver.maxconcurrency", 5)

	viper.SetDefault("detector.enabled", true)
	viper.SetDefault("detector.targetfps", 5)
	viper.SetDefault("detector.sourcefps", 30)
	viper.SetDefault("detector.tracking", true)
	viper.SetDefault("detector.modelendpoint", "http://127.0.0.1:8502/detect")

	viper.SetDefault("recorder.enabled", true)
	viper.SetDefault("recorder.path", "recordings/")
	viper.SetDefault("recorder.segmentseconds", 300)
	viper.SetDefault("recorder.prealertseconds", 30)
	viper.SetDefault("recorder.postalertseconds", 30)
	viper.SetDefault("recorder.fps", 15)
	viper.SetDefault("recorder.thumbnailwidth", 320)

	viper.SetDefault("storage.debug", false)
	viper.SetDefault("storage.quotabytes", int64(50)<<30)
	viper.SetDefault("storage.cleanupinterval", time.Hour)
	viper.SetDefault("storage.usagetarget", 0.8)

	viper.SetDefault("notification.email.enabled", false)
	viper.SetDefault("notification.email.port", 587)
	viper.SetDefault("notification.webhooks", []WebhookTarget{})
	viper.SetDefault("notification.slack.enabled", false)
	viper.SetDefault("notification.discord.enabled", false)
	viper.SetDefault("notification.shoutrrr.enabled", false)
	viper.SetDefault("notification.shoutrrr.urls", []string{})
	viper.SetDefault("notification.mqtt.enabled", false)
	viper.SetDefault("notification.mqtt.topic", "kestrel/alerts")
	viper.SetDefault("notification.mqtt.clientid", "kestrel")
	viper.SetDefault("notification.mqtt.retain", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "kestrel.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "0.0.0.0:8090")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "0.0.0.0:9090")
}
