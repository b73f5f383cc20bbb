// Package realtime implements the main surveillance subcommand.
package realtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelwatch/kestrel/internal/alertmanager"
	"github.com/kestrelwatch/kestrel/internal/api"
	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/detector"
	"github.com/kestrelwatch/kestrel/internal/diskmanager"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/notification"
	"github.com/kestrelwatch/kestrel/internal/observability"
	"github.com/kestrelwatch/kestrel/internal/recorder"
	"github.com/kestrelwatch/kestrel/internal/resolver"
	"github.com/kestrelwatch/kestrel/internal/surveillance"
	"github.com/kestrelwatch/kestrel/internal/video"
)

// Command creates the realtime surveillance command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Watch camera streams in realtime",
		Long:  "Ingest the configured camera streams, detect risk events and raise alerts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Recorder.Path, "recordingpath", viper.GetString("recorder.path"), "Directory for continuous recordings and alert clips")
	cmd.Flags().IntVar(&settings.Detector.TargetFPS, "targetfps", viper.GetInt("detector.targetfps"), "Detection rate in frames per second")
	cmd.Flags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Listen address and port of the query API")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Enable Prometheus metrics endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func run(settings *conf.Settings) error {
	logger := logging.ForService("realtime")

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close()

	var metrics *observability.Metrics
	if settings.Metrics.Enabled {
		var err error
		metrics, err = observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("initializing metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(settings.Metrics.Listen); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	client := httpclient.New(nil)
	defer client.Close()

	res := resolver.New(settings.Resolver, client,
		resolver.NewYtDlpExtractor(""), resolver.NewFFProbe(""))

	source := video.NewAutoSource("", settings.Recorder.FPS)
	rec := recorder.New(settings.Recorder, source, store)
	rec.SetMetrics(metrics)

	var tracker detector.Tracker
	if settings.Detector.Tracking {
		tracker = detector.NewIOUTracker()
	}
	model := detector.NewRemoteDetector(settings.Detector.ModelEndpoint, client)
	det := detector.New(settings.Detector, model, tracker)

	providers := buildProviders(settings, client)
	alerts := alertmanager.New(store, providers, metrics)

	disk := diskmanager.New(settings.Storage, settings.Recorder.Path, store, metrics)

	system := surveillance.New(settings, res, det, rec, alerts, disk, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := system.Start(ctx); err != nil {
		return err
	}

	var server *api.Server
	if settings.API.Enabled {
		server = api.New(settings.API.Listen, alerts, store, system, disk)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	system.Stop()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}
	return nil
}

// buildProviders assembles the enabled notification channels, dropping any
// with invalid configuration.
func buildProviders(settings *conf.Settings, client *httpclient.Client) []notification.Provider {
	logger := logging.ForService("realtime")
	n := &settings.Notification

	candidates := []notification.Provider{
		notification.NewEmailProvider(n.Email),
		notification.NewWebhookProvider(n.Webhooks, client),
		notification.NewSlackProvider(n.Slack.Enabled, n.Slack.WebhookURL, n.Slack.Channel, client),
		notification.NewDiscordProvider(n.Discord.Enabled, n.Discord.WebhookURL, client),
		notification.NewShoutrrrProvider(n.Shoutrrr.Enabled, n.Shoutrrr.URLs),
		notification.NewMQTTProvider(n.MQTT),
	}

	providers := make([]notification.Provider, 0, len(candidates))
	for _, p := range candidates {
		if !p.IsEnabled() {
			continue
		}
		if err := p.ValidateConfig(); err != nil {
			logger.Error("disabling misconfigured channel",
				"channel", p.GetName(), "error", err)
			continue
		}
		providers = append(providers, p)
	}
	return providers
}
