// Package ingest implements the ingest subcommand: the long-running pipeline
// that consumes storage events and maintains recorder and audio records.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/dispatch"
	"github.com/whipbird/chorus-go/internal/ingest"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/mqtt"
	"github.com/whipbird/chorus-go/internal/objectstore"
	"github.com/whipbird/chorus-go/internal/observability"
)

// Command creates the ingest command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run the upload ingestion pipeline",
		Long:  "Consumes storage events from the bus, routes uploads between buckets, maintains recorder and audio records and dispatches analysis triggers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), settings)
		},
	}
}

func runIngest(ctx context.Context, settings *conf.Settings) error {
	log := logging.ForService("ingest")

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	if settings.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(settings.Metrics.Listen); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close datastore", "error", err)
		}
	}()

	objects, err := objectstore.NewGCS(ctx)
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}
	defer func() {
		if err := objects.Close(); err != nil {
			log.Error("failed to close object store", "error", err)
		}
	}()

	bus, err := mqtt.NewClient(settings, metrics.MQTT)
	if err != nil {
		return fmt.Errorf("creating bus client: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer bus.Disconnect()

	// The dispatcher registers itself as a record observer, so it must exist
	// before the first record write can happen.
	dispatch.NewDispatcher(store, bus, settings, metrics.Dispatch)

	router := ingest.NewIntakeRouter(store, objects, settings, metrics.Ingest)
	builder := ingest.NewRecordBuilder(store, objects, settings, metrics.Ingest)

	subscriptions := map[string]func(context.Context, *ingest.StorageEvent) error{
		settings.MQTT.Topics.UploadEvents:     router.HandleDropboxUpload,
		settings.MQTT.Topics.ArchiveEvents:    builder.HandleArchived,
		settings.MQTT.Topics.QuarantineEvents: router.HandleQuarantined,
	}
	for topic, handle := range subscriptions {
		if err := bus.Subscribe(topic, eventHandler(ctx, log, handle)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	log.Info("ingest pipeline running",
		"dropbox", settings.Buckets.Dropbox,
		"archive", settings.Buckets.Archive,
		"broker", settings.MQTT.Broker)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// eventHandler adapts a storage event handler to the bus message signature.
// Decode failures and handler errors are logged; the broker is not asked to
// redeliver because QoS 1 acking happens before the handler runs anyway, and
// the upstream event feed retries on its own schedule.
func eventHandler(ctx context.Context, log *slog.Logger, handle func(context.Context, *ingest.StorageEvent) error) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		event, err := ingest.DecodeStorageEvent(payload)
		if err != nil {
			log.Warn("dropping undecodable storage event", "topic", topic, "error", err)
			return
		}
		if err := handle(ctx, event); err != nil {
			log.Error("storage event handling failed", "topic", topic, "object", event.Name, "error", err)
		}
	}
}
