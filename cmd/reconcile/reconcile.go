// Package reconcile implements the reconcile subcommand: the scheduled sweep
// over model-fit requests.
package reconcile

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/mqtt"
	"github.com/whipbird/chorus-go/internal/observability"
	"github.com/whipbird/chorus-go/internal/reconciler"
)

// Command creates the reconcile command.
func Command(settings *conf.Settings) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the model-fit request reconciler",
		Long:  "Sweeps model-fit requests on a schedule, enqueueing dwelled pending requests and re-enqueueing stuck ones until their retry budget runs out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), settings, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")

	return cmd
}

func runReconcile(ctx context.Context, settings *conf.Settings, once bool) error {
	log := logging.ForService("reconcile")

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	if settings.Metrics.Enabled && !once {
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

	bus, err := mqtt.NewClient(settings, metrics.MQTT)
	if err != nil {
		return fmt.Errorf("creating bus client: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer bus.Disconnect()

	r := reconciler.New(store, bus, settings, reconciler.SystemClock(), metrics.Reconciler)

	if once {
		return r.Run(ctx)
	}

	r.Start(ctx)
	return nil
}
