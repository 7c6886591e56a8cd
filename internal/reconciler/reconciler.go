// Package reconciler implements the scheduled sweep over model-fit requests:
// dwelled pending requests are enqueued onto the bus, and requests whose
// worker went quiet are re-enqueued until their retry budget runs out.
package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/errors"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/mqtt"
	"github.com/whipbird/chorus-go/internal/observability/metrics"
)

const (
	// PendingDwell is how long a pending request must sit before it is
	// enqueued. The dwell batches up requests created in bursts and gives
	// an operator a window to cancel mistakes.
	PendingDwell = 2 * time.Hour

	// StuckTimeout is how long a processing request may go without finishing
	// before it is treated as abandoned and re-enqueued.
	StuckTimeout = 8 * time.Hour

	// MaxAttempts is the retry budget. A stuck request on its sixth attempt
	// is terminated instead of re-enqueued.
	MaxAttempts = 6
)

// Clock abstracts time for the sweeps so the dwell and timeout cutoffs can be
// tested without waiting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// FitWorkMessage is the bus payload a model-fit worker receives. The date
// windows are rendered as ISO-8601 so workers in any language parse them the
// same way.
type FitWorkMessage struct {
	Request     string `json:"request"`
	Project     string `json:"project"`
	Recorder    string `json:"recorder"`
	FromISODate string `json:"from_iso_date"`
	ToISODate   string `json:"to_iso_date"`
}

// Reconciler runs the periodic sweeps over model-fit requests.
type Reconciler struct {
	store    datastore.Interface
	bus      mqtt.Client
	settings *conf.Settings
	clock    Clock
	metrics  *metrics.ReconcilerMetrics
	log      *slog.Logger
}

// New creates a reconciler.
func New(store datastore.Interface, bus mqtt.Client, settings *conf.Settings, clock Clock, m *metrics.ReconcilerMetrics) *Reconciler {
	return &Reconciler{
		store:    store,
		bus:      bus,
		settings: settings,
		clock:    clock,
		metrics:  m,
		log:      logging.ForService("reconciler"),
	}
}

// Run executes one full sweep: dwelled pending requests first, then stuck
// processing requests. Per-request failures are logged and skipped so one bad
// row cannot stall the rest of the sweep; the error returned reflects only
// failures to list the candidates.
func (r *Reconciler) Run(ctx context.Context) error {
	start := r.clock.Now()
	if r.metrics != nil {
		r.metrics.SweepsRun.Inc()
	}

	if err := r.sweepPending(ctx); err != nil {
		return err
	}
	if err := r.sweepStuck(ctx); err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// sweepPending enqueues every pending request older than the dwell window.
func (r *Reconciler) sweepPending(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-PendingDwell)
	requests, err := r.store.ListFitRequestsPending(cutoff)
	if err != nil {
		return errors.New(err).Component("reconciler").Category(errors.CategoryDatabase).Build()
	}
	for i := range requests {
		request := &requests[i]
		if err := r.enqueue(ctx, request, "pending"); err != nil {
			r.log.Error("failed to enqueue pending fit request", "request", request.ID, "error", err)
		}
	}
	return nil
}

// sweepStuck re-enqueues processing requests whose worker went quiet, or
// terminates them once the retry budget is spent.
func (r *Reconciler) sweepStuck(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-StuckTimeout)
	requests, err := r.store.ListFitRequestsStuck(cutoff)
	if err != nil {
		return errors.New(err).Component("reconciler").Category(errors.CategoryDatabase).Build()
	}
	for i := range requests {
		request := &requests[i]
		if request.Attempts >= MaxAttempts {
			r.log.Warn("fit request exhausted retries, terminating", "request", request.ID,
				"attempts", request.Attempts)
			if err := r.store.MarkFitRequestFailed(request.ID, r.clock.Now()); err != nil {
				r.log.Error("failed to terminate fit request", "request", request.ID, "error", err)
				continue
			}
			if r.metrics != nil {
				r.metrics.RequestsFailed.Inc()
			}
			continue
		}
		if err := r.enqueue(ctx, request, "stuck"); err != nil {
			r.log.Error("failed to re-enqueue stuck fit request", "request", request.ID, "error", err)
		}
	}
	return nil
}

// enqueue publishes the work message and then marks the request queued. The
// publish comes first: if the status write fails after a successful publish
// the next sweep re-enqueues, and workers treat duplicate work messages as
// re-runs of the same fit.
func (r *Reconciler) enqueue(ctx context.Context, request *datastore.ModelFitRequest, sweep string) error {
	payload, err := json.Marshal(FitWorkMessage{
		Request:     request.ID,
		Project:     request.ProjectID,
		Recorder:    request.RecorderID,
		FromISODate: request.SourceDataStart.Format(time.RFC3339),
		ToISODate:   request.SourceDataEnd.Format(time.RFC3339),
	})
	if err != nil {
		return errors.New(err).Component("reconciler").Category(errors.CategoryGeneric).Build()
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.settings.MQTT.PublishTimeout)
	defer cancel()
	if err := r.bus.Publish(publishCtx, r.settings.MQTT.Topics.ModelFit, payload); err != nil {
		return errors.New(err).Component("reconciler").Category(errors.CategoryMQTTPublish).Build()
	}

	if err := r.store.MarkFitRequestQueued(request.ID, r.clock.Now()); err != nil {
		return errors.New(err).Component("reconciler").Category(errors.CategoryDatabase).Build()
	}

	r.log.Info("fit request enqueued", "request", request.ID, "sweep", sweep,
		"attempt", request.Attempts+1)
	if r.metrics != nil {
		r.metrics.RequestsEnqueued.WithLabelValues(sweep).Inc()
	}
	return nil
}
