package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/errors"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/mqtt"
	"github.com/whipbird/chorus-go/internal/observability/metrics"
)

const triggerIndexCacheKey = "trigger-index"

// Dispatcher observes audio record writes and executes the trigger graph.
// It registers itself on the datastore and reacts to created and updated
// records in write order.
//
// Dispatch failures are logged, counted and dropped, never propagated back
// into the write that triggered them: the record write has already committed,
// and failing it retroactively would leave the caller with nothing sensible
// to do.
type Dispatcher struct {
	store    datastore.Interface
	bus      mqtt.Client
	settings *conf.Settings
	metrics  *metrics.DispatchMetrics
	cache    *cache.Cache
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher and registers it as an observer on the store.
func NewDispatcher(store datastore.Interface, bus mqtt.Client, settings *conf.Settings, m *metrics.DispatchMetrics) *Dispatcher {
	ttl := settings.Dispatch.DefinitionCacheTTL
	d := &Dispatcher{
		store:    store,
		bus:      bus,
		settings: settings,
		metrics:  m,
		cache:    cache.New(ttl, 2*ttl),
		log:      logging.ForService("dispatch"),
	}
	store.AddObserver(d)
	return d
}

// triggerIndex returns the definition index, rebuilding it from the store when
// the cached copy has expired. Definitions are static reference data, a stale
// index for the TTL window is acceptable.
func (d *Dispatcher) triggerIndex() (TriggerIndex, error) {
	if cached, found := d.cache.Get(triggerIndexCacheKey); found {
		return cached.(TriggerIndex), nil
	}
	definitions, err := d.store.GetAllAnalyses()
	if err != nil {
		return nil, errors.New(err).Component("dispatch").Category(errors.CategoryDatabase).Build()
	}
	index := BuildTriggerIndex(definitions)
	d.cache.Set(triggerIndexCacheKey, index, cache.DefaultExpiration)
	return index, nil
}

// AudioRecordCreated implements datastore.AudioRecordObserver. A new record
// fires the new-audio trigger.
func (d *Dispatcher) AudioRecordCreated(record *datastore.AudioRecord) {
	index, err := d.triggerIndex()
	if err != nil {
		d.log.Error("failed to load trigger index", "record", record.ID, "error", err)
		return
	}
	d.execute(index.IntentsForCreate(), record)
}

// AudioRecordUpdated implements datastore.AudioRecordObserver. Newly completed
// analyses fire their analysis-id triggers, and new detections without clips
// get clip requests.
func (d *Dispatcher) AudioRecordUpdated(before, after *datastore.AudioRecord) {
	index, err := d.triggerIndex()
	if err != nil {
		d.log.Error("failed to load trigger index", "record", after.ID, "error", err)
		return
	}
	d.execute(index.IntentsForUpdate(before.AnalysesPerformed, after.AnalysesPerformed), after)
	d.requestClips(before, after)
}

func (d *Dispatcher) execute(intents []Intent, record *datastore.AudioRecord) {
	for _, intent := range intents {
		if d.metrics != nil {
			d.metrics.TriggersFired.WithLabelValues(intent.Trigger).Inc()
		}
		if intent.Definition.TaskTarget != "" {
			d.createTask(intent, record)
		}
		if intent.Definition.Topic != "" {
			d.notifyTopic(intent, record)
		}
	}
}

// createTask writes a SCHEDULED task row for a worker to claim.
func (d *Dispatcher) createTask(intent Intent, record *datastore.AudioRecord) {
	task := &datastore.Task{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now(),
		AnalysisID:    intent.Definition.ID,
		RecorderID:    record.RecorderID,
		ProjectID:     record.ProjectID,
		AudioRecordID: record.ID,
		AudioURI:      record.URI,
		Trigger:       intent.Trigger,
		Status:        datastore.TaskScheduled,
	}
	if err := d.store.CreateTask(task); err != nil {
		d.log.Error("failed to create task", "analysis", intent.Definition.ID, "record", record.ID, "error", err)
		return
	}
	d.log.Info("task created", "task", task.ID, "analysis", intent.Definition.ID,
		"record", record.ID, "trigger", intent.Trigger)
	if d.metrics != nil {
		d.metrics.TasksCreated.Inc()
	}
}

// notifyTopic publishes the bare record id to the definition's topic. The
// payload is the id itself, subscribers fetch the record if they need more.
func (d *Dispatcher) notifyTopic(intent Intent, record *datastore.AudioRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), d.settings.MQTT.PublishTimeout)
	defer cancel()
	if err := d.bus.Publish(ctx, intent.Definition.Topic, []byte(record.ID)); err != nil {
		d.log.Error("failed to publish topic notification", "topic", intent.Definition.Topic,
			"record", record.ID, "error", err)
		return
	}
	d.log.Info("topic notified", "topic", intent.Definition.Topic, "record", record.ID,
		"trigger", intent.Trigger)
	if d.metrics != nil {
		d.metrics.TopicsNotified.Inc()
	}
}
