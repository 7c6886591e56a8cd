package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/mqtt"
)

func TestMain(m *testing.M) {
	logging.Init()
	os.Exit(m.Run())
}

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.MQTT.Topics.Clips = "analyses/clippy"
	settings.MQTT.PublishTimeout = time.Second
	settings.Dispatch.DefinitionCacheTTL = time.Minute
	return settings
}

// fakeStore overrides only what the dispatcher touches. Anything else
// panics through the embedded nil interface, which is what we want in a test.
type fakeStore struct {
	datastore.Interface

	mu          sync.Mutex
	definitions []datastore.AnalysisDefinition
	tasks       []*datastore.Task
	listCalls   int
}

func (f *fakeStore) AddObserver(observer datastore.AudioRecordObserver) {}

func (f *fakeStore) GetAllAnalyses() ([]datastore.AnalysisDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.definitions, nil
}

func (f *fakeStore) CreateTask(task *datastore.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

type publishedMessage struct {
	topic   string
	payload []byte
}

// fakeBus records publishes.
type fakeBus struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (f *fakeBus) Connect(ctx context.Context) error { return nil }
func (f *fakeBus) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, publishedMessage{topic: topic, payload: payload})
	return nil
}
func (f *fakeBus) Subscribe(topic string, handler mqtt.MessageHandler) error { return nil }

func (f *fakeBus) IsConnected() bool { return true }

func (f *fakeBus) Disconnect() {}

func testRecord() *datastore.AudioRecord {
	return &datastore.AudioRecord{
		ID:         "abc123",
		ProjectID:  "proj-1",
		RecorderID: "dev-42",
		URI:        "gs://test-archive/audio/proj-1/dev-42/conf-7/x.mp3",
	}
}

func TestDispatcherCreate(t *testing.T) {
	t.Parallel()

	store := &fakeStore{definitions: []datastore.AnalysisDefinition{
		{ID: "birdnet", Trigger: datastore.TriggerNewAudio, TaskTarget: "birdnet-worker"},
		{ID: "speech", Trigger: datastore.TriggerNewAudio, Topic: "analyses/speech"},
		{ID: "anomaly", Trigger: "birdnet", Topic: "analyses/anomaly"},
	}}
	bus := &fakeBus{}
	dispatcher := NewDispatcher(store, bus, testSettings(), nil)

	dispatcher.AudioRecordCreated(testRecord())

	// Task target definition produced a scheduled task.
	require.Len(t, store.tasks, 1)
	task := store.tasks[0]
	assert.Equal(t, "birdnet", task.AnalysisID)
	assert.Equal(t, datastore.TaskScheduled, task.Status)
	assert.Equal(t, "abc123", task.AudioRecordID)
	assert.Equal(t, datastore.TriggerNewAudio, task.Trigger)
	assert.NotEmpty(t, task.ID)

	// Topic definition published the bare record id.
	require.Len(t, bus.messages, 1)
	assert.Equal(t, "analyses/speech", bus.messages[0].topic)
	assert.Equal(t, []byte("abc123"), bus.messages[0].payload)
}

func TestDispatcherUpdate(t *testing.T) {
	t.Parallel()

	store := &fakeStore{definitions: []datastore.AnalysisDefinition{
		{ID: "anomaly", Trigger: "birdnet", TaskTarget: "anomaly-worker", Topic: "analyses/anomaly"},
	}}
	bus := &fakeBus{}
	dispatcher := NewDispatcher(store, bus, testSettings(), nil)

	before := testRecord()
	after := testRecord()
	after.AnalysesPerformed = []string{"birdnet"}

	dispatcher.AudioRecordUpdated(before, after)

	// A definition with both a task target and a topic does both.
	require.Len(t, store.tasks, 1)
	assert.Equal(t, "anomaly", store.tasks[0].AnalysisID)
	assert.Equal(t, "birdnet", store.tasks[0].Trigger)
	require.Len(t, bus.messages, 1)
	assert.Equal(t, "analyses/anomaly", bus.messages[0].topic)
}

func TestDispatcherUpdateUnchangedAnalysesFiresNothing(t *testing.T) {
	t.Parallel()

	store := &fakeStore{definitions: []datastore.AnalysisDefinition{
		{ID: "anomaly", Trigger: "birdnet", TaskTarget: "anomaly-worker"},
	}}
	bus := &fakeBus{}
	dispatcher := NewDispatcher(store, bus, testSettings(), nil)

	before := testRecord()
	before.AnalysesPerformed = []string{"birdnet"}
	after := testRecord()
	after.AnalysesPerformed = []string{"birdnet"}

	dispatcher.AudioRecordUpdated(before, after)

	assert.Empty(t, store.tasks)
	assert.Empty(t, bus.messages)
}

func TestDispatcherClipRequests(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bus := &fakeBus{}
	dispatcher := NewDispatcher(store, bus, testSettings(), nil)

	before := testRecord()
	before.Detections = []datastore.Detection{
		{ID: "det-old", AudioRecordID: "abc123"},
	}
	after := testRecord()
	after.Detections = []datastore.Detection{
		{ID: "det-old", AudioRecordID: "abc123"},
		{ID: "det-new", AudioRecordID: "abc123"},
		{ID: "det-clipped", AudioRecordID: "abc123", ClipURI: "gs://clips/x.mp3"},
	}

	dispatcher.AudioRecordUpdated(before, after)

	// Only the new clipless detection requests a clip.
	require.Len(t, bus.messages, 1)
	assert.Equal(t, "analyses/clippy", bus.messages[0].topic)

	var request ClipRequest
	require.NoError(t, json.Unmarshal(bus.messages[0].payload, &request))
	assert.Equal(t, ClipRequest{AudioID: "abc123", DetectionID: "det-new"}, request)
}

func TestDispatcherCachesDefinitionIndex(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bus := &fakeBus{}
	dispatcher := NewDispatcher(store, bus, testSettings(), nil)

	dispatcher.AudioRecordCreated(testRecord())
	dispatcher.AudioRecordCreated(testRecord())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.listCalls)
}
