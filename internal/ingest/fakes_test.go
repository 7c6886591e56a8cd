package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/objectstore"
)

func TestMain(m *testing.M) {
	logging.Init()
	os.Exit(m.Run())
}

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Buckets = conf.BucketSettings{
		Dropbox:    "test-dropbox",
		Archive:    "test-archive",
		Filter:     "test-filter",
		Quarantine: "test-quarantine",
	}
	settings.Audio = testAudioSettings()
	return settings
}

// fakeStore is an in-memory datastore.Interface for handler tests.
type fakeStore struct {
	projects  map[string]*datastore.Project
	recorders map[string]*datastore.Recorder
	records   map[string]*datastore.AudioRecord
	configs   map[string]*datastore.RecorderConfig

	uploads         map[string]datastore.LastUpload
	deployedConfigs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  make(map[string]*datastore.Project),
		recorders: make(map[string]*datastore.Recorder),
		records:   make(map[string]*datastore.AudioRecord),
		configs:   make(map[string]*datastore.RecorderConfig),
		uploads:   make(map[string]datastore.LastUpload),
	}
}

func (f *fakeStore) Open() error  { return nil }
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) GetProject(id string) (*datastore.Project, error) {
	return f.projects[id], nil
}

func (f *fakeStore) GetRecorder(deviceID string) (*datastore.Recorder, error) {
	return f.recorders[deviceID], nil
}

func (f *fakeStore) CreateRecorder(recorder *datastore.Recorder) error {
	if _, exists := f.recorders[recorder.DeviceID]; exists {
		return datastore.ErrAlreadyExists
	}
	f.recorders[recorder.DeviceID] = recorder
	return nil
}

func (f *fakeStore) UpdateRecorderUpload(deviceID, configID string, upload datastore.LastUpload) error {
	f.uploads[deviceID] = upload
	if recorder, ok := f.recorders[deviceID]; ok {
		recorder.ConfigID = configID
		recorder.LastUploadID = upload.RecordID
		recorder.LastUploadAt = upload.UploadedAt
		recorder.LastUploadURI = upload.URI
	}
	return nil
}

func (f *fakeStore) MarkConfigDeployed(configID, projectID, deviceID string) error {
	f.deployedConfigs = append(f.deployedConfigs, configID)
	return nil
}

func (f *fakeStore) CreateAudioRecordIfAbsent(record *datastore.AudioRecord) (bool, error) {
	if _, exists := f.records[record.ID]; exists {
		return false, nil
	}
	f.records[record.ID] = record
	return true, nil
}

func (f *fakeStore) GetAudioRecord(id string) (*datastore.AudioRecord, error) {
	return f.records[id], nil
}

func (f *fakeStore) UpdateAudioRecord(id string, mutate func(*datastore.AudioRecord) error) (*datastore.AudioRecord, *datastore.AudioRecord, error) {
	record := f.records[id]
	before := record.Copy()
	if err := mutate(record); err != nil {
		return nil, nil, err
	}
	return &before, record, nil
}

func (f *fakeStore) AddObserver(observer datastore.AudioRecordObserver) {}

func (f *fakeStore) GetAnalysesByTrigger(trigger string) ([]datastore.AnalysisDefinition, error) {
	return nil, nil
}

func (f *fakeStore) GetAllAnalyses() ([]datastore.AnalysisDefinition, error) { return nil, nil }

func (f *fakeStore) CreateTask(task *datastore.Task) error { return nil }

func (f *fakeStore) GetTask(id string) (*datastore.Task, error) { return nil, nil }

func (f *fakeStore) UpdateTaskStatus(id string, status datastore.TaskStatus) error {
	return nil
}
func (f *fakeStore) ListTasksByStatus(status datastore.TaskStatus) ([]datastore.Task, error) {
	return nil, nil
}

func (f *fakeStore) CreateFitRequest(request *datastore.ModelFitRequest) error { return nil }
func (f *fakeStore) GetFitRequest(id string) (*datastore.ModelFitRequest, error) {
	return nil, nil
}
func (f *fakeStore) ListFitRequestsPending(createdBefore time.Time) ([]datastore.ModelFitRequest, error) {
	return nil, nil
}
func (f *fakeStore) ListFitRequestsStuck(processingBefore time.Time) ([]datastore.ModelFitRequest, error) {
	return nil, nil
}
func (f *fakeStore) MarkFitRequestQueued(id string, now time.Time) error { return nil }
func (f *fakeStore) MarkFitRequestFailed(id string, now time.Time) error { return nil }

// fakeObjects records the object store operations a handler performs.
type fakeObjects struct {
	moves    []objectMove
	metadata map[string]map[string]string
	deleted  []objectstore.ObjectRef
	demoted  []objectDemotion
}

type objectMove struct {
	src, dst objectstore.ObjectRef
}

type objectDemotion struct {
	ref          objectstore.ObjectRef
	storageClass string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{metadata: make(map[string]map[string]string)}
}

func (f *fakeObjects) Move(ctx context.Context, src, dst objectstore.ObjectRef) error {
	f.moves = append(f.moves, objectMove{src: src, dst: dst})
	return nil
}

func (f *fakeObjects) SetMetadata(ctx context.Context, ref objectstore.ObjectRef, metadata map[string]string) error {
	f.metadata[ref.URI()] = metadata
	return nil
}

func (f *fakeObjects) Delete(ctx context.Context, ref objectstore.ObjectRef) error {
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeObjects) Demote(ctx context.Context, ref objectstore.ObjectRef, storageClass string) error {
	f.demoted = append(f.demoted, objectDemotion{ref: ref, storageClass: storageClass})
	return nil
}

func (f *fakeObjects) Close() error { return nil }
