// interfaces.go: this code defines the interface for the document store operations
package datastore

import (
	"fmt"
	"time"

	"github.com/whipbird/chorus-go/internal/conf"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LastUpload is the slim copy of the latest upload merged onto a Recorder.
// RecordID is left empty when the recorder has no site and no audio record
// is being created for it.
type LastUpload struct {
	RecordID   string
	UploadedAt time.Time
	URI        string
}

// Interface abstracts the underlying database implementation and defines the
// operations the ingest pipeline and reconciler need.
type Interface interface {
	Open() error
	Close() error

	// Projects
	GetProject(id string) (*Project, error)

	// Recorders
	GetRecorder(deviceID string) (*Recorder, error)
	CreateRecorder(recorder *Recorder) error
	UpdateRecorderUpload(deviceID, configID string, upload LastUpload) error

	// Recorder configs
	MarkConfigDeployed(configID, projectID, deviceID string) error

	// Audio records
	CreateAudioRecordIfAbsent(record *AudioRecord) (created bool, err error)
	GetAudioRecord(id string) (*AudioRecord, error)
	UpdateAudioRecord(id string, mutate func(*AudioRecord) error) (before, after *AudioRecord, err error)
	AddObserver(observer AudioRecordObserver)

	// Analysis definitions
	GetAnalysesByTrigger(trigger string) ([]AnalysisDefinition, error)
	GetAllAnalyses() ([]AnalysisDefinition, error)

	// Tasks
	CreateTask(task *Task) error
	GetTask(id string) (*Task, error)
	UpdateTaskStatus(id string, status TaskStatus) error
	ListTasksByStatus(status TaskStatus) ([]Task, error)

	// Model fit requests
	CreateFitRequest(request *ModelFitRequest) error
	GetFitRequest(id string) (*ModelFitRequest, error)
	ListFitRequestsPending(createdBefore time.Time) ([]ModelFitRequest, error)
	ListFitRequestsStuck(processingBefore time.Time) ([]ModelFitRequest, error)
	MarkFitRequestQueued(id string, now time.Time) error
	MarkFitRequestFailed(id string, now time.Time) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance

	observers observerList
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// GetProject retrieves a project by its id. Returns (nil, nil) if no such
// project exists; an unknown project is a routing decision, not an error.
func (ds *DataStore) GetProject(id string) (*Project, error) {
	var project Project
	err := ds.DB.First(&project, "id = ?", id).Error
	switch {
	case err == nil:
		return &project, nil
	case isNotFound(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("getting project %s: %w", id, err)
	}
}

// GetRecorder retrieves a recorder by device id. Returns (nil, nil) if the
// device has never been seen.
func (ds *DataStore) GetRecorder(deviceID string) (*Recorder, error) {
	var recorder Recorder
	err := ds.DB.First(&recorder, "device_id = ?", deviceID).Error
	switch {
	case err == nil:
		return &recorder, nil
	case isNotFound(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("getting recorder %s: %w", deviceID, err)
	}
}

// CreateRecorder inserts a new recorder row. A concurrent duplicate insert is
// reported as ErrAlreadyExists so the caller can fall back to a merge update.
func (ds *DataStore) CreateRecorder(recorder *Recorder) error {
	if err := ds.DB.Create(recorder).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("creating recorder %s: %w", recorder.DeviceID, err)
	}
	return nil
}

// UpdateRecorderUpload merge-updates only the last-upload summary and current
// config id on a recorder, leaving site, location and disabled untouched.
func (ds *DataStore) UpdateRecorderUpload(deviceID, configID string, upload LastUpload) error {
	err := ds.DB.Model(&Recorder{}).Where("device_id = ?", deviceID).Updates(map[string]any{
		"config_id":       configID,
		"last_upload_id":  upload.RecordID,
		"last_upload_at":  upload.UploadedAt,
		"last_upload_uri": upload.URI,
	}).Error
	if err != nil {
		return fmt.Errorf("updating last upload for recorder %s: %w", deviceID, err)
	}
	return nil
}

// MarkConfigDeployed records that at least one device running the given config
// has uploaded, and adds the device to the config's recorder list with set
// semantics.
func (ds *DataStore) MarkConfigDeployed(configID, projectID, deviceID string) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var config RecorderConfig
		err := tx.First(&config, "config_id = ?", configID).Error
		switch {
		case isNotFound(err):
			config = RecorderConfig{
				ConfigID:  configID,
				CreatedAt: time.Now(),
				ProjectID: projectID,
				Deployed:  true,
				Recorders: []string{deviceID},
			}
			if err := tx.Create(&config).Error; err != nil {
				return fmt.Errorf("creating config %s: %w", configID, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("getting config %s: %w", configID, err)
		}

		config.Deployed = true
		found := false
		for _, id := range config.Recorders {
			if id == deviceID {
				found = true
				break
			}
		}
		if !found {
			config.Recorders = append(config.Recorders, deviceID)
		}
		if err := tx.Save(&config).Error; err != nil {
			return fmt.Errorf("saving config %s: %w", configID, err)
		}
		return nil
	})
}

// CreateAudioRecordIfAbsent inserts the audio record unless a row with the
// same id already exists. The insert-unless-exists is a single atomic write,
// which is the pipeline's whole defense against duplicate delivery - a
// read-then-write here would not be safe under concurrent events.
func (ds *DataStore) CreateAudioRecordIfAbsent(record *AudioRecord) (bool, error) {
	result := ds.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if result.Error != nil {
		return false, fmt.Errorf("creating audio record %s: %w", record.ID, result.Error)
	}
	created := result.RowsAffected > 0
	if created {
		ds.observers.notifyCreated(record)
	}
	return created, nil
}

// GetAudioRecord retrieves an audio record with its detections.
func (ds *DataStore) GetAudioRecord(id string) (*AudioRecord, error) {
	var record AudioRecord
	if err := ds.DB.Preload("Detections").First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting audio record %s: %w", id, err)
	}
	return &record, nil
}

// UpdateAudioRecord loads the record, applies mutate and saves the result.
// It returns the before and after snapshots and notifies registered observers
// with the same pair, in write order. The diff the dispatch graph computes is
// a pure function of this pair.
func (ds *DataStore) UpdateAudioRecord(id string, mutate func(*AudioRecord) error) (*AudioRecord, *AudioRecord, error) {
	var before, after AudioRecord
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var record AudioRecord
		if err := tx.Preload("Detections").First(&record, "id = ?", id).Error; err != nil {
			return fmt.Errorf("getting audio record %s: %w", id, err)
		}
		before = record.Copy()
		if err := mutate(&record); err != nil {
			return err
		}
		if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(&record).Error; err != nil {
			return fmt.Errorf("saving audio record %s: %w", id, err)
		}
		after = record
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	ds.observers.notifyUpdated(&before, &after)
	return &before, &after, nil
}

// AddObserver registers an observer for audio record writes.
func (ds *DataStore) AddObserver(observer AudioRecordObserver) {
	ds.observers.add(observer)
}

// GetAnalysesByTrigger retrieves all analysis definitions whose trigger equals the given key.
func (ds *DataStore) GetAnalysesByTrigger(trigger string) ([]AnalysisDefinition, error) {
	var analyses []AnalysisDefinition
	// Struct condition so the trigger column gets quoted, it is a reserved
	// word on both backends.
	if err := ds.DB.Where(&AnalysisDefinition{Trigger: trigger}).Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("getting analyses for trigger %s: %w", trigger, err)
	}
	return analyses, nil
}

// GetAllAnalyses retrieves every analysis definition.
func (ds *DataStore) GetAllAnalyses() ([]AnalysisDefinition, error) {
	var analyses []AnalysisDefinition
	if err := ds.DB.Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("getting analyses: %w", err)
	}
	return analyses, nil
}

// CreateTask inserts a new task row.
func (ds *DataStore) CreateTask(task *Task) error {
	if err := ds.DB.Create(task).Error; err != nil {
		return fmt.Errorf("creating task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (ds *DataStore) GetTask(id string) (*Task, error) {
	var task Task
	if err := ds.DB.First(&task, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return &task, nil
}

// UpdateTaskStatus advances a task through its lifecycle, rejecting invalid
// transitions. Entering PROCESSING stamps ProcessingStarted.
func (ds *DataStore) UpdateTaskStatus(id string, status TaskStatus) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var task Task
		if err := tx.First(&task, "id = ?", id).Error; err != nil {
			return fmt.Errorf("getting task %s: %w", id, err)
		}
		if !ValidTaskTransition(task.Status, status) {
			return fmt.Errorf("%w: task %s cannot move %s -> %s", ErrInvalidTransition, id, task.Status, status)
		}
		updates := map[string]any{"status": status}
		if status == TaskProcessing {
			updates["processing_started"] = time.Now()
		}
		if err := tx.Model(&task).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating task %s: %w", id, err)
		}
		return nil
	})
}

// ListTasksByStatus retrieves all tasks in the given status.
func (ds *DataStore) ListTasksByStatus(status TaskStatus) ([]Task, error) {
	var tasks []Task
	if err := ds.DB.Where("status = ?", status).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks with status %s: %w", status, err)
	}
	return tasks, nil
}

// CreateFitRequest inserts a new model fit request row.
func (ds *DataStore) CreateFitRequest(request *ModelFitRequest) error {
	if err := ds.DB.Create(request).Error; err != nil {
		return fmt.Errorf("creating fit request %s: %w", request.ID, err)
	}
	return nil
}

// GetFitRequest retrieves a model fit request by id.
func (ds *DataStore) GetFitRequest(id string) (*ModelFitRequest, error) {
	var request ModelFitRequest
	if err := ds.DB.First(&request, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting fit request %s: %w", id, err)
	}
	return &request, nil
}

// ListFitRequestsPending selects pending requests created before the given
// cutoff, i.e. those that have dwelled long enough to be enqueued.
func (ds *DataStore) ListFitRequestsPending(createdBefore time.Time) ([]ModelFitRequest, error) {
	var requests []ModelFitRequest
	err := ds.DB.Where("status = ? AND created_at < ?", FitPending, createdBefore).Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("listing pending fit requests: %w", err)
	}
	return requests, nil
}

// ListFitRequestsStuck selects processing requests whose worker went quiet
// before the given cutoff.
func (ds *DataStore) ListFitRequestsStuck(processingBefore time.Time) ([]ModelFitRequest, error) {
	var requests []ModelFitRequest
	err := ds.DB.Where("status = ? AND processing_at < ?", FitProcessing, processingBefore).Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("listing stuck fit requests: %w", err)
	}
	return requests, nil
}

// MarkFitRequestQueued moves a request to queued in a single write: stamps
// QueuedAt, clears the processing and completion stamps, and increments the
// attempt counter.
func (ds *DataStore) MarkFitRequestQueued(id string, now time.Time) error {
	err := ds.DB.Model(&ModelFitRequest{}).Where("id = ?", id).Updates(map[string]any{
		"status":        FitQueued,
		"queued_at":     now,
		"processing_at": nil,
		"completed_at":  nil,
		"attempts":      gorm.Expr("attempts + 1"),
	}).Error
	if err != nil {
		return fmt.Errorf("queueing fit request %s: %w", id, err)
	}
	return nil
}

// MarkFitRequestFailed terminates a request that exhausted its retry budget.
func (ds *DataStore) MarkFitRequestFailed(id string, now time.Time) error {
	err := ds.DB.Model(&ModelFitRequest{}).Where("id = ?", id).Updates(map[string]any{
		"status":    FitFailed,
		"failed_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failing fit request %s: %w", id, err)
	}
	return nil
}
