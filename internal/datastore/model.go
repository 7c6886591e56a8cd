// model.go this code defines the document record model for the ingest pipeline
package datastore

import "time"

// Project represents an owning project for recorders and audio.
type Project struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	Name      string
	UploadKey string
	// SpeechFiltering is true if audio must undergo a speech check before further processing
	SpeechFiltering bool
	// DeleteAudioInQuarantine is true if quarantined audio is deleted outright,
	// false if it is kept, inaccessible, on a colder storage tier
	DeleteAudioInQuarantine bool
}

// Recorder represents a field recorder device. Created on first upload from an
// unseen device id, never deleted by this service.
//
// NOTE - audio from a recorder is not processed unless a site is set.
type Recorder struct {
	DeviceID  string `gorm:"primaryKey"`
	CreatedAt time.Time
	Name      string
	ProjectID string `gorm:"index:idx_recorders_project"`

	// Site is the name of the site the recorder was at when recording.
	// Empty until an operator assigns one.
	Site      string
	Latitude  float64
	Longitude float64

	// ConfigID is the configuration the device reported on its last upload
	ConfigID string

	// Disabled is true if audio coming from this device should be ignored
	Disabled bool

	// Slim copy of the latest audio upload, used for the map view.
	// LastUploadID is only set once the recorder has a site and records are
	// being created for it.
	LastUploadID  string
	LastUploadAt  time.Time
	LastUploadURI string
}

// RecorderConfig represents a device configuration document.
type RecorderConfig struct {
	ConfigID  string `gorm:"primaryKey"`
	CreatedAt time.Time
	ProjectID string
	// Deployed is true once at least one sample from a device running this config has arrived
	Deployed bool
	// Recorders holds the ids of the devices this config has been seen on (set semantics)
	Recorders []string `gorm:"serializer:json"`
}

// AudioRecord is the canonical metadata record for one accepted audio upload.
// Its id is derived from the canonical storage path, so re-delivery of the
// same upload event always maps to the same row.
type AudioRecord struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	// UploadedAt is the capture time parsed from the uploaded filename
	UploadedAt time.Time `gorm:"index:idx_audio_uploaded"`
	ProjectID  string    `gorm:"index:idx_audio_project"`
	RecorderID string    `gorm:"index:idx_audio_recorder"`
	ConfigID   string
	// Site and location are snapshots of the recorder state at creation time
	Site      string
	Latitude  float64
	Longitude float64

	// URI is the canonical blob location, gs://bucket/audio/...
	URI string

	// AnalysesPerformed lists analysis ids that have completed for this record,
	// appended by external workers
	AnalysesPerformed []string `gorm:"serializer:json"`

	HasDetections bool
	Detections    []Detection `gorm:"foreignKey:AudioRecordID;constraint:OnDelete:CASCADE"`

	Metadata map[string]string `gorm:"serializer:json"`

	// DownloadToken secures download links for this record
	DownloadToken string
}

// Copy creates a deep copy of the AudioRecord struct, used for before/after
// snapshots around updates.
func (a AudioRecord) Copy() AudioRecord {
	c := a
	c.AnalysesPerformed = append([]string(nil), a.AnalysesPerformed...)
	c.Detections = make([]Detection, len(a.Detections))
	for i := range a.Detections {
		c.Detections[i] = a.Detections[i].Copy()
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Detection represents something found in an audio sample by an analysis.
type Detection struct {
	ID            string `gorm:"primaryKey"`
	AudioRecordID string `gorm:"index;not null"`
	// Start and End are offsets in seconds within the sample
	Start float64
	End   float64
	// Tags classify the detection, usually user supplied
	Tags       []string `gorm:"serializer:json"`
	AnalysisID string
	// ClipURI links to the clipped audio file once one has been generated
	ClipURI string
	Time    time.Time
}

// Copy creates a deep copy of the Detection struct.
func (d Detection) Copy() Detection {
	c := d
	c.Tags = append([]string(nil), d.Tags...)
	return c
}

// TriggerNewAudio is the fixed trigger key fired when a new audio record is created.
// Any other trigger value is the id of an analysis, meaning "run after that
// analysis completes".
const TriggerNewAudio = "new_audio"

// AnalysisDefinition describes one analysis in the trigger dispatch graph.
// Static reference data, not mutated by this service.
type AnalysisDefinition struct {
	ID              string `gorm:"primaryKey"`
	DisplayName     string
	ColourPrimary   string
	ColourSecondary string
	Icon            string
	// Hidden removes the analysis from the admin UI, useful for intermediate steps.
	// Irrelevant to dispatch.
	Hidden bool

	// Trigger is either TriggerNewAudio or the id of another analysis
	Trigger string `gorm:"index:idx_analyses_trigger"`

	// TaskTarget, when set, causes a Task record to be created on dispatch
	TaskTarget string
	// Topic, when set, causes the audio record id to be published to this bus topic
	Topic string
}

// TaskStatus is the lifecycle state of a dispatched analysis task.
type TaskStatus string

const (
	// TaskScheduled means newly created and waiting to be claimed
	TaskScheduled TaskStatus = "SCHEDULED"
	// TaskProcessing means a worker has claimed the task
	TaskProcessing TaskStatus = "PROCESSING"
	// TaskFailed means the worker didn't finish in time
	TaskFailed TaskStatus = "FAILED"
	// TaskComplete means the worker finished, the task can be deleted
	TaskComplete TaskStatus = "COMPLETE"
)

// ValidTaskTransition reports whether a task may move from one status to another.
// This service only ever writes SCHEDULED; everything after that is worker
// territory. There is no automatic timeout out of PROCESSING, a task whose
// worker dies stays put until an operator intervenes.
func ValidTaskTransition(from, to TaskStatus) bool {
	switch from {
	case TaskScheduled:
		return to == TaskProcessing
	case TaskProcessing:
		return to == TaskComplete || to == TaskFailed
	default:
		return false
	}
}

// Task is a per-dispatch work record, created by the trigger dispatch graph
// and advanced only by external workers.
type Task struct {
	ID            string `gorm:"primaryKey"`
	CreatedAt     time.Time
	AnalysisID    string `gorm:"index:idx_tasks_analysis"`
	RecorderID    string
	ProjectID     string `gorm:"index:idx_tasks_project"`
	AudioRecordID string
	AudioURI      string
	// Trigger is the trigger key that caused this dispatch
	Trigger           string
	Status            TaskStatus `gorm:"index:idx_tasks_status"`
	ProcessingStarted *time.Time
}

// FitStatus is the lifecycle state of a model-fit request.
type FitStatus string

const (
	FitPending    FitStatus = "pending"
	FitQueued     FitStatus = "queued"
	FitProcessing FitStatus = "processing"
	FitComplete   FitStatus = "complete"
	FitFailed     FitStatus = "failed"
)

// ModelFitRequest is a long-running model-fitting job record. Created
// externally when inference finds insufficient calibration data; mutated only
// by the scheduled job reconciler.
type ModelFitRequest struct {
	ID        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index:idx_fits_created"`

	QueuedAt     *time.Time
	ProcessingAt *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time

	Filename string
	URI      string

	ProjectID  string
	RecorderID string

	// The window of source data the model is fit on
	SourceDataStart time.Time
	SourceDataEnd   time.Time
	// The window the fitted model is valid for at inference time
	InferenceValidStart time.Time
	InferenceValidEnd   time.Time

	Attempts int
	Status   FitStatus `gorm:"index:idx_fits_status"`
}
