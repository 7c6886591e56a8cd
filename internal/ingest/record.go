// record.go: builds the canonical audio record once an upload lands in the
// archive or filter bucket.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/errors"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/objectstore"
	"github.com/whipbird/chorus-go/internal/observability/metrics"
)

// audioRecordIDLength is the number of hex characters kept from the key hash.
const audioRecordIDLength = 20

// RecordBuilder turns archive-area finalize events into recorder upserts and
// canonical audio records. It is the point where an upload becomes visible to
// the dispatch graph.
type RecordBuilder struct {
	store    datastore.Interface
	objects  objectstore.Interface
	settings *conf.Settings
	metrics  *metrics.IngestMetrics
	log      *slog.Logger
}

// NewRecordBuilder creates a record builder.
func NewRecordBuilder(store datastore.Interface, objects objectstore.Interface, settings *conf.Settings, m *metrics.IngestMetrics) *RecordBuilder {
	return &RecordBuilder{
		store:    store,
		objects:  objects,
		settings: settings,
		metrics:  m,
		log:      logging.ForService("ingest.record"),
	}
}

// AudioRecordID derives the stable record id for a canonical storage key.
// Identity is a pure function of the key, so every re-delivery of the same
// upload event maps to the same row.
func AudioRecordID(archiveKey string) string {
	sum := sha1.Sum([]byte(archiveKey))
	return hex.EncodeToString(sum[:])[:audioRecordIDLength]
}

// HandleArchived processes one finalize event from the archive bucket.
//
// The write sequence is recorder upsert, config deployment marking, blob
// metadata tagging, then record creation behind the site/disabled gate. The
// recorder bookkeeping runs before the gate on purpose: an unsited or disabled
// device still shows up on the map with its latest upload.
func (b *RecordBuilder) HandleArchived(ctx context.Context, event *StorageEvent) error {
	upload, err := ParseArchiveKey(event.Name, event.ContentType, b.settings.Audio)
	if err != nil {
		b.log.Warn("rejecting archived object", "key", event.Name, "error", err)
		if b.metrics != nil {
			b.metrics.UploadsRejected.WithLabelValues("grammar").Inc()
		}
		return nil
	}

	recorder, err := b.store.GetRecorder(upload.DeviceID)
	if err != nil {
		return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
	}

	firstConfigSighting := false
	if recorder == nil {
		recorder = &datastore.Recorder{
			DeviceID:  upload.DeviceID,
			CreatedAt: time.Now(),
			ProjectID: upload.ProjectID,
			ConfigID:  upload.ConfigID,
		}
		firstConfigSighting = true
		if err := b.store.CreateRecorder(recorder); err != nil {
			if !errors.Is(err, datastore.ErrAlreadyExists) {
				return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
			}
			// Lost a create race with a concurrent event for the same device.
			// The merge update below still lands our last-upload summary.
			recorder, err = b.store.GetRecorder(upload.DeviceID)
			if err != nil || recorder == nil {
				return errors.Newf("recorder %s vanished after duplicate create", upload.DeviceID).
					Component("ingest").Category(errors.CategoryDatabase).Build()
			}
		} else {
			b.log.Info("registered new recorder", "recorder", upload.DeviceID, "project", upload.ProjectID)
		}
	} else if recorder.ConfigID != upload.ConfigID {
		firstConfigSighting = true
	}

	if firstConfigSighting {
		if err := b.store.MarkConfigDeployed(upload.ConfigID, upload.ProjectID, upload.DeviceID); err != nil {
			return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
		}
	}

	ref := objectstore.ObjectRef{Bucket: event.Bucket, Name: event.Name}

	// Tag the blob before the gate so gated audio is still attributable when
	// inspected directly in the bucket.
	metadata := map[string]string{
		"projectId":  upload.ProjectID,
		"recorderId": upload.DeviceID,
		"configId":   upload.ConfigID,
		"recordedAt": upload.Timestamp.Format(time.RFC3339),
	}
	if err := b.objects.SetMetadata(ctx, ref, metadata); err != nil {
		return err
	}

	lastUpload := datastore.LastUpload{
		UploadedAt: upload.Timestamp,
		URI:        ref.URI(),
	}

	switch {
	case recorder.Disabled:
		b.log.Info("recorder disabled, not creating record", "recorder", upload.DeviceID, "key", event.Name)
		if b.metrics != nil {
			b.metrics.RecordsGated.WithLabelValues("disabled").Inc()
		}
	case recorder.Site == "":
		b.log.Info("recorder has no site, not creating record", "recorder", upload.DeviceID, "key", event.Name)
		if b.metrics != nil {
			b.metrics.RecordsGated.WithLabelValues("no-site").Inc()
		}
	default:
		id := AudioRecordID(event.Name)
		record := &datastore.AudioRecord{
			ID:            id,
			CreatedAt:     time.Now(),
			UploadedAt:    upload.Timestamp,
			ProjectID:     upload.ProjectID,
			RecorderID:    upload.DeviceID,
			ConfigID:      upload.ConfigID,
			Site:          recorder.Site,
			Latitude:      recorder.Latitude,
			Longitude:     recorder.Longitude,
			URI:           ref.URI(),
			Metadata:      metadata,
			DownloadToken: uuid.NewString(),
		}

		created, err := b.store.CreateAudioRecordIfAbsent(record)
		if err != nil {
			return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
		}
		if created {
			b.log.Info("audio record created", "id", id, "recorder", upload.DeviceID, "uri", record.URI)
			if b.metrics != nil {
				b.metrics.RecordsCreated.Inc()
			}
		} else {
			b.log.Debug("audio record already exists, duplicate delivery", "id", id, "key", event.Name)
			if b.metrics != nil {
				b.metrics.RecordsDuplicate.Inc()
			}
		}
		lastUpload.RecordID = id
	}

	if err := b.store.UpdateRecorderUpload(upload.DeviceID, upload.ConfigID, lastUpload); err != nil {
		return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
	}
	return nil
}
