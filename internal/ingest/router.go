// router.go: routes validated dropbox uploads to their next-stage bucket and
// handles terminal quarantine arrivals.
package ingest

import (
	"context"
	"log/slog"

	"github.com/whipbird/chorus-go/internal/conf"
	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/errors"
	"github.com/whipbird/chorus-go/internal/logging"
	"github.com/whipbird/chorus-go/internal/objectstore"
	"github.com/whipbird/chorus-go/internal/observability/metrics"
)

// IntakeRouter moves validated uploads out of the create-only dropbox. The
// recorders' service accounts can only be restricted to a whole bucket, so
// everything they write lands in one dropbox and is validated and relocated
// here.
type IntakeRouter struct {
	store    datastore.Interface
	objects  objectstore.Interface
	settings *conf.Settings
	metrics  *metrics.IngestMetrics
	log      *slog.Logger
}

// NewIntakeRouter creates an intake router.
func NewIntakeRouter(store datastore.Interface, objects objectstore.Interface, settings *conf.Settings, m *metrics.IngestMetrics) *IntakeRouter {
	return &IntakeRouter{
		store:    store,
		objects:  objects,
		settings: settings,
		metrics:  m,
		log:      logging.ForService("ingest.router"),
	}
}

// HandleDropboxUpload processes one finalize event from the dropbox bucket.
//
// Malformed keys and unknown projects are logged and dropped, never retried:
// the condition is a property of the data, and the event has already been
// durably delivered once. Store and object store failures propagate so the
// event source redelivers.
func (r *IntakeRouter) HandleDropboxUpload(ctx context.Context, event *StorageEvent) error {
	upload, err := ParseUploadKey(event.Name, event.ContentType, r.settings.Audio)
	if err != nil {
		r.log.Warn("rejecting dropbox upload", "key", event.Name, "content_type", event.ContentType, "error", err)
		if r.metrics != nil {
			r.metrics.UploadsRejected.WithLabelValues("grammar").Inc()
		}
		return nil
	}

	project, err := r.store.GetProject(upload.ProjectID)
	if err != nil {
		return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
	}
	if project == nil {
		// Guards against misconfigured or malicious senders. The object is
		// left in place for now, unmatched uploads are useful to see.
		r.log.Warn("unknown project id, dropping upload", "project", upload.ProjectID, "key", event.Name)
		if r.metrics != nil {
			r.metrics.UploadsRejected.WithLabelValues("unknown-project").Inc()
		}
		return nil
	}

	if r.metrics != nil {
		r.metrics.UploadsAccepted.Inc()
	}

	src := objectstore.ObjectRef{Bucket: event.Bucket, Name: event.Name}

	// Projects with speech filtering get their audio held in the filter
	// bucket until the speech check clears it into the archive.
	destination := "archive"
	dstBucket := r.settings.Buckets.Archive
	if project.SpeechFiltering {
		destination = "filter"
		dstBucket = r.settings.Buckets.Filter
	}
	dst := objectstore.ObjectRef{Bucket: dstBucket, Name: upload.ArchiveKey()}

	// This is a move, not a copy. Re-delivery of this event after a
	// successful move is absorbed by the object store semantics: the
	// destination already exists and the source is gone.
	if err := r.objects.Move(ctx, src, dst); err != nil {
		return err
	}

	r.log.Info("upload routed", "project", upload.ProjectID, "recorder", upload.DeviceID,
		"destination", dst.URI())
	if r.metrics != nil {
		r.metrics.ObjectsMoved.WithLabelValues(destination).Inc()
	}
	return nil
}

// HandleQuarantined processes one finalize event from the quarantine bucket.
// The owning project decides whether quarantined audio is deleted outright or
// demoted to a colder storage tier. Terminal either way, nothing dispatches
// from here.
func (r *IntakeRouter) HandleQuarantined(ctx context.Context, event *StorageEvent) error {
	upload, err := ParseArchiveKey(event.Name, event.ContentType, r.settings.Audio)
	if err != nil {
		r.log.Warn("rejecting quarantined object", "key", event.Name, "error", err)
		if r.metrics != nil {
			r.metrics.UploadsRejected.WithLabelValues("grammar").Inc()
		}
		return nil
	}

	project, err := r.store.GetProject(upload.ProjectID)
	if err != nil {
		return errors.New(err).Component("ingest").Category(errors.CategoryDatabase).Build()
	}
	if project == nil {
		r.log.Warn("unknown project id for quarantined object", "project", upload.ProjectID, "key", event.Name)
		if r.metrics != nil {
			r.metrics.UploadsRejected.WithLabelValues("unknown-project").Inc()
		}
		return nil
	}

	ref := objectstore.ObjectRef{Bucket: event.Bucket, Name: event.Name}

	if project.DeleteAudioInQuarantine {
		r.log.Info("deleting quarantined audio", "key", event.Name, "project", upload.ProjectID)
		return r.objects.Delete(ctx, ref)
	}

	r.log.Info("demoting quarantined audio", "key", event.Name, "project", upload.ProjectID,
		"storage_class", objectstore.StorageClassNearline)
	return r.objects.Demote(ctx, ref, objectstore.StorageClassNearline)
}
