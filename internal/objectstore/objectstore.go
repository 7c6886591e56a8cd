// Package objectstore provides an abstraction over the durable blob store
// audio files live in, with the move/relocate and metadata-tagging operations
// the ingest pipeline needs.
package objectstore

import (
	"context"
	"fmt"
)

// ObjectRef identifies one blob in the store.
type ObjectRef struct {
	Bucket string
	Name   string
}

// URI renders the reference in gs:// form, the canonical blob URI stored on
// audio records.
func (r ObjectRef) URI() string {
	return fmt.Sprintf("gs://%s/%s", r.Bucket, r.Name)
}

// StorageClassNearline is the colder tier quarantined audio is demoted to
// when a project keeps it instead of deleting it.
const StorageClassNearline = "NEARLINE"

// Interface defines the object store operations used by the ingest pipeline.
type Interface interface {
	// Move relocates src to dst. The object no longer exists at src afterwards.
	// A re-delivered move whose source is already gone and whose destination
	// already exists is a no-op, not an error; this is what makes at-least-once
	// redelivery of a finalize event safe after a successful first move.
	Move(ctx context.Context, src, dst ObjectRef) error

	// SetMetadata tags the object with descriptive metadata for downstream
	// authorization use.
	SetMetadata(ctx context.Context, ref ObjectRef, metadata map[string]string) error

	// Delete removes the object.
	Delete(ctx context.Context, ref ObjectRef) error

	// Demote rewrites the object onto the given storage class.
	Demote(ctx context.Context, ref ObjectRef, storageClass string) error

	// Close releases the underlying client.
	Close() error
}
