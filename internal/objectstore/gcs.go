// gcs.go: Google Cloud Storage implementation of the object store interface.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/whipbird/chorus-go/internal/errors"
	"github.com/whipbird/chorus-go/internal/logging"
	"google.golang.org/api/googleapi"
)

type gcsStore struct {
	client *storage.Client
	log    *slog.Logger
}

// NewGCS creates an object store backed by Google Cloud Storage, using
// application default credentials.
func NewGCS(ctx context.Context) (Interface, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to create storage client: %w", err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Build()
	}
	return &gcsStore{
		client: client,
		log:    logging.ForService("objectstore"),
	}, nil
}

// Move copies src to dst with a does-not-exist precondition and deletes the
// source. The precondition keeps a concurrent duplicate move from clobbering
// the destination; a missing source with the destination present means an
// earlier delivery already completed the move.
func (s *gcsStore) Move(ctx context.Context, src, dst ObjectRef) error {
	srcObj := s.client.Bucket(src.Bucket).Object(src.Name)
	dstObj := s.client.Bucket(dst.Bucket).Object(dst.Name).If(storage.Conditions{DoesNotExist: true})

	_, err := dstObj.CopierFrom(srcObj).Run(ctx)
	switch {
	case err == nil:
		// fall through to source delete
	case isPreconditionFailed(err):
		// Destination already exists: a previous delivery got here first.
		// Clean up the source if it still exists and treat this as done.
		s.log.Info("move destination already exists, treating as re-delivery",
			"src", src.URI(), "dst", dst.URI())
	case errors.Is(err, storage.ErrObjectNotExist):
		// Source gone: the first delivery moved it already.
		s.log.Info("move source already gone, treating as re-delivery",
			"src", src.URI(), "dst", dst.URI())
		return nil
	default:
		return errors.New(fmt.Errorf("copying %s to %s: %w", src.URI(), dst.URI(), err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Build()
	}

	if err := srcObj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.New(fmt.Errorf("deleting moved source %s: %w", src.URI(), err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Build()
	}
	return nil
}

// SetMetadata replaces the object's custom metadata.
func (s *gcsStore) SetMetadata(ctx context.Context, ref ObjectRef, metadata map[string]string) error {
	obj := s.client.Bucket(ref.Bucket).Object(ref.Name)
	_, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: metadata})
	if err != nil {
		return errors.New(fmt.Errorf("updating metadata on %s: %w", ref.URI(), err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Build()
	}
	return nil
}

// Delete removes the object. A missing object is treated as already deleted.
func (s *gcsStore) Delete(ctx context.Context, ref ObjectRef) error {
	err := s.client.Bucket(ref.Bucket).Object(ref.Name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.New(fmt.Errorf("deleting %s: %w", ref.URI(), err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Build()
	}
	return nil
}

// Demote rewrites the object in place onto the given storage class.
func (s *gcsStore) Demote(ctx context.Context, ref ObjectRef, storageClass string) error {
	obj := s.client.Bucket(ref.Bucket).Object(ref.Name)
	copier := obj.CopierFrom(obj)
	copier.StorageClass = storageClass
	if _, err := copier.Run(ctx); err != nil {
		return errors.New(fmt.Errorf("demoting %s to %s: %w", ref.URI(), storageClass, err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Build()
	}
	return nil
}

// Close releases the storage client.
func (s *gcsStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}
