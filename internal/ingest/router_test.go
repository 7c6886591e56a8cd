package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whipbird/chorus-go/internal/datastore"
	"github.com/whipbird/chorus-go/internal/objectstore"
)

func TestHandleDropboxUpload(t *testing.T) {
	t.Parallel()

	const key = "proj-1/dev-42/conf-7/2024-06-01T04_30_00.000Z.mp3"

	t.Run("routes to archive", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.projects["proj-1"] = &datastore.Project{ID: "proj-1"}
		objects := newFakeObjects()
		router := NewIntakeRouter(store, objects, testSettings(), nil)

		err := router.HandleDropboxUpload(context.Background(), &StorageEvent{
			Bucket: "test-dropbox", Name: key, ContentType: "audio/mpeg",
		})
		require.NoError(t, err)

		require.Len(t, objects.moves, 1)
		assert.Equal(t, objectstore.ObjectRef{Bucket: "test-dropbox", Name: key}, objects.moves[0].src)
		assert.Equal(t, objectstore.ObjectRef{
			Bucket: "test-archive",
			Name:   "audio/proj-1/dev-42/conf-7/2024-06-01T04_30_00.000Z.mp3",
		}, objects.moves[0].dst)
	})

	t.Run("speech filtering routes to filter bucket", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.projects["proj-1"] = &datastore.Project{ID: "proj-1", SpeechFiltering: true}
		objects := newFakeObjects()
		router := NewIntakeRouter(store, objects, testSettings(), nil)

		err := router.HandleDropboxUpload(context.Background(), &StorageEvent{
			Bucket: "test-dropbox", Name: key, ContentType: "audio/mpeg",
		})
		require.NoError(t, err)

		require.Len(t, objects.moves, 1)
		assert.Equal(t, "test-filter", objects.moves[0].dst.Bucket)
	})

	t.Run("malformed key dropped without side effects", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		objects := newFakeObjects()
		router := NewIntakeRouter(store, objects, testSettings(), nil)

		err := router.HandleDropboxUpload(context.Background(), &StorageEvent{
			Bucket: "test-dropbox", Name: "junk.mp3", ContentType: "audio/mpeg",
		})
		require.NoError(t, err)
		assert.Empty(t, objects.moves)
	})

	t.Run("unknown project dropped without side effects", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		objects := newFakeObjects()
		router := NewIntakeRouter(store, objects, testSettings(), nil)

		err := router.HandleDropboxUpload(context.Background(), &StorageEvent{
			Bucket: "test-dropbox", Name: key, ContentType: "audio/mpeg",
		})
		require.NoError(t, err)
		assert.Empty(t, objects.moves)
	})
}

func TestHandleQuarantined(t *testing.T) {
	t.Parallel()

	const key = "audio/proj-1/dev-42/conf-7/2024-06-01T04_30_00.000Z.mp3"

	t.Run("delete policy deletes", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.projects["proj-1"] = &datastore.Project{ID: "proj-1", DeleteAudioInQuarantine: true}
		objects := newFakeObjects()
		router := NewIntakeRouter(store, objects, testSettings(), nil)

		err := router.HandleQuarantined(context.Background(), &StorageEvent{
			Bucket: "test-quarantine", Name: key, ContentType: "audio/mpeg",
		})
		require.NoError(t, err)

		require.Len(t, objects.deleted, 1)
		assert.Equal(t, key, objects.deleted[0].Name)
		assert.Empty(t, objects.demoted)
	})

	t.Run("keep policy demotes to nearline", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.projects["proj-1"] = &datastore.Project{ID: "proj-1"}
		objects := newFakeObjects()
		router := NewIntakeRouter(store, objects, testSettings(), nil)

		err := router.HandleQuarantined(context.Background(), &StorageEvent{
			Bucket: "test-quarantine", Name: key, ContentType: "audio/mpeg",
		})
		require.NoError(t, err)

		require.Len(t, objects.demoted, 1)
		assert.Equal(t, objectstore.StorageClassNearline, objects.demoted[0].storageClass)
		assert.Empty(t, objects.deleted)
	})
}
