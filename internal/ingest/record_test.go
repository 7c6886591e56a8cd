package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whipbird/chorus-go/internal/datastore"
)

const archivedKey = "audio/proj-1/dev-42/conf-7/2024-06-01T04_30_00.000Z.mp3"

func archivedEvent() *StorageEvent {
	return &StorageEvent{Bucket: "test-archive", Name: archivedKey, ContentType: "audio/mpeg"}
}

func TestAudioRecordID(t *testing.T) {
	t.Parallel()

	id := AudioRecordID(archivedKey)
	assert.Len(t, id, 20)

	// Identity is a pure function of the key.
	assert.Equal(t, id, AudioRecordID(archivedKey))
	assert.NotEqual(t, id, AudioRecordID("audio/proj-1/dev-42/conf-7/2024-06-01T05_30_00.000Z.mp3"))
}

func TestHandleArchived(t *testing.T) {
	t.Parallel()

	t.Run("creates record for sited recorder", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.recorders["dev-42"] = &datastore.Recorder{
			DeviceID: "dev-42", ProjectID: "proj-1", ConfigID: "conf-7",
			Site: "north-ridge", Latitude: 51.5, Longitude: -0.1,
		}
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))

		id := AudioRecordID(archivedKey)
		record := store.records[id]
		require.NotNil(t, record)
		assert.Equal(t, "proj-1", record.ProjectID)
		assert.Equal(t, "dev-42", record.RecorderID)
		assert.Equal(t, "conf-7", record.ConfigID)
		assert.Equal(t, "north-ridge", record.Site)
		assert.InDelta(t, 51.5, record.Latitude, 0.0001)
		assert.Equal(t, "gs://test-archive/"+archivedKey, record.URI)
		assert.Equal(t, time.Date(2024, 6, 1, 4, 30, 0, 0, time.UTC), record.UploadedAt.UTC())
		assert.NotEmpty(t, record.DownloadToken)

		// Last upload summary carries the record id.
		assert.Equal(t, id, store.uploads["dev-42"].RecordID)
	})

	t.Run("duplicate delivery is a no-op on the record", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.recorders["dev-42"] = &datastore.Recorder{
			DeviceID: "dev-42", ProjectID: "proj-1", ConfigID: "conf-7", Site: "north-ridge",
		}
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))
		firstToken := store.records[AudioRecordID(archivedKey)].DownloadToken

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))

		assert.Len(t, store.records, 1)
		assert.Equal(t, firstToken, store.records[AudioRecordID(archivedKey)].DownloadToken)
	})

	t.Run("registers unseen recorder and marks config deployed", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))

		recorder := store.recorders["dev-42"]
		require.NotNil(t, recorder)
		assert.Equal(t, "proj-1", recorder.ProjectID)
		assert.Equal(t, "conf-7", recorder.ConfigID)
		assert.Contains(t, store.deployedConfigs, "conf-7")

		// A brand new recorder has no site yet, so no record.
		assert.Empty(t, store.records)
	})

	t.Run("unsited recorder gated but upload summary kept", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.recorders["dev-42"] = &datastore.Recorder{
			DeviceID: "dev-42", ProjectID: "proj-1", ConfigID: "conf-7",
		}
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))

		assert.Empty(t, store.records)
		upload := store.uploads["dev-42"]
		assert.Empty(t, upload.RecordID)
		assert.Equal(t, "gs://test-archive/"+archivedKey, upload.URI)
	})

	t.Run("disabled recorder gated", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.recorders["dev-42"] = &datastore.Recorder{
			DeviceID: "dev-42", ProjectID: "proj-1", ConfigID: "conf-7",
			Site: "north-ridge", Disabled: true,
		}
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))
		assert.Empty(t, store.records)
	})

	t.Run("config change marks new config deployed", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.recorders["dev-42"] = &datastore.Recorder{
			DeviceID: "dev-42", ProjectID: "proj-1", ConfigID: "conf-6", Site: "north-ridge",
		}
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))
		assert.Equal(t, []string{"conf-7"}, store.deployedConfigs)
	})

	t.Run("blob tagged before gate", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.recorders["dev-42"] = &datastore.Recorder{
			DeviceID: "dev-42", ProjectID: "proj-1", ConfigID: "conf-7", Disabled: true,
		}
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		require.NoError(t, builder.HandleArchived(context.Background(), archivedEvent()))

		metadata := objects.metadata["gs://test-archive/"+archivedKey]
		require.NotNil(t, metadata)
		assert.Equal(t, "proj-1", metadata["projectId"])
		assert.Equal(t, "dev-42", metadata["recorderId"])
		assert.Equal(t, "conf-7", metadata["configId"])
		assert.Equal(t, "2024-06-01T04:30:00Z", metadata["recordedAt"])
	})

	t.Run("malformed key dropped", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		objects := newFakeObjects()
		builder := NewRecordBuilder(store, objects, testSettings(), nil)

		err := builder.HandleArchived(context.Background(), &StorageEvent{
			Bucket: "test-archive", Name: "audio/short.mp3", ContentType: "audio/mpeg",
		})
		require.NoError(t, err)
		assert.Empty(t, store.records)
		assert.Empty(t, store.recorders)
	})
}
