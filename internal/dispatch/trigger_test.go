package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whipbird/chorus-go/internal/datastore"
)

func TestNewlyCompleted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		before []string
		after  []string
		want   []string
	}{
		{
			name:  "first analysis on empty list",
			after: []string{"birdnet"},
			want:  []string{"birdnet"},
		},
		{
			name:   "one appended",
			before: []string{"birdnet"},
			after:  []string{"birdnet", "anomaly"},
			want:   []string{"anomaly"},
		},
		{
			name:   "unchanged list fires nothing",
			before: []string{"birdnet", "anomaly"},
			after:  []string{"birdnet", "anomaly"},
			want:   nil,
		},
		{
			name:   "reorder fires nothing",
			before: []string{"birdnet", "anomaly"},
			after:  []string{"anomaly", "birdnet"},
			want:   nil,
		},
		{
			name:   "removal fires nothing",
			before: []string{"birdnet", "anomaly"},
			after:  []string{"birdnet"},
			want:   nil,
		},
		{
			name:   "multiple appended keep order",
			before: []string{"birdnet"},
			after:  []string{"birdnet", "anomaly", "clippy"},
			want:   []string{"anomaly", "clippy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewlyCompleted(tt.before, tt.after))
		})
	}
}

func TestTriggerIndex(t *testing.T) {
	t.Parallel()

	index := BuildTriggerIndex([]datastore.AnalysisDefinition{
		{ID: "birdnet", Trigger: datastore.TriggerNewAudio, TaskTarget: "birdnet-worker"},
		{ID: "speech", Trigger: datastore.TriggerNewAudio, Topic: "analyses/speech"},
		{ID: "anomaly", Trigger: "birdnet", Topic: "analyses/anomaly"},
	})

	t.Run("create fires new audio listeners", func(t *testing.T) {
		t.Parallel()
		intents := index.IntentsForCreate()
		assert.Len(t, intents, 2)
		for _, intent := range intents {
			assert.Equal(t, datastore.TriggerNewAudio, intent.Trigger)
		}
	})

	t.Run("update fires listeners of newly completed analyses", func(t *testing.T) {
		t.Parallel()
		intents := index.IntentsForUpdate([]string{}, []string{"birdnet"})
		assert.Len(t, intents, 1)
		assert.Equal(t, "anomaly", intents[0].Definition.ID)
		assert.Equal(t, "birdnet", intents[0].Trigger)
	})

	t.Run("completed analysis with no listeners fires nothing", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, index.IntentsForUpdate(nil, []string{"anomaly"}))
	})
}
