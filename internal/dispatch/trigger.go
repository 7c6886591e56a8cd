// Package dispatch implements the trigger dispatch graph: it reacts to audio
// record writes by creating analysis tasks, publishing bus notifications and
// requesting clips for new detections.
package dispatch

import "github.com/whipbird/chorus-go/internal/datastore"

// Intent is one analysis dispatch decided by the trigger graph: the definition
// to dispatch and the trigger key that fired it.
type Intent struct {
	Definition datastore.AnalysisDefinition
	Trigger    string
}

// TriggerIndex maps trigger keys to the analysis definitions listening on them.
type TriggerIndex map[string][]datastore.AnalysisDefinition

// BuildTriggerIndex groups analysis definitions by their trigger key.
func BuildTriggerIndex(definitions []datastore.AnalysisDefinition) TriggerIndex {
	index := make(TriggerIndex, len(definitions))
	for _, definition := range definitions {
		index[definition.Trigger] = append(index[definition.Trigger], definition)
	}
	return index
}

// NewlyCompleted returns the analysis ids present in after but not in before,
// in after's order. This is the only part of a record update that can fire
// triggers; re-saving a record with an unchanged analysis list dispatches
// nothing.
func NewlyCompleted(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, id := range before {
		seen[id] = struct{}{}
	}
	var completed []string
	for _, id := range after {
		if _, ok := seen[id]; !ok {
			completed = append(completed, id)
		}
	}
	return completed
}

// IntentsForCreate returns the dispatches a newly created audio record fires:
// every definition listening on the new-audio trigger.
func (index TriggerIndex) IntentsForCreate() []Intent {
	var intents []Intent
	for _, definition := range index[datastore.TriggerNewAudio] {
		intents = append(intents, Intent{Definition: definition, Trigger: datastore.TriggerNewAudio})
	}
	return intents
}

// IntentsForUpdate returns the dispatches an audio record update fires: for
// each analysis id newly appended to the completed list, every definition
// whose trigger is that id.
func (index TriggerIndex) IntentsForUpdate(before, after []string) []Intent {
	var intents []Intent
	for _, completed := range NewlyCompleted(before, after) {
		for _, definition := range index[completed] {
			intents = append(intents, Intent{Definition: definition, Trigger: completed})
		}
	}
	return intents
}
