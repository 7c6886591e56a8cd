// watch.go: change notification for audio record writes
package datastore

import "sync"

// AudioRecordObserver receives audio record change notifications. Created and
// updated events are delivered synchronously in write order; the (before,
// after) pair is the atomic snapshot the trigger dispatch graph diffs over.
type AudioRecordObserver interface {
	AudioRecordCreated(record *AudioRecord)
	AudioRecordUpdated(before, after *AudioRecord)
}

type observerList struct {
	mu        sync.RWMutex
	observers []AudioRecordObserver
}

func (ol *observerList) add(observer AudioRecordObserver) {
	ol.mu.Lock()
	defer ol.mu.Unlock()
	ol.observers = append(ol.observers, observer)
}

func (ol *observerList) notifyCreated(record *AudioRecord) {
	ol.mu.RLock()
	defer ol.mu.RUnlock()
	for _, observer := range ol.observers {
		observer.AudioRecordCreated(record)
	}
}

func (ol *observerList) notifyUpdated(before, after *AudioRecord) {
	ol.mu.RLock()
	defer ol.mu.RUnlock()
	for _, observer := range ol.observers {
		observer.AudioRecordUpdated(before, after)
	}
}
