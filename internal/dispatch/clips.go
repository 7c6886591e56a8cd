// clips.go: clip requests for detections that do not have a clipped audio file yet.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/whipbird/chorus-go/internal/datastore"
)

// ClipRequest asks the clip worker to cut one detection's window out of an
// audio file.
type ClipRequest struct {
	AudioID     string `json:"audioId"`
	DetectionID string `json:"detectionId"`
}

// NewDetectionsNeedingClips returns the detections present in after but not in
// before that have no clip yet. Detections that arrive with a ClipURI already
// set, and clip-completion updates on existing detections, request nothing.
func NewDetectionsNeedingClips(before, after []datastore.Detection) []datastore.Detection {
	seen := make(map[string]struct{}, len(before))
	for _, detection := range before {
		seen[detection.ID] = struct{}{}
	}
	var needing []datastore.Detection
	for _, detection := range after {
		if _, ok := seen[detection.ID]; ok {
			continue
		}
		if detection.ClipURI != "" {
			continue
		}
		needing = append(needing, detection)
	}
	return needing
}

// requestClips publishes a clip request for every new clipless detection in
// the update.
func (d *Dispatcher) requestClips(before, after *datastore.AudioRecord) {
	for _, detection := range NewDetectionsNeedingClips(before.Detections, after.Detections) {
		payload, err := json.Marshal(ClipRequest{AudioID: after.ID, DetectionID: detection.ID})
		if err != nil {
			d.log.Error("failed to encode clip request", "record", after.ID, "detection", detection.ID, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.settings.MQTT.PublishTimeout)
		err = d.bus.Publish(ctx, d.settings.MQTT.Topics.Clips, payload)
		cancel()
		if err != nil {
			d.log.Error("failed to publish clip request", "record", after.ID, "detection", detection.ID, "error", err)
			continue
		}
		d.log.Info("clip requested", "record", after.ID, "detection", detection.ID)
		if d.metrics != nil {
			d.metrics.ClipsRequested.Inc()
		}
	}
}
