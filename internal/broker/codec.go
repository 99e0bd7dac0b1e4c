package broker

import (
	"encoding/json"
	"fmt"

	"github.com/tableup/scheduler/internal/models"
)

func marshalEvent(ev models.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent decodes a delivery body into an Event whose Data field
// is still a json.RawMessage — consumers unmarshal Data into the
// concrete payload type once they know Type (internal/announcer does
// this via the event-to-handler table).
func UnmarshalEvent(body []byte) (models.Event, json.RawMessage, error) {
	var envelope struct {
		Type        string          `json:"type"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  interface{}     `json:"occurred_at"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return models.Event{}, nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return models.Event{Type: envelope.Type}, envelope.Data, nil
}
