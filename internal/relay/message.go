package relay

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DispatchMessage is the wire record published on the dispatch queue: the
// buffered notification plus a message ID for log correlation across
// redeliveries. It carries everything a delivery worker needs, so workers
// never consult the credential store.
type DispatchMessage struct {
	ID string `json:"id"`
	Notification
}

func NewDispatchMessage(n Notification) DispatchMessage {
	return DispatchMessage{ID: uuid.NewString(), Notification: n}
}

func (m DispatchMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeDispatchMessage(b []byte) (DispatchMessage, error) {
	var m DispatchMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return DispatchMessage{}, fmt.Errorf("decode dispatch message: %w", err)
	}
	return m, nil
}
