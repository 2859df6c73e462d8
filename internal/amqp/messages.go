package amqp

import (
	"encoding/json"
	"time"
)

// BatchLoadedMessage announces one completed file load. It carries the
// load counters only; consumers fetch the records from the database.
type BatchLoadedMessage struct {
	Filename   string    `json:"filename"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Errors     int       `json:"errors"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// NewBatchLoadedMessage creates a message stamped with the current time.
func NewBatchLoadedMessage(filename string, inserted, duplicates, errs int) *BatchLoadedMessage {
	return &BatchLoadedMessage{
		Filename:   filename,
		Inserted:   inserted,
		Duplicates: duplicates,
		Errors:     errs,
		LoadedAt:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BatchLoadedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BatchLoadedMessageFromJSON creates a message from JSON bytes
func BatchLoadedMessageFromJSON(data []byte) (*BatchLoadedMessage, error) {
	var msg BatchLoadedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
