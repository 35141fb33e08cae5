package models

import (
	"encoding/json"
	"fmt"
)

// EventType names a push channel event.
type EventType string

const (
	EventConnect      EventType = "connect"
	EventDisconnect   EventType = "disconnect"
	EventConnectError EventType = "connect_error"

	EventProgress EventType = "download_progress"
	EventComplete EventType = "download_complete"
	EventError    EventType = "download_error"
	EventStatus   EventType = "status"
)

// Event is one frame received on the push channel.
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ProgressPayload struct {
	DownloadID int64     `json:"download_id"`
	Progress   float64   `json:"progress"`
	Status     JobStatus `json:"status"`
}

type CompletePayload struct {
	DownloadID int64  `json:"download_id"`
	FilePath   string `json:"file_path"`
}

type ErrorPayload struct {
	DownloadID int64  `json:"download_id"`
	Error      string `json:"error"`
}

type StatusPayload struct {
	Msg string `json:"msg"`
}

func (e Event) decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Progress decodes a download_progress payload. A missing status means the
// job is downloading.
func (e Event) Progress() (ProgressPayload, error) {
	var p ProgressPayload
	if err := e.decode(&p); err != nil {
		return ProgressPayload{}, err
	}
	if p.Status == "" {
		p.Status = JobDownloading
	}
	return p, nil
}

func (e Event) Completion() (CompletePayload, error) {
	var p CompletePayload
	err := e.decode(&p)
	return p, err
}

func (e Event) Failure() (ErrorPayload, error) {
	var p ErrorPayload
	err := e.decode(&p)
	return p, err
}

func (e Event) Status() (StatusPayload, error) {
	var p StatusPayload
	err := e.decode(&p)
	return p, err
}
