package types

import "time"

// JobStatus is the lifecycle state of a detection job
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ResultImage is one image the detector wrote for a job
type ResultImage struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// JobRecord is the persisted history entry of a detection job
type JobRecord struct {
	ID         string        `json:"id"`
	Filename   string        `json:"filename"`
	Status     JobStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
	Images     []ResultImage `json:"images"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// EventType names a lifecycle event pushed to /api/events subscribers
type EventType string

const (
	EventJobStarted    EventType = "job_started"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventWebcamStarted EventType = "webcam_started"
	EventWebcamStopped EventType = "webcam_stopped"
)

// Event is the JSON payload of /api/events
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Images    []string  `json:"images,omitempty"`
	Error     string    `json:"error,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Timestamp float64   `json:"timestamp"`
}

// NewEvent stamps an event with the current time
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: float64(time.Now().UnixMilli()) / 1000}
}
