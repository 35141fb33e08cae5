package models

import (
	"io"
	"math"
	"time"
)

// JobStatus is the lifecycle stage of a download job.
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobDownloading JobStatus = "downloading"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobDownloading, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Rank orders statuses by how far along they are. Both terminal states share
// the highest rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobPending:
		return 0
	case JobDownloading:
		return 1
	case JobCompleted, JobFailed:
		return 2
	}
	return -1
}

// DownloadJob mirrors a server-side download record. Progress is a fraction
// in [0, 1].
type DownloadJob struct {
	ID          int64
	SourceURL   string
	Title       string
	Status      JobStatus
	Progress    float64
	CreatedAt   time.Time
	CompletedAt *time.Time
	FilePath    string
	Error       string
}

// Normalize enforces the record invariants: progress is clamped, a
// completed job reports full progress and a completion time, and only a
// completed job carries one.
func (j DownloadJob) Normalize(now time.Time) DownloadJob {
	j.Progress = ClampProgress(j.Progress)
	switch j.Status {
	case JobCompleted:
		j.Progress = 1
		if j.CompletedAt == nil {
			t := now
			j.CompletedAt = &t
		}
	default:
		j.CompletedAt = nil
	}
	return j
}

func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Artifact is the body of a completed job's file as served by the API.
// The caller must close Body.
type Artifact struct {
	Body               io.ReadCloser
	ContentDisposition string
	ContentType        string
}
