package model

import (
	"encoding/json"
	"time"
)

type QueueItemStatus string

const (
	QueueItemStatusPending   QueueItemStatus = "pending"
	QueueItemStatusRunning   QueueItemStatus = "running"
	QueueItemStatusCompleted QueueItemStatus = "completed"
	QueueItemStatusError     QueueItemStatus = "error"
)

// FillLogs carries the known diagnostic artifacts a form-fill worker may
// attach on completion. Fields are optional; absent ones are omitted from
// the stored JSON.
type FillLogs struct {
	FieldsYAML  string `json:"fieldsYaml,omitempty"`
	FillLogYAML string `json:"fillLogYaml,omitempty"`
	Screenshot  string `json:"screenshot,omitempty"`
}

// QueueItem is one unit of per-user form-fill work. Items move
// pending -> running -> completed|error; running items whose StartedAt is
// older than the staleness window are reset to pending, and error items
// re-enter the FIFO via Retry.
type QueueItem struct {
	ID     string
	UserID string
	JobID  string
	JobURL string

	Status      QueueItemStatus
	QueuedAt    time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// FilledData is producer-defined and stored opaquely.
	FilledData json.RawMessage
	Logs       *FillLogs
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewQueueItem(id, userID, jobID, jobURL string, now time.Time) *QueueItem {
	return &QueueItem{
		ID:        id,
		UserID:    userID,
		JobID:     jobID,
		JobURL:    jobURL,
		Status:    QueueItemStatusPending,
		QueuedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether no lease may be granted on the item anymore.
// Completed is strictly terminal; error is terminal until an explicit retry.
func (q *QueueItem) Terminal() bool {
	return q.Status == QueueItemStatusCompleted || q.Status == QueueItemStatusError
}

// StaleRunning reports whether the item looks abandoned: running, with a
// processing window that started before `now - maxAge`.
func (q *QueueItem) StaleRunning(now time.Time, maxAge time.Duration) bool {
	if q.Status != QueueItemStatusRunning || q.StartedAt.IsZero() {
		return false
	}
	return q.StartedAt.Before(now.Add(-maxAge))
}
