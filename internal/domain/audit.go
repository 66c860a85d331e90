package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditStatus is the outcome of one dispatch attempt
type AuditStatus string

// Possible audit status values
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

// NotificationAudit records the outcome of one reminder dispatch attempt.
// Rows are append-only.
type NotificationAudit struct {
	ID        uuid.UUID   `json:"id"`
	TaskID    int64       `json:"task_id"`
	TaskTitle string      `json:"task_title"`
	SentAt    time.Time   `json:"sent_at"`
	Status    AuditStatus `json:"status"`
	ErrorMsg  string      `json:"error_msg,omitempty"`
}

// NewNotificationAudit builds an audit row for the given task.
// A successful attempt never carries an error message.
func NewNotificationAudit(task *PlanTask, sentAt time.Time, delivered bool, errorMsg string) *NotificationAudit {
	a := &NotificationAudit{
		ID:        uuid.New(),
		TaskID:    task.ID,
		TaskTitle: task.Title,
		SentAt:    sentAt.UTC(),
		Status:    AuditStatusFailed,
		ErrorMsg:  errorMsg,
	}
	if delivered {
		a.Status = AuditStatusSuccess
		a.ErrorMsg = ""
	}
	return a
}
