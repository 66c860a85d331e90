package store

import (
	"context"
	"time"

	"github.com/opstrack/opstrack/internal/domain"
)

// PlanTaskFilter narrows ListPlanTasks. Zero values mean "any".
type PlanTaskFilter struct {
	Status   domain.PlanTaskStatus
	TaskType string
	// Owner matches the primary owner or any responsible name.
	Owner   string
	Keyword string
}

// StatusChange describes a lifecycle transition written by
// UpdatePlanTaskStatus. Nil pointers leave the column untouched.
type StatusChange struct {
	Status       domain.PlanTaskStatus
	ResultStatus *string
	ResultNotes  *string
	ActualStart  *time.Time
	ActualFinish *time.Time
}

// ReminderStore is the narrow contract the reminder scheduler depends on.
type ReminderStore interface {
	// ListDueCandidates returns tasks that are pending, have reminders
	// enabled and not yet sent, each with its preparations in order.
	ListDueCandidates(ctx context.Context) ([]domain.PlanTask, error)

	// MarkReminderSent latches reminder_sent for the task. It is a
	// conditional update: the result is false when the flag was already set
	// (or the task no longer exists), true when this call flipped it.
	MarkReminderSent(ctx context.Context, taskID int64) (bool, error)
}

// AuditFilter narrows ListAudits. Zero values mean "any".
type AuditFilter struct {
	TaskID int64
	Since  time.Time
	Limit  int
}

// AuditStore persists notification audit rows.
type AuditStore interface {
	// RecordAudit appends one audit row. Rows are never updated.
	RecordAudit(ctx context.Context, audit *domain.NotificationAudit) error

	// ListAudits returns audit rows, newest first.
	ListAudits(ctx context.Context, filter AuditFilter) ([]domain.NotificationAudit, error)
}

// PlanTaskStore is the CRUD contract used by the edit path.
type PlanTaskStore interface {
	ReminderStore

	// CreatePlanTask inserts the task and its preparations, setting the
	// generated IDs on the passed values.
	CreatePlanTask(ctx context.Context, task *domain.PlanTask) error

	// GetPlanTask returns the task with its preparations.
	// Returns ErrPlanTaskNotFound if it does not exist.
	GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error)

	// ListPlanTasks returns tasks ordered by plan time, without preparations.
	ListPlanTasks(ctx context.Context, filter PlanTaskFilter) ([]domain.PlanTask, error)

	// UpdatePlanTask saves every editable column and replaces the
	// preparations. It never writes reminder_sent.
	UpdatePlanTask(ctx context.Context, task *domain.PlanTask) error

	// UpdatePlanTaskStatus applies a lifecycle transition.
	UpdatePlanTaskStatus(ctx context.Context, id int64, change StatusChange) error

	// DeletePlanTask removes the task; preparations cascade.
	DeletePlanTask(ctx context.Context, id int64) error

	// ResetReminderOnReschedule clears reminder_sent. The edit path calls it
	// whenever plan_time or reminder_minutes changes.
	ResetReminderOnReschedule(ctx context.Context, id int64) error

	// RunInTx executes fn with a store bound to a single transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx PlanTaskStore) error) error
}
