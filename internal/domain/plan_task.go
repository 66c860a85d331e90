package domain

import (
	"errors"
	"strings"
	"time"
)

// PlanTaskStatus represents the lifecycle state of a plan task
type PlanTaskStatus string

// Possible plan task status values
const (
	PlanTaskStatusPending    PlanTaskStatus = "pending"
	PlanTaskStatusInProgress PlanTaskStatus = "in_progress"
	PlanTaskStatusCompleted  PlanTaskStatus = "completed"
	PlanTaskStatusCancelled  PlanTaskStatus = "cancelled"
)

// ScheduleType describes the recurrence of a plan task. Only ScheduleOnce
// drives reminder behavior; the rest are stored and returned as metadata.
type ScheduleType string

// Supported schedule types
const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleCron    ScheduleType = "cron"
)

// PreparationStatus is the state of a single checklist item
type PreparationStatus string

// Possible preparation status values
const (
	PreparationNotStarted PreparationStatus = "not_started"
	PreparationInProgress PreparationStatus = "in_progress"
	PreparationDone       PreparationStatus = "done"
)

// Defaults applied to newly created plan tasks.
const (
	DefaultReminderMinutes = 1440
	DefaultTaskType        = "other"
	DefaultReminderMessage = "[Plan task reminder] Task: {title}, planned at: {plan_time}, owner: {owner}. Please prepare: {preparations}"
)

// Validation errors for PlanTask and Preparation
var (
	ErrEmptyPlanTaskTitle      = errors.New("plan task title cannot be empty")
	ErrEmptyPlanTime           = errors.New("plan time cannot be empty")
	ErrNegativeReminderMinutes = errors.New("reminder minutes cannot be negative")
	ErrInvalidScheduleType     = errors.New("invalid schedule type")
	ErrInvalidPlanTaskStatus   = errors.New("invalid plan task status")
	ErrInvalidPrepStatus       = errors.New("invalid preparation status")
	ErrEmptyPrepDescription    = errors.New("preparation description cannot be empty")
)

// Preparation is a checklist item owned by exactly one PlanTask.
type Preparation struct {
	ID               int64             `json:"id"`
	TaskID           int64             `json:"task_id"`
	Description      string            `json:"description"`
	Status           PreparationStatus `json:"status"`
	EstimatedMinutes *int              `json:"estimated_minutes,omitempty"`
	OrderNo          int               `json:"order_no"`
}

// Done reports whether the item is finished.
func (p Preparation) Done() bool {
	return p.Status == PreparationDone
}

// Validate checks the preparation fields.
func (p Preparation) Validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return ErrEmptyPrepDescription
	}
	if !IsValidPreparationStatus(p.Status) {
		return ErrInvalidPrepStatus
	}
	return nil
}

// PlanTask is one scheduled operational activity together with its
// reminder configuration.
type PlanTask struct {
	ID            int64        `json:"id"`
	Title         string       `json:"title"`
	TaskType      string       `json:"task_type"`
	Description   string       `json:"description"`
	ScheduleType  ScheduleType `json:"schedule_type"`
	ScheduleValue string       `json:"schedule_value"`
	PlanTime      time.Time    `json:"plan_time"`

	ReminderMinutes int    `json:"reminder_minutes"`
	ReminderEnabled bool   `json:"reminder_enabled"`
	ReminderSent    bool   `json:"reminder_sent"`
	WebhookURL      string `json:"webhook_url"`
	ReminderMessage string `json:"reminder_message"`
	AlertRobot      string `json:"alert_robot"`

	Status       PlanTaskStatus `json:"status"`
	ResultStatus string         `json:"result_status"`
	ResultNotes  string         `json:"result_notes"`
	ActualStart  *time.Time     `json:"actual_start,omitempty"`
	ActualFinish *time.Time     `json:"actual_finish,omitempty"`

	Owner       string   `json:"owner"`
	Responsible []string `json:"responsible"`
	CreatedBy   string   `json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Preparations []Preparation `json:"preparations,omitempty"`
}

// NewPlanTask creates a pending plan task with reminder defaults applied.
// Preparations are renumbered by position.
func NewPlanTask(title string, planTime time.Time, preparations []Preparation) (*PlanTask, error) {
	now := time.Now().UTC()
	t := &PlanTask{
		Title:           title,
		TaskType:        DefaultTaskType,
		ScheduleType:    ScheduleOnce,
		PlanTime:        planTime,
		ReminderMinutes: DefaultReminderMinutes,
		ReminderEnabled: true,
		ReminderMessage: DefaultReminderMessage,
		Status:          PlanTaskStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	t.SetPreparations(preparations)

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that the PlanTask has valid data.
func (t *PlanTask) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyPlanTaskTitle
	}
	if t.PlanTime.IsZero() {
		return ErrEmptyPlanTime
	}
	if t.ReminderMinutes < 0 {
		return ErrNegativeReminderMinutes
	}
	if !IsValidScheduleType(t.ScheduleType) {
		return ErrInvalidScheduleType
	}
	if !IsValidPlanTaskStatus(t.Status) {
		return ErrInvalidPlanTaskStatus
	}
	for _, p := range t.Preparations {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SetPreparations replaces the checklist and assigns 1-based order numbers
// by position.
func (t *PlanTask) SetPreparations(items []Preparation) {
	t.Preparations = make([]Preparation, 0, len(items))
	for i, p := range items {
		p.TaskID = t.ID
		p.OrderNo = i + 1
		if p.Status == "" {
			p.Status = PreparationNotStarted
		}
		t.Preparations = append(t.Preparations, p)
	}
}

// Eligible reports whether the task may be considered for a reminder at all.
// Leaving the pending state disqualifies a task permanently.
func (t *PlanTask) Eligible() bool {
	return t.Status == PlanTaskStatusPending && t.ReminderEnabled && !t.ReminderSent
}

// ReminderAt is the instant the reminder window opens.
func (t *PlanTask) ReminderAt() time.Time {
	return t.PlanTime.Add(-time.Duration(t.ReminderMinutes) * time.Minute)
}

// ReminderDue reports whether now falls inside the inclusive window
// [PlanTime - ReminderMinutes, PlanTime + grace].
func (t *PlanTask) ReminderDue(now time.Time, grace time.Duration) bool {
	if now.Before(t.ReminderAt()) {
		return false
	}
	return !now.After(t.PlanTime.Add(grace))
}

// PreparationProgress returns the number of finished items and the total.
func (t *PlanTask) PreparationProgress() (done, total int) {
	for _, p := range t.Preparations {
		if p.Done() {
			done++
		}
	}
	return done, len(t.Preparations)
}

// IsValidPlanTaskStatus checks if the given status is one of the defined values
func IsValidPlanTaskStatus(s PlanTaskStatus) bool {
	switch s {
	case PlanTaskStatusPending, PlanTaskStatusInProgress, PlanTaskStatusCompleted, PlanTaskStatusCancelled:
		return true
	}
	return false
}

// IsValidScheduleType checks if the given schedule type is supported
func IsValidScheduleType(s ScheduleType) bool {
	switch s {
	case ScheduleOnce, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleCron:
		return true
	}
	return false
}

// IsValidPreparationStatus checks if the given preparation status is defined
func IsValidPreparationStatus(s PreparationStatus) bool {
	switch s {
	case PreparationNotStarted, PreparationInProgress, PreparationDone:
		return true
	}
	return false
}

// JoinNames persists a responsible list as a comma-joined string.
func JoinNames(names []string) string {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	return strings.Join(cleaned, ",")
}

// SplitNames is the inverse of JoinNames.
func SplitNames(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return []string{}
	}
	parts := strings.Split(joined, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}
