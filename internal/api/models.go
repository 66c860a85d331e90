package api

import (
	"time"

	"github.com/opstrack/opstrack/internal/config"
	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/redact"
)

// PreparationRequest is one checklist item in a create or update payload.
type PreparationRequest struct {
	Description      string `json:"description"       validate:"required"`
	Status           string `json:"status"            validate:"omitempty,oneof=not_started in_progress done"`
	EstimatedMinutes *int   `json:"estimated_minutes" validate:"omitempty,gte=0"`
}

// CreatePlanTaskRequest defines the payload for POST /api/plan-tasks.
type CreatePlanTaskRequest struct {
	Title           string               `json:"title"            validate:"required"`
	TaskType        string               `json:"task_type"`
	Description     string               `json:"description"`
	ScheduleType    string               `json:"schedule_type"    validate:"omitempty,oneof=once daily weekly monthly cron"`
	ScheduleValue   string               `json:"schedule_value"`
	PlanTime        string               `json:"plan_time"        validate:"required"`
	ReminderMinutes *int                 `json:"reminder_minutes" validate:"omitempty,gte=0"`
	ReminderEnabled *bool                `json:"reminder_enabled"`
	WebhookURL      string               `json:"webhook_url"      validate:"omitempty,url"`
	ReminderMessage string               `json:"reminder_message"`
	AlertRobot      string               `json:"alert_robot"`
	Owner           string               `json:"owner"`
	Responsible     []string             `json:"responsible"`
	CreatedBy       string               `json:"created_by"`
	Preparations    []PreparationRequest `json:"preparations"     validate:"dive"`
}

// UpdatePlanTaskRequest defines the payload for PUT /api/plan-tasks/{id}.
// Absent fields are left untouched.
type UpdatePlanTaskRequest struct {
	Title           *string               `json:"title"            validate:"omitempty,min=1"`
	TaskType        *string               `json:"task_type"`
	Description     *string               `json:"description"`
	ScheduleType    *string               `json:"schedule_type"    validate:"omitempty,oneof=once daily weekly monthly cron"`
	ScheduleValue   *string               `json:"schedule_value"`
	PlanTime        *string               `json:"plan_time"`
	ReminderMinutes *int                  `json:"reminder_minutes" validate:"omitempty,gte=0"`
	ReminderEnabled *bool                 `json:"reminder_enabled"`
	WebhookURL      *string               `json:"webhook_url"      validate:"omitempty,url"`
	ReminderMessage *string               `json:"reminder_message"`
	AlertRobot      *string               `json:"alert_robot"`
	Owner           *string               `json:"owner"`
	Responsible     *[]string             `json:"responsible"`
	Status          *string               `json:"status"           validate:"omitempty,oneof=pending in_progress completed cancelled"`
	ResultStatus    *string               `json:"result_status"`
	ResultNotes     *string               `json:"result_notes"`
	Preparations    *[]PreparationRequest `json:"preparations"     validate:"omitempty,dive"`
}

// StatusRequest defines the payload for POST /api/plan-tasks/{id}/status.
type StatusRequest struct {
	Action       string  `json:"action"        validate:"required"`
	ResultStatus *string `json:"result_status"`
	ResultNotes  *string `json:"result_notes"`
}

// TestPreparationRequest is a sample checklist item for a test notification.
type TestPreparationRequest struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// TestNotificationRequest defines the payload for
// POST /api/plan-tasks/test-notification.
type TestNotificationRequest struct {
	WebhookURL      string                   `json:"webhook_url"`
	ReminderMessage string                   `json:"reminder_message"`
	Title           string                   `json:"title"`
	PlanTime        string                   `json:"plan_time"`
	Owner           string                   `json:"owner"`
	Responsible     []string                 `json:"responsible"`
	Preparations    []TestPreparationRequest `json:"preparations"`
}

// TestNotificationResponse reports the dispatch outcome.
type TestNotificationResponse struct {
	Delivered bool   `json:"delivered"`
	Message   string `json:"message"`
}

// PreparationResponse is a checklist item in a plan task response.
type PreparationResponse struct {
	ID               int64  `json:"id"`
	Description      string `json:"description"`
	Status           string `json:"status"`
	EstimatedMinutes *int   `json:"estimated_minutes"`
	OrderNo          int    `json:"order_no"`
}

// PlanTaskResponse is the API view of a plan task.
type PlanTaskResponse struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	TaskType        string     `json:"task_type"`
	Description     string     `json:"description"`
	ScheduleType    string     `json:"schedule_type"`
	ScheduleValue   string     `json:"schedule_value"`
	PlanTime        time.Time  `json:"plan_time"`
	ReminderMinutes int        `json:"reminder_minutes"`
	ReminderEnabled bool       `json:"reminder_enabled"`
	ReminderSent    bool       `json:"reminder_sent"`
	WebhookURL      string     `json:"webhook_url"`
	ReminderMessage string     `json:"reminder_message"`
	AlertRobot      string     `json:"alert_robot"`
	Status          string     `json:"status"`
	ResultStatus    string     `json:"result_status"`
	ResultNotes     string     `json:"result_notes"`
	ActualStart     *time.Time `json:"actual_start"`
	ActualFinish    *time.Time `json:"actual_finish"`
	Owner           string     `json:"owner"`
	Responsible     []string   `json:"responsible"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Preparations is omitted from list responses.
	Preparations []PreparationResponse `json:"preparations,omitempty"`
}

// PlanTaskListResponse wraps a list of plan tasks.
type PlanTaskListResponse struct {
	Items []PlanTaskResponse `json:"items"`
	Total int                `json:"total"`
}

// AuditResponse is the API view of a notification audit row.
type AuditResponse struct {
	ID        string    `json:"id"`
	TaskID    int64     `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	SentAt    time.Time `json:"sent_at"`
	Status    string    `json:"status"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
}

// RobotResponse is a configured alert robot with its token redacted.
type RobotResponse struct {
	Name    string `json:"name"`
	Webhook string `json:"webhook"`
}

// planTaskToResponse converts a domain.PlanTask to a PlanTaskResponse
func planTaskToResponse(t *domain.PlanTask, withPreparations bool) PlanTaskResponse {
	resp := PlanTaskResponse{
		ID:              t.ID,
		Title:           t.Title,
		TaskType:        t.TaskType,
		Description:     t.Description,
		ScheduleType:    string(t.ScheduleType),
		ScheduleValue:   t.ScheduleValue,
		PlanTime:        t.PlanTime,
		ReminderMinutes: t.ReminderMinutes,
		ReminderEnabled: t.ReminderEnabled,
		ReminderSent:    t.ReminderSent,
		WebhookURL:      t.WebhookURL,
		ReminderMessage: t.ReminderMessage,
		AlertRobot:      t.AlertRobot,
		Status:          string(t.Status),
		ResultStatus:    t.ResultStatus,
		ResultNotes:     t.ResultNotes,
		ActualStart:     t.ActualStart,
		ActualFinish:    t.ActualFinish,
		Owner:           t.Owner,
		Responsible:     t.Responsible,
		CreatedBy:       t.CreatedBy,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if resp.Responsible == nil {
		resp.Responsible = []string{}
	}
	if withPreparations {
		resp.Preparations = make([]PreparationResponse, 0, len(t.Preparations))
		for _, p := range t.Preparations {
			resp.Preparations = append(resp.Preparations, PreparationResponse{
				ID:               p.ID,
				Description:      p.Description,
				Status:           string(p.Status),
				EstimatedMinutes: p.EstimatedMinutes,
				OrderNo:          p.OrderNo,
			})
		}
	}
	return resp
}

func auditToResponse(a domain.NotificationAudit) AuditResponse {
	return AuditResponse{
		ID:        a.ID.String(),
		TaskID:    a.TaskID,
		TaskTitle: a.TaskTitle,
		SentAt:    a.SentAt,
		Status:    string(a.Status),
		ErrorMsg:  a.ErrorMsg,
	}
}

func robotToResponse(r config.AlertRobot) RobotResponse {
	return RobotResponse{
		Name:    r.Name,
		Webhook: redact.WebhookURL(r.Webhook),
	}
}
