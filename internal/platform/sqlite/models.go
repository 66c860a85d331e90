package sqlite

import (
	"time"

	"github.com/google/uuid"
	"github.com/opstrack/opstrack/internal/domain"
)

// Bool columns must not carry a gorm default tag: gorm omits zero values on
// insert when one is set.
type planTaskModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	Title           string    `gorm:"not null"`
	TaskType        string    `gorm:"not null;index"`
	Description     string    `gorm:"not null"`
	ScheduleType    string    `gorm:"not null"`
	ScheduleValue   string    `gorm:"not null"`
	PlanTime        time.Time `gorm:"not null;index"`
	ReminderMinutes int       `gorm:"not null"`
	ReminderEnabled bool      `gorm:"not null"`
	ReminderSent    bool      `gorm:"not null;index"`
	WebhookURL      string    `gorm:"not null"`
	ReminderMessage string    `gorm:"not null"`
	AlertRobot      string    `gorm:"not null"`
	Status          string    `gorm:"not null;index"`
	ResultStatus    string    `gorm:"not null"`
	ResultNotes     string    `gorm:"not null"`
	ActualStart     *time.Time
	ActualFinish    *time.Time
	Owner           string `gorm:"not null;index"`
	Responsible     string `gorm:"not null"`
	CreatedBy       string `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Preparations []preparationModel `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
}

func (planTaskModel) TableName() string { return "plan_tasks" }

type preparationModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	TaskID           int64  `gorm:"not null;uniqueIndex:idx_preparations_task_order"`
	Description      string `gorm:"not null"`
	Status           string `gorm:"not null"`
	EstimatedMinutes *int
	OrderNo          int `gorm:"not null;uniqueIndex:idx_preparations_task_order"`
}

func (preparationModel) TableName() string { return "plan_task_preparations" }

type auditModel struct {
	ID        string    `gorm:"primaryKey"`
	TaskID    int64     `gorm:"not null;index"`
	TaskTitle string    `gorm:"not null"`
	SentAt    time.Time `gorm:"not null;index"`
	Status    string    `gorm:"not null"`
	ErrorMsg  string    `gorm:"not null"`
}

func (auditModel) TableName() string { return "notification_audits" }

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toPlanTaskModel(t *domain.PlanTask) planTaskModel {
	m := planTaskModel{
		ID:              t.ID,
		Title:           t.Title,
		TaskType:        t.TaskType,
		Description:     t.Description,
		ScheduleType:    string(t.ScheduleType),
		ScheduleValue:   t.ScheduleValue,
		PlanTime:        t.PlanTime.UTC(),
		ReminderMinutes: t.ReminderMinutes,
		ReminderEnabled: t.ReminderEnabled,
		ReminderSent:    t.ReminderSent,
		WebhookURL:      t.WebhookURL,
		ReminderMessage: t.ReminderMessage,
		AlertRobot:      t.AlertRobot,
		Status:          string(t.Status),
		ResultStatus:    t.ResultStatus,
		ResultNotes:     t.ResultNotes,
		ActualStart:     utc(t.ActualStart),
		ActualFinish:    utc(t.ActualFinish),
		Owner:           t.Owner,
		Responsible:     domain.JoinNames(t.Responsible),
		CreatedBy:       t.CreatedBy,
		CreatedAt:       t.CreatedAt.UTC(),
		UpdatedAt:       t.UpdatedAt.UTC(),
	}
	m.Preparations = toPreparationModels(t.ID, t.Preparations)
	return m
}

func toPreparationModels(taskID int64, preps []domain.Preparation) []preparationModel {
	out := make([]preparationModel, 0, len(preps))
	for _, p := range preps {
		out = append(out, preparationModel{
			TaskID:           taskID,
			Description:      p.Description,
			Status:           string(p.Status),
			EstimatedMinutes: p.EstimatedMinutes,
			OrderNo:          p.OrderNo,
		})
	}
	return out
}

func (m planTaskModel) toDomain() domain.PlanTask {
	t := domain.PlanTask{
		ID:              m.ID,
		Title:           m.Title,
		TaskType:        m.TaskType,
		Description:     m.Description,
		ScheduleType:    domain.ScheduleType(m.ScheduleType),
		ScheduleValue:   m.ScheduleValue,
		PlanTime:        m.PlanTime.UTC(),
		ReminderMinutes: m.ReminderMinutes,
		ReminderEnabled: m.ReminderEnabled,
		ReminderSent:    m.ReminderSent,
		WebhookURL:      m.WebhookURL,
		ReminderMessage: m.ReminderMessage,
		AlertRobot:      m.AlertRobot,
		Status:          domain.PlanTaskStatus(m.Status),
		ResultStatus:    m.ResultStatus,
		ResultNotes:     m.ResultNotes,
		ActualStart:     utc(m.ActualStart),
		ActualFinish:    utc(m.ActualFinish),
		Owner:           m.Owner,
		Responsible:     domain.SplitNames(m.Responsible),
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	for _, p := range m.Preparations {
		t.Preparations = append(t.Preparations, domain.Preparation{
			ID:               p.ID,
			TaskID:           p.TaskID,
			Description:      p.Description,
			Status:           domain.PreparationStatus(p.Status),
			EstimatedMinutes: p.EstimatedMinutes,
			OrderNo:          p.OrderNo,
		})
	}
	return t
}

func toAuditModel(a *domain.NotificationAudit) auditModel {
	return auditModel{
		ID:        a.ID.String(),
		TaskID:    a.TaskID,
		TaskTitle: a.TaskTitle,
		SentAt:    a.SentAt.UTC(),
		Status:    string(a.Status),
		ErrorMsg:  a.ErrorMsg,
	}
}

func (m auditModel) toDomain() (domain.NotificationAudit, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.NotificationAudit{}, err
	}
	return domain.NotificationAudit{
		ID:        id,
		TaskID:    m.TaskID,
		TaskTitle: m.TaskTitle,
		SentAt:    m.SentAt.UTC(),
		Status:    domain.AuditStatus(m.Status),
		ErrorMsg:  m.ErrorMsg,
	}, nil
}
