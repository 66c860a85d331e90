package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opstrack/opstrack/internal/config"
	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/notify"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/redact"
	"github.com/opstrack/opstrack/internal/store"
)

// StatusAction is a lifecycle transition requested by a user.
type StatusAction string

// Supported status actions
const (
	ActionStart    StatusAction = "start"
	ActionComplete StatusAction = "complete"
	ActionCancel   StatusAction = "cancel"
)

// DefaultResultStatus is recorded by ActionComplete when none is given.
const DefaultResultStatus = "success"

// Defaults substituted into test notifications when the caller omits them.
const (
	DefaultTestTitle = "Test task"
	DefaultTestOwner = "test owner"
)

// Notifier delivers one rendered message to a webhook.
type Notifier interface {
	Send(ctx context.Context, url, text, title string) notify.Result
}

// PreparationInput is one checklist item supplied on create or update.
type PreparationInput struct {
	Description      string
	Status           domain.PreparationStatus
	EstimatedMinutes *int
}

// CreatePlanTaskInput carries the fields of a new plan task. Nil pointers
// take the domain defaults.
type CreatePlanTaskInput struct {
	Title           string
	TaskType        string
	Description     string
	ScheduleType    domain.ScheduleType
	ScheduleValue   string
	PlanTime        time.Time
	ReminderMinutes *int
	ReminderEnabled *bool
	WebhookURL      string
	ReminderMessage string
	AlertRobot      string
	Owner           string
	Responsible     []string
	CreatedBy       string
	Preparations    []PreparationInput
}

// UpdatePlanTaskInput is a partial update. Nil fields are left untouched.
// A non-nil Preparations replaces the whole checklist.
type UpdatePlanTaskInput struct {
	Title           *string
	TaskType        *string
	Description     *string
	ScheduleType    *domain.ScheduleType
	ScheduleValue   *string
	PlanTime        *time.Time
	ReminderMinutes *int
	ReminderEnabled *bool
	WebhookURL      *string
	ReminderMessage *string
	AlertRobot      *string
	Owner           *string
	Responsible     *[]string
	Status          *domain.PlanTaskStatus
	ResultStatus    *string
	ResultNotes     *string
	Preparations    *[]PreparationInput
}

// StatusChangeInput carries a lifecycle action and its optional result fields.
type StatusChangeInput struct {
	Action       StatusAction
	ResultStatus *string
	ResultNotes  *string
}

// TestPreparation is a checklist item in a test notification.
type TestPreparation struct {
	Description string
	Done        bool
}

// TestNotificationInput is caller-supplied sample data for a test message.
// Empty fields take placeholder values.
type TestNotificationInput struct {
	WebhookURL      string
	ReminderMessage string
	Title           string
	PlanTime        string
	Owner           string
	Responsible     []string
	Preparations    []TestPreparation
}

// PlanTaskService provides plan task operations
type PlanTaskService interface {
	// CreatePlanTask validates and stores a new pending plan task.
	CreatePlanTask(ctx context.Context, input CreatePlanTaskInput) (*domain.PlanTask, error)

	// GetPlanTask returns a task with its preparations.
	GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error)

	// ListPlanTasks returns tasks matching the filter, ordered by plan time.
	ListPlanTasks(ctx context.Context, filter store.PlanTaskFilter) ([]domain.PlanTask, error)

	// UpdatePlanTask applies a partial update. Changing the plan time or the
	// reminder lead time re-arms the reminder in the same transaction.
	UpdatePlanTask(ctx context.Context, id int64, input UpdatePlanTaskInput) (*domain.PlanTask, error)

	// ChangeStatus applies a start, complete or cancel action.
	ChangeStatus(ctx context.Context, id int64, input StatusChangeInput) (*domain.PlanTask, error)

	// DeletePlanTask removes a task and its preparations.
	DeletePlanTask(ctx context.Context, id int64) error

	// SendTestNotification renders and dispatches a message from sample
	// data. It never touches the store.
	SendTestNotification(ctx context.Context, input TestNotificationInput) notify.Result

	// ListAudits returns notification audit rows, newest first.
	ListAudits(ctx context.Context, filter store.AuditFilter) ([]domain.NotificationAudit, error)

	// Robots returns the configured alert robots.
	Robots() []config.AlertRobot
}

// planTaskServiceImpl implements the PlanTaskService interface
type planTaskServiceImpl struct {
	tasks    store.PlanTaskStore
	audits   store.AuditStore
	notifier Notifier
	notify   config.NotifyConfig
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes the plan task service.
type Option func(*planTaskServiceImpl)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *planTaskServiceImpl) { s.now = now }
}

// WithLocation sets the zone used to format plan times in test notifications.
func WithLocation(loc *time.Location) Option {
	return func(s *planTaskServiceImpl) {
		if loc != nil {
			s.location = loc
		}
	}
}

// NewPlanTaskService creates a new PlanTaskService.
// It returns an error if any of the required dependencies are nil.
func NewPlanTaskService(
	tasks store.PlanTaskStore,
	audits store.AuditStore,
	notifier Notifier,
	notifyConfig config.NotifyConfig,
	logger *slog.Logger,
	opts ...Option,
) (PlanTaskService, error) {
	if tasks == nil {
		return nil, &PlanTaskServiceError{Operation: "create_service", Message: "tasks store cannot be nil"}
	}
	if audits == nil {
		return nil, &PlanTaskServiceError{Operation: "create_service", Message: "audit store cannot be nil"}
	}
	if notifier == nil {
		return nil, &PlanTaskServiceError{Operation: "create_service", Message: "notifier cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &planTaskServiceImpl{
		tasks:    tasks,
		audits:   audits,
		notifier: notifier,
		notify:   notifyConfig,
		location: time.Local,
		logger:   logger.With("component", "plan_task_service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *planTaskServiceImpl) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, s.logger)
}

// CreatePlanTask validates and stores a new pending plan task.
func (s *planTaskServiceImpl) CreatePlanTask(
	ctx context.Context,
	input CreatePlanTaskInput,
) (*domain.PlanTask, error) {
	log := s.log(ctx)

	task, err := domain.NewPlanTask(input.Title, input.PlanTime.UTC(), toPreparations(input.Preparations))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if input.TaskType != "" {
		task.TaskType = input.TaskType
	}
	if input.ScheduleType != "" {
		task.ScheduleType = input.ScheduleType
	}
	if input.ReminderMinutes != nil {
		task.ReminderMinutes = *input.ReminderMinutes
	}
	if input.ReminderEnabled != nil {
		task.ReminderEnabled = *input.ReminderEnabled
	}
	if strings.TrimSpace(input.ReminderMessage) != "" {
		task.ReminderMessage = input.ReminderMessage
	} else if s.notify.DefaultTemplate != "" {
		task.ReminderMessage = s.notify.DefaultTemplate
	}
	task.Description = input.Description
	task.ScheduleValue = input.ScheduleValue
	task.Owner = input.Owner
	task.Responsible = cleanNames(input.Responsible)
	task.CreatedBy = input.CreatedBy
	task.AlertRobot = input.AlertRobot
	task.WebhookURL = strings.TrimSpace(input.WebhookURL)

	if err := s.resolveWebhook(task); err != nil {
		return nil, err
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.tasks.CreatePlanTask(ctx, task); err != nil {
		log.Error("failed to create plan task",
			slog.String("error", redact.Error(err)),
			slog.String("title", task.Title))
		return nil, NewPlanTaskServiceError("create_plan_task", "failed to save plan task", err)
	}

	log.Info("plan task created",
		slog.Int64("task_id", task.ID),
		slog.Time("plan_time", task.PlanTime),
		slog.Int("reminder_minutes", task.ReminderMinutes),
		slog.Bool("has_webhook", task.WebhookURL != ""))
	return task, nil
}

// GetPlanTask returns a task with its preparations.
func (s *planTaskServiceImpl) GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error) {
	task, err := s.tasks.GetPlanTask(ctx, id)
	if err != nil {
		return nil, NewPlanTaskServiceError("get_plan_task", "failed to load plan task", err)
	}
	return task, nil
}

// ListPlanTasks returns tasks matching the filter, ordered by plan time.
func (s *planTaskServiceImpl) ListPlanTasks(
	ctx context.Context,
	filter store.PlanTaskFilter,
) ([]domain.PlanTask, error) {
	if filter.Status != "" && !domain.IsValidPlanTaskStatus(filter.Status) {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidPlanTaskStatus)
	}
	tasks, err := s.tasks.ListPlanTasks(ctx, filter)
	if err != nil {
		return nil, NewPlanTaskServiceError("list_plan_tasks", "failed to list plan tasks", err)
	}
	return tasks, nil
}

// UpdatePlanTask applies a partial update inside one transaction.
func (s *planTaskServiceImpl) UpdatePlanTask(
	ctx context.Context,
	id int64,
	input UpdatePlanTaskInput,
) (*domain.PlanTask, error) {
	log := s.log(ctx).With(slog.Int64("task_id", id))

	var updated *domain.PlanTask
	var rescheduled bool
	err := s.tasks.RunInTx(ctx, func(ctx context.Context, tx store.PlanTaskStore) error {
		task, err := tx.GetPlanTask(ctx, id)
		if err != nil {
			return err
		}

		rescheduled = applyUpdate(task, input)
		if err := s.resolveWebhook(task); err != nil {
			return err
		}
		if err := task.Validate(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}

		if err := tx.UpdatePlanTask(ctx, task); err != nil {
			return err
		}
		if rescheduled {
			if err := tx.ResetReminderOnReschedule(ctx, id); err != nil {
				return err
			}
			task.ReminderSent = false
		}
		updated = task
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, ErrUnknownAlertRobot) {
			return nil, err
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("failed to update plan task", slog.String("error", redact.Error(err)))
		}
		return nil, NewPlanTaskServiceError("update_plan_task", "failed to update plan task", err)
	}

	if rescheduled {
		log.Info("plan task rescheduled, reminder re-armed",
			slog.Time("plan_time", updated.PlanTime),
			slog.Int("reminder_minutes", updated.ReminderMinutes))
	} else {
		log.Info("plan task updated")
	}
	return updated, nil
}

// applyUpdate copies the set fields onto task and reports whether the
// reminder schedule changed.
func applyUpdate(task *domain.PlanTask, in UpdatePlanTaskInput) bool {
	rescheduled := false

	if in.Title != nil {
		task.Title = *in.Title
	}
	if in.TaskType != nil {
		task.TaskType = *in.TaskType
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.ScheduleType != nil {
		task.ScheduleType = *in.ScheduleType
	}
	if in.ScheduleValue != nil {
		task.ScheduleValue = *in.ScheduleValue
	}
	if in.PlanTime != nil && !in.PlanTime.Equal(task.PlanTime) {
		task.PlanTime = in.PlanTime.UTC()
		rescheduled = true
	}
	if in.ReminderMinutes != nil && *in.ReminderMinutes != task.ReminderMinutes {
		task.ReminderMinutes = *in.ReminderMinutes
		rescheduled = true
	}
	if in.ReminderEnabled != nil {
		task.ReminderEnabled = *in.ReminderEnabled
	}
	if in.WebhookURL != nil {
		task.WebhookURL = strings.TrimSpace(*in.WebhookURL)
	}
	if in.ReminderMessage != nil {
		task.ReminderMessage = *in.ReminderMessage
	}
	if in.AlertRobot != nil {
		task.AlertRobot = *in.AlertRobot
	}
	if in.Owner != nil {
		task.Owner = *in.Owner
	}
	if in.Responsible != nil {
		task.Responsible = cleanNames(*in.Responsible)
	}
	if in.Status != nil {
		task.Status = *in.Status
	}
	if in.ResultStatus != nil {
		task.ResultStatus = *in.ResultStatus
	}
	if in.ResultNotes != nil {
		task.ResultNotes = *in.ResultNotes
	}
	if in.Preparations != nil {
		task.SetPreparations(toPreparations(*in.Preparations))
	}
	return rescheduled
}

// ChangeStatus applies a start, complete or cancel action.
func (s *planTaskServiceImpl) ChangeStatus(
	ctx context.Context,
	id int64,
	input StatusChangeInput,
) (*domain.PlanTask, error) {
	now := s.now().UTC()
	change := store.StatusChange{
		ResultNotes: input.ResultNotes,
	}

	switch input.Action {
	case ActionStart:
		change.Status = domain.PlanTaskStatusInProgress
		change.ActualStart = &now
		change.ResultNotes = nil
	case ActionComplete:
		change.Status = domain.PlanTaskStatusCompleted
		change.ActualFinish = &now
		result := DefaultResultStatus
		if input.ResultStatus != nil && *input.ResultStatus != "" {
			result = *input.ResultStatus
		}
		change.ResultStatus = &result
	case ActionCancel:
		change.Status = domain.PlanTaskStatusCancelled
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusAction, input.Action)
	}

	if err := s.tasks.UpdatePlanTaskStatus(ctx, id, change); err != nil {
		return nil, NewPlanTaskServiceError("change_status", "failed to update plan task status", err)
	}

	s.log(ctx).Info("plan task status changed",
		slog.Int64("task_id", id),
		slog.String("action", string(input.Action)),
		slog.String("status", string(change.Status)))

	return s.GetPlanTask(ctx, id)
}

// DeletePlanTask removes a task and its preparations.
func (s *planTaskServiceImpl) DeletePlanTask(ctx context.Context, id int64) error {
	if err := s.tasks.DeletePlanTask(ctx, id); err != nil {
		return NewPlanTaskServiceError("delete_plan_task", "failed to delete plan task", err)
	}
	s.log(ctx).Info("plan task deleted", slog.Int64("task_id", id))
	return nil
}

// SendTestNotification renders the sample data and dispatches it once.
func (s *planTaskServiceImpl) SendTestNotification(
	ctx context.Context,
	input TestNotificationInput,
) notify.Result {
	data := notify.MessageData{
		Title:       orDefault(input.Title, DefaultTestTitle),
		PlanTime:    orDefault(input.PlanTime, s.now().In(s.location).Format(notify.PlanTimeLayout)),
		Owner:       orDefault(input.Owner, DefaultTestOwner),
		Responsible: cleanNames(input.Responsible),
	}
	for i, p := range input.Preparations {
		data.Preparations = append(data.Preparations, notify.PreparationItem{
			Description: p.Description,
			Done:        p.Done,
			OrderNo:     i + 1,
		})
	}

	tmpl := input.ReminderMessage
	if strings.TrimSpace(tmpl) == "" {
		tmpl = s.notify.DefaultTemplate
	}
	msg := notify.Render(tmpl, data)

	res := s.notifier.Send(ctx, strings.TrimSpace(input.WebhookURL), msg.Text, msg.Title)
	s.log(ctx).Info("test notification dispatched",
		slog.String("webhook", redact.WebhookURL(input.WebhookURL)),
		slog.Bool("delivered", res.Delivered),
		slog.String("message", res.Message))
	return res
}

// ListAudits returns notification audit rows, newest first.
func (s *planTaskServiceImpl) ListAudits(
	ctx context.Context,
	filter store.AuditFilter,
) ([]domain.NotificationAudit, error) {
	audits, err := s.audits.ListAudits(ctx, filter)
	if err != nil {
		return nil, NewPlanTaskServiceError("list_audits", "failed to list notification audits", err)
	}
	return audits, nil
}

// Robots returns the configured alert robots.
func (s *planTaskServiceImpl) Robots() []config.AlertRobot {
	return append([]config.AlertRobot(nil), s.notify.Robots...)
}

// resolveWebhook fills WebhookURL from the named alert robot when the task
// has a robot but no explicit webhook.
func (s *planTaskServiceImpl) resolveWebhook(task *domain.PlanTask) error {
	if task.WebhookURL != "" || strings.TrimSpace(task.AlertRobot) == "" {
		return nil
	}
	robot, ok := s.notify.Robot(task.AlertRobot)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAlertRobot, task.AlertRobot)
	}
	task.WebhookURL = robot.Webhook
	return nil
}

func toPreparations(items []PreparationInput) []domain.Preparation {
	out := make([]domain.Preparation, 0, len(items))
	for _, it := range items {
		out = append(out, domain.Preparation{
			Description:      strings.TrimSpace(it.Description),
			Status:           it.Status,
			EstimatedMinutes: it.EstimatedMinutes,
		})
	}
	return out
}

func cleanNames(names []string) []string {
	return domain.SplitNames(domain.JoinNames(names))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
