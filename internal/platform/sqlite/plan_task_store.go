package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/store"
	"gorm.io/gorm"
)

// PlanTaskStore implements store.PlanTaskStore with gorm.
type PlanTaskStore struct {
	db     *gorm.DB
	inTx   bool
	logger *slog.Logger
	now    func() time.Time
}

var _ store.PlanTaskStore = (*PlanTaskStore)(nil)

// NewPlanTaskStore creates a store. If logger is nil, slog.Default() is used.
func NewPlanTaskStore(db *gorm.DB, logger *slog.Logger) *PlanTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "plan_task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *PlanTaskStore) withTx(tx *gorm.DB) *PlanTaskStore {
	return &PlanTaskStore{db: tx, inTx: true, logger: s.logger, now: s.now}
}

// RunInTx implements store.PlanTaskStore.
func (s *PlanTaskStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.PlanTaskStore) error) error {
	return s.transaction(ctx, func(tx *PlanTaskStore) error { return fn(ctx, tx) })
}

func (s *PlanTaskStore) transaction(ctx context.Context, fn func(tx *PlanTaskStore) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.withTx(tx))
	})
}

func preloadOrdered(db *gorm.DB) *gorm.DB {
	return db.Order("order_no ASC")
}

// ListDueCandidates implements store.ReminderStore.
func (s *PlanTaskStore) ListDueCandidates(ctx context.Context) ([]domain.PlanTask, error) {
	var models []planTaskModel
	err := s.db.WithContext(ctx).
		Preload("Preparations", preloadOrdered).
		Where("status = ? AND reminder_enabled = ? AND reminder_sent = ?", string(domain.PlanTaskStatusPending), true, false).
		Order("plan_time ASC, id ASC").
		Find(&models).Error
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to query reminder candidates",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query reminder candidates: %w", mapError(err))
	}
	return toDomainTasks(models), nil
}

// MarkReminderSent implements store.ReminderStore as a compare-and-set.
func (s *PlanTaskStore) MarkReminderSent(ctx context.Context, taskID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&planTaskModel{}).
		Where("id = ? AND reminder_sent = ?", taskID, false).
		Updates(map[string]any{"reminder_sent": true, "updated_at": s.now()})
	if res.Error != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to mark reminder sent",
			slog.Int64("task_id", taskID),
			slog.String("error", res.Error.Error()))
		return false, store.NewStoreError(store.EntityPlanTask, store.OpMarkSent,
			"failed to mark reminder sent", mapError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

// CreatePlanTask implements store.PlanTaskStore.
func (s *PlanTaskStore) CreatePlanTask(ctx context.Context, task *domain.PlanTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	m := toPlanTaskModel(task)
	m.ID = 0
	err := s.transaction(ctx, func(tx *PlanTaskStore) error {
		return tx.db.WithContext(ctx).Create(&m).Error
	})
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create plan task",
			slog.String("title", task.Title),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create plan task: %w", mapError(err))
	}

	task.ID = m.ID
	for i := range task.Preparations {
		task.Preparations[i].ID = m.Preparations[i].ID
		task.Preparations[i].TaskID = m.ID
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("plan task created",
		slog.Int64("task_id", task.ID),
		slog.Int("preparations", len(task.Preparations)))
	return nil
}

// GetPlanTask implements store.PlanTaskStore.
func (s *PlanTaskStore) GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error) {
	var m planTaskModel
	err := s.db.WithContext(ctx).Preload("Preparations", preloadOrdered).First(&m, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrPlanTaskNotFound
		}
		return nil, fmt.Errorf("failed to get plan task: %w", mapError(err))
	}
	t := m.toDomain()
	return &t, nil
}

// ListPlanTasks implements store.PlanTaskStore.
func (s *PlanTaskStore) ListPlanTasks(ctx context.Context, filter store.PlanTaskFilter) ([]domain.PlanTask, error) {
	q := s.db.WithContext(ctx).Model(&planTaskModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.TaskType != "" {
		q = q.Where("task_type = ?", filter.TaskType)
	}
	if filter.Owner != "" {
		q = q.Where("(owner = ? OR (',' || responsible || ',') LIKE ?)", filter.Owner, "%,"+filter.Owner+",%")
	}
	if filter.Keyword != "" {
		kw := "%" + filter.Keyword + "%"
		q = q.Where("(title LIKE ? OR description LIKE ?)", kw, kw)
	}

	var models []planTaskModel
	if err := q.Order("plan_time ASC, id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list plan tasks: %w", mapError(err))
	}
	return toDomainTasks(models), nil
}

// UpdatePlanTask implements store.PlanTaskStore. reminder_sent is not
// written.
func (s *PlanTaskStore) UpdatePlanTask(ctx context.Context, task *domain.PlanTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	task.UpdatedAt = s.now()

	preps := toPreparationModels(task.ID, task.Preparations)
	err := s.transaction(ctx, func(tx *PlanTaskStore) error {
		db := tx.db.WithContext(ctx)
		res := db.Model(&planTaskModel{}).Where("id = ?", task.ID).Updates(map[string]any{
			"title":            task.Title,
			"task_type":        task.TaskType,
			"description":      task.Description,
			"schedule_type":    string(task.ScheduleType),
			"schedule_value":   task.ScheduleValue,
			"plan_time":        task.PlanTime.UTC(),
			"reminder_minutes": task.ReminderMinutes,
			"reminder_enabled": task.ReminderEnabled,
			"webhook_url":      task.WebhookURL,
			"reminder_message": task.ReminderMessage,
			"alert_robot":      task.AlertRobot,
			"owner":            task.Owner,
			"responsible":      domain.JoinNames(task.Responsible),
			"updated_at":       task.UpdatedAt,
			"status":           string(task.Status),
			"result_status":    task.ResultStatus,
			"result_notes":     task.ResultNotes,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrPlanTaskNotFound
		}
		if err := db.Where("task_id = ?", task.ID).Delete(&preparationModel{}).Error; err != nil {
			return err
		}
		if len(preps) == 0 {
			return nil
		}
		return db.Create(&preps).Error
	})
	if err != nil {
		if !store.IsNotFoundError(err) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to update plan task",
				slog.Int64("task_id", task.ID),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("failed to update plan task: %w", mapError(err))
	}

	for i := range task.Preparations {
		task.Preparations[i].ID = preps[i].ID
		task.Preparations[i].TaskID = task.ID
	}
	return nil
}

// UpdatePlanTaskStatus implements store.PlanTaskStore.
func (s *PlanTaskStore) UpdatePlanTaskStatus(ctx context.Context, id int64, change store.StatusChange) error {
	updates := map[string]any{
		"status":     string(change.Status),
		"updated_at": s.now(),
	}
	if change.ResultStatus != nil {
		updates["result_status"] = *change.ResultStatus
	}
	if change.ResultNotes != nil {
		updates["result_notes"] = *change.ResultNotes
	}
	if change.ActualStart != nil {
		updates["actual_start"] = change.ActualStart.UTC()
	}
	if change.ActualFinish != nil {
		updates["actual_finish"] = change.ActualFinish.UTC()
	}

	res := s.db.WithContext(ctx).Model(&planTaskModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update plan task status: %w", mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return store.ErrPlanTaskNotFound
	}
	return nil
}

// DeletePlanTask implements store.PlanTaskStore.
func (s *PlanTaskStore) DeletePlanTask(ctx context.Context, id int64) error {
	return s.transaction(ctx, func(tx *PlanTaskStore) error {
		db := tx.db.WithContext(ctx)
		if err := db.Where("task_id = ?", id).Delete(&preparationModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete preparations: %w", mapError(err))
		}
		res := db.Delete(&planTaskModel{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete plan task: %w", mapError(res.Error))
		}
		if res.RowsAffected == 0 {
			return store.ErrPlanTaskNotFound
		}
		return nil
	})
}

// ResetReminderOnReschedule implements store.PlanTaskStore.
func (s *PlanTaskStore) ResetReminderOnReschedule(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).
		Model(&planTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"reminder_sent": false, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to reset reminder: %w", mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return store.ErrPlanTaskNotFound
	}
	return nil
}

func toDomainTasks(models []planTaskModel) []domain.PlanTask {
	out := make([]domain.PlanTask, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out
}
