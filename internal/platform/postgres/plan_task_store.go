package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/store"
)

const planTaskColumns = `id, title, task_type, description, schedule_type, schedule_value,
	plan_time, reminder_minutes, reminder_enabled, reminder_sent, webhook_url,
	reminder_message, alert_robot, status, result_status, result_notes,
	actual_start, actual_finish, owner, responsible, created_by, created_at, updated_at`

const preparationColumns = `id, task_id, description, status, estimated_minutes, order_no`

// PostgresPlanTaskStore implements store.PlanTaskStore using PostgreSQL.
type PostgresPlanTaskStore struct {
	db store.DBTX
	// pool is nil when the store is bound to a transaction.
	pool   *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.PlanTaskStore = (*PostgresPlanTaskStore)(nil)

// NewPostgresPlanTaskStore creates a store on the connection pool.
// If logger is nil, slog.Default() is used.
func NewPostgresPlanTaskStore(db *sql.DB, logger *slog.Logger) *PostgresPlanTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPlanTaskStore{
		db:     db,
		pool:   db,
		logger: logger.With(slog.String("component", "plan_task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a store bound to tx. RunInTx on the result does not open
// a nested transaction.
func (s *PostgresPlanTaskStore) WithTx(tx *sql.Tx) *PostgresPlanTaskStore {
	return &PostgresPlanTaskStore{
		db:     tx,
		logger: s.logger,
		now:    s.now,
	}
}

// RunInTx implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context, tx store.PlanTaskStore) error,
) error {
	return s.inTx(ctx, func(ctx context.Context, tx *PostgresPlanTaskStore) error {
		return fn(ctx, tx)
	})
}

func (s *PostgresPlanTaskStore) inTx(
	ctx context.Context,
	fn func(ctx context.Context, tx *PostgresPlanTaskStore) error,
) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	return store.RunInTransaction(ctx, s.pool, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, s.WithTx(tx))
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanTask(row rowScanner) (*domain.PlanTask, error) {
	var (
		t            domain.PlanTask
		actualStart  sql.NullTime
		actualFinish sql.NullTime
		responsible  string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.TaskType, &t.Description, &t.ScheduleType, &t.ScheduleValue,
		&t.PlanTime, &t.ReminderMinutes, &t.ReminderEnabled, &t.ReminderSent, &t.WebhookURL,
		&t.ReminderMessage, &t.AlertRobot, &t.Status, &t.ResultStatus, &t.ResultNotes,
		&actualStart, &actualFinish, &t.Owner, &responsible, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if actualStart.Valid {
		v := actualStart.Time
		t.ActualStart = &v
	}
	if actualFinish.Valid {
		v := actualFinish.Time
		t.ActualFinish = &v
	}
	t.Responsible = domain.SplitNames(responsible)
	return &t, nil
}

func scanPreparation(row rowScanner) (domain.Preparation, error) {
	var (
		p         domain.Preparation
		estimated sql.NullInt32
	)
	if err := row.Scan(&p.ID, &p.TaskID, &p.Description, &p.Status, &estimated, &p.OrderNo); err != nil {
		return p, err
	}
	if estimated.Valid {
		v := int(estimated.Int32)
		p.EstimatedMinutes = &v
	}
	return p, nil
}

// ListDueCandidates implements store.ReminderStore. The window check is
// left to the caller so the clock stays out of SQL.
func (s *PostgresPlanTaskStore) ListDueCandidates(ctx context.Context) ([]domain.PlanTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + planTaskColumns + `
		FROM plan_tasks
		WHERE status = $1 AND reminder_enabled = TRUE AND reminder_sent = FALSE
		ORDER BY plan_time ASC, id ASC`

	tasks, err := s.queryTasks(ctx, query, domain.PlanTaskStatusPending)
	if err != nil {
		log.Error("failed to query reminder candidates", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query reminder candidates: %w", MapError(err))
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	prepQuery := `SELECT p.id, p.task_id, p.description, p.status, p.estimated_minutes, p.order_no
		FROM plan_task_preparations p
		JOIN plan_tasks t ON t.id = p.task_id
		WHERE t.status = $1 AND t.reminder_enabled = TRUE AND t.reminder_sent = FALSE
		ORDER BY p.task_id ASC, p.order_no ASC`

	preps, err := s.queryPreparations(ctx, prepQuery, domain.PlanTaskStatusPending)
	if err != nil {
		log.Error("failed to query candidate preparations", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query candidate preparations: %w", MapError(err))
	}
	for i := range tasks {
		tasks[i].Preparations = preps[tasks[i].ID]
	}

	log.Debug("loaded reminder candidates", slog.Int("count", len(tasks)))
	return tasks, nil
}

// MarkReminderSent implements store.ReminderStore with a compare-and-set
// update so concurrent dispatchers cannot both latch the same task.
func (s *PostgresPlanTaskStore) MarkReminderSent(ctx context.Context, taskID int64) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `UPDATE plan_tasks
		SET reminder_sent = TRUE, updated_at = $2
		WHERE id = $1 AND reminder_sent = FALSE`

	result, err := s.db.ExecContext(ctx, query, taskID, s.now())
	if err != nil {
		log.Error("failed to mark reminder sent",
			slog.Int64("task_id", taskID),
			slog.String("error", err.Error()))
		return false, store.NewStoreError(store.EntityPlanTask, store.OpMarkSent,
			"failed to mark reminder sent", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError(store.EntityPlanTask, store.OpMarkSent,
			"failed to get rows affected", err)
	}
	return n == 1, nil
}

// CreatePlanTask implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) CreatePlanTask(ctx context.Context, task *domain.PlanTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("plan task validation failed during create", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	err := s.inTx(ctx, func(ctx context.Context, tx *PostgresPlanTaskStore) error {
		query := `INSERT INTO plan_tasks (
				title, task_type, description, schedule_type, schedule_value,
				plan_time, reminder_minutes, reminder_enabled, reminder_sent, webhook_url,
				reminder_message, alert_robot, status, result_status, result_notes,
				actual_start, actual_finish, owner, responsible, created_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21, $22)
			RETURNING id`

		err := tx.db.QueryRowContext(ctx, query,
			task.Title, task.TaskType, task.Description, task.ScheduleType, task.ScheduleValue,
			task.PlanTime.UTC(), task.ReminderMinutes, task.ReminderEnabled, task.ReminderSent, task.WebhookURL,
			task.ReminderMessage, task.AlertRobot, task.Status, task.ResultStatus, task.ResultNotes,
			utcPtr(task.ActualStart), utcPtr(task.ActualFinish), task.Owner, domain.JoinNames(task.Responsible),
			task.CreatedBy, task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
		).Scan(&task.ID)
		if err != nil {
			return MapError(err)
		}
		return tx.insertPreparations(ctx, task)
	})
	if err != nil {
		log.Error("failed to create plan task",
			slog.String("title", task.Title),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create plan task: %w", err)
	}

	log.Info("plan task created",
		slog.Int64("task_id", task.ID),
		slog.Int("preparations", len(task.Preparations)))
	return nil
}

func (s *PostgresPlanTaskStore) insertPreparations(ctx context.Context, task *domain.PlanTask) error {
	query := `INSERT INTO plan_task_preparations (task_id, description, status, estimated_minutes, order_no)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	for i := range task.Preparations {
		p := &task.Preparations[i]
		p.TaskID = task.ID
		if err := s.db.QueryRowContext(ctx, query,
			p.TaskID, p.Description, p.Status, p.EstimatedMinutes, p.OrderNo,
		).Scan(&p.ID); err != nil {
			return MapError(err)
		}
	}
	return nil
}

// GetPlanTask implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + planTaskColumns + ` FROM plan_tasks WHERE id = $1`

	task, err := scanPlanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("plan task not found", slog.Int64("task_id", id))
			return nil, store.ErrPlanTaskNotFound
		}
		log.Error("failed to get plan task",
			slog.Int64("task_id", id),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get plan task: %w", MapError(err))
	}

	prepQuery := `SELECT ` + preparationColumns + `
		FROM plan_task_preparations
		WHERE task_id = $1
		ORDER BY order_no ASC`

	preps, err := s.queryPreparations(ctx, prepQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get preparations: %w", MapError(err))
	}
	task.Preparations = preps[id]
	return task, nil
}

// ListPlanTasks implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) ListPlanTasks(
	ctx context.Context,
	filter store.PlanTaskFilter,
) ([]domain.PlanTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if filter.TaskType != "" {
		where = append(where, "task_type = "+arg(filter.TaskType))
	}
	if filter.Owner != "" {
		p := arg(filter.Owner)
		where = append(where, fmt.Sprintf("(owner = %s OR ',' || responsible || ',' LIKE '%%,' || %s || ',%%')", p, p))
	}
	if filter.Keyword != "" {
		p := arg("%" + filter.Keyword + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}

	query := `SELECT ` + planTaskColumns + ` FROM plan_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY plan_time ASC, id ASC"

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to list plan tasks", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list plan tasks: %w", MapError(err))
	}
	return tasks, nil
}

// UpdatePlanTask implements store.PlanTaskStore. reminder_sent is not in
// the SET list; only MarkReminderSent and ResetReminderOnReschedule move it.
func (s *PostgresPlanTaskStore) UpdatePlanTask(ctx context.Context, task *domain.PlanTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	task.UpdatedAt = s.now()

	err := s.inTx(ctx, func(ctx context.Context, tx *PostgresPlanTaskStore) error {
		query := `UPDATE plan_tasks SET
				title = $2, task_type = $3, description = $4, schedule_type = $5,
				schedule_value = $6, plan_time = $7, reminder_minutes = $8,
				reminder_enabled = $9, webhook_url = $10, reminder_message = $11,
				alert_robot = $12, owner = $13, responsible = $14, updated_at = $15,
				status = $16, result_status = $17, result_notes = $18
			WHERE id = $1`

		result, err := tx.db.ExecContext(ctx, query,
			task.ID, task.Title, task.TaskType, task.Description, task.ScheduleType,
			task.ScheduleValue, task.PlanTime.UTC(), task.ReminderMinutes,
			task.ReminderEnabled, task.WebhookURL, task.ReminderMessage,
			task.AlertRobot, task.Owner, domain.JoinNames(task.Responsible), task.UpdatedAt,
			task.Status, task.ResultStatus, task.ResultNotes,
		)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(result, store.ErrPlanTaskNotFound); err != nil {
			return err
		}

		if _, err := tx.db.ExecContext(ctx,
			`DELETE FROM plan_task_preparations WHERE task_id = $1`, task.ID); err != nil {
			return MapError(err)
		}
		return tx.insertPreparations(ctx, task)
	})
	if err != nil {
		if !store.IsNotFoundError(err) {
			log.Error("failed to update plan task",
				slog.Int64("task_id", task.ID),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("failed to update plan task: %w", err)
	}
	return nil
}

// UpdatePlanTaskStatus implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) UpdatePlanTaskStatus(
	ctx context.Context,
	id int64,
	change store.StatusChange,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `UPDATE plan_tasks SET
			status = $2,
			result_status = COALESCE($3, result_status),
			result_notes = COALESCE($4, result_notes),
			actual_start = COALESCE($5, actual_start),
			actual_finish = COALESCE($6, actual_finish),
			updated_at = $7
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		id, change.Status, change.ResultStatus, change.ResultNotes,
		utcPtr(change.ActualStart), utcPtr(change.ActualFinish), s.now(),
	)
	if err != nil {
		log.Error("failed to update plan task status",
			slog.Int64("task_id", id),
			slog.String("status", string(change.Status)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update plan task status: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrPlanTaskNotFound)
}

// DeletePlanTask implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) DeletePlanTask(ctx context.Context, id int64) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM plan_tasks WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete plan task",
			slog.Int64("task_id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to delete plan task: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrPlanTaskNotFound)
}

// ResetReminderOnReschedule implements store.PlanTaskStore.
func (s *PostgresPlanTaskStore) ResetReminderOnReschedule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plan_tasks SET reminder_sent = FALSE, updated_at = $2 WHERE id = $1`,
		id, s.now())
	if err != nil {
		return fmt.Errorf("failed to reset reminder: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrPlanTaskNotFound)
}

func (s *PostgresPlanTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]domain.PlanTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tasks := []domain.PlanTask{}
	for rows.Next() {
		t, err := scanPlanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresPlanTaskStore) queryPreparations(
	ctx context.Context,
	query string,
	args ...any,
) (map[int64][]domain.Preparation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64][]domain.Preparation)
	for rows.Next() {
		p, err := scanPreparation(rows)
		if err != nil {
			return nil, err
		}
		out[p.TaskID] = append(out[p.TaskID], p)
	}
	return out, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
