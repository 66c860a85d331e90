package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "opstrack.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func newTask(t *testing.T, title string, planTime time.Time, preps ...string) *domain.PlanTask {
	t.Helper()
	items := make([]domain.Preparation, 0, len(preps))
	for _, d := range preps {
		items = append(items, domain.Preparation{Description: d})
	}
	task, err := domain.NewPlanTask(title, planTime, items)
	require.NoError(t, err)
	task.WebhookURL = "https://hooks.example.com/robot"
	return task
}

func TestPlanTaskStore_CreateGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)

	plan := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	task := newTask(t, "Rotate certs", plan, "Backup keys", "Notify users")
	task.Responsible = []string{"bob", "carol"}
	task.ReminderEnabled = false
	require.NoError(t, s.CreatePlanTask(ctx, task))
	require.NotZero(t, task.ID)
	require.NotZero(t, task.Preparations[1].ID)

	got, err := s.GetPlanTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rotate certs", got.Title)
	assert.True(t, plan.Equal(got.PlanTime))
	assert.False(t, got.ReminderEnabled, "false must survive insert")
	assert.Equal(t, []string{"bob", "carol"}, got.Responsible)
	require.Len(t, got.Preparations, 2)
	assert.Equal(t, "Backup keys", got.Preparations[0].Description)
	assert.Equal(t, 2, got.Preparations[1].OrderNo)
	assert.Equal(t, domain.PreparationNotStarted, got.Preparations[1].Status)

	_, err = s.GetPlanTask(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrPlanTaskNotFound)
}

func TestPlanTaskStore_ListDueCandidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	later := newTask(t, "later", base.Add(2*time.Hour), "b2", "b1")
	sooner := newTask(t, "sooner", base)
	disabled := newTask(t, "disabled", base)
	disabled.ReminderEnabled = false
	started := newTask(t, "started", base)
	for _, task := range []*domain.PlanTask{later, sooner, disabled, started} {
		require.NoError(t, s.CreatePlanTask(ctx, task))
	}
	require.NoError(t, s.UpdatePlanTaskStatus(ctx, started.ID, store.StatusChange{Status: domain.PlanTaskStatusInProgress}))

	got, err := s.ListDueCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sooner", got[0].Title)
	assert.Equal(t, "later", got[1].Title)
	require.Len(t, got[1].Preparations, 2)
	assert.Equal(t, "b2", got[1].Preparations[0].Description)

	ok, err := s.MarkReminderSent(ctx, sooner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.ListDueCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "later", got[0].Title)
}

func TestPlanTaskStore_MarkReminderSentOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)

	task := newTask(t, "race", time.Now())
	require.NoError(t, s.CreatePlanTask(ctx, task))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkReminderSent(ctx, task.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	ok, err := s.MarkReminderSent(ctx, 424242)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlanTaskStore_UpdateKeepsLatchUntilReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)

	task := newTask(t, "deploy", time.Now(), "a", "b", "c")
	require.NoError(t, s.CreatePlanTask(ctx, task))
	_, err := s.MarkReminderSent(ctx, task.ID)
	require.NoError(t, err)

	task.Title = "deploy v2"
	task.ReminderSent = false
	task.SetPreparations([]domain.Preparation{{Description: "only"}})
	require.NoError(t, s.UpdatePlanTask(ctx, task))

	got, err := s.GetPlanTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy v2", got.Title)
	assert.True(t, got.ReminderSent, "plain update leaves the latch alone")
	require.Len(t, got.Preparations, 1)
	assert.Equal(t, 1, got.Preparations[0].OrderNo)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.PlanTaskStore) error {
		return tx.ResetReminderOnReschedule(ctx, task.ID)
	}))
	got, err = s.GetPlanTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.ReminderSent)

	missing := newTask(t, "ghost", time.Now())
	missing.ID = 777
	assert.ErrorIs(t, s.UpdatePlanTask(ctx, missing), store.ErrPlanTaskNotFound)
}

func TestPlanTaskStore_UpdatePersistsStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)

	task := newTask(t, "rotate certs", time.Now().Add(5*time.Minute))
	require.NoError(t, s.CreatePlanTask(ctx, task))

	task.Status = domain.PlanTaskStatusCompleted
	task.ResultStatus = "success"
	task.ResultNotes = "finished early"
	require.NoError(t, s.UpdatePlanTask(ctx, task))

	got, err := s.GetPlanTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanTaskStatusCompleted, got.Status)
	assert.Equal(t, "success", got.ResultStatus)
	assert.Equal(t, "finished early", got.ResultNotes)

	candidates, err := s.ListDueCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates, "a completed task is no longer a reminder candidate")
}

func TestStores_WrapWriteFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "opstrack.db"), nil)
	require.NoError(t, err)
	tasks := NewPlanTaskStore(db, nil)
	audits := NewAuditStore(db, nil)

	task := newTask(t, "deploy", time.Now())
	require.NoError(t, tasks.CreatePlanTask(ctx, task))
	require.NoError(t, Close(db))

	var storeErr *store.StoreError

	_, err = tasks.MarkReminderSent(ctx, task.ID)
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.EntityPlanTask, storeErr.Entity)
	assert.Equal(t, store.OpMarkSent, storeErr.Operation)

	err = audits.RecordAudit(ctx, domain.NewNotificationAudit(task, time.Now(), true, ""))
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.EntityAudit, storeErr.Entity)
	assert.Equal(t, store.OpRecordAudit, storeErr.Operation)
}

func TestPlanTaskStore_RunInTxRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)

	task := newTask(t, "deploy", time.Now())
	require.NoError(t, s.CreatePlanTask(ctx, task))
	_, err := s.MarkReminderSent(ctx, task.ID)
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.PlanTaskStore) error {
		if err := tx.ResetReminderOnReschedule(ctx, task.ID); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := s.GetPlanTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)
}

func TestPlanTaskStore_StatusAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	s := NewPlanTaskStore(db, nil)

	task := newTask(t, "deploy", time.Now(), "a")
	require.NoError(t, s.CreatePlanTask(ctx, task))

	finish := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	outcome, notes := "success", "done cleanly"
	require.NoError(t, s.UpdatePlanTaskStatus(ctx, task.ID, store.StatusChange{
		Status:       domain.PlanTaskStatusCompleted,
		ResultStatus: &outcome,
		ResultNotes:  &notes,
		ActualFinish: &finish,
	}))

	got, err := s.GetPlanTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanTaskStatusCompleted, got.Status)
	assert.Equal(t, "success", got.ResultStatus)
	require.NotNil(t, got.ActualFinish)
	assert.True(t, finish.Equal(*got.ActualFinish))
	assert.Nil(t, got.ActualStart)

	require.NoError(t, s.DeletePlanTask(ctx, task.ID))
	var preps int64
	require.NoError(t, db.Model(&preparationModel{}).Count(&preps).Error)
	assert.Zero(t, preps)

	assert.ErrorIs(t, s.DeletePlanTask(ctx, task.ID), store.ErrPlanTaskNotFound)
	assert.ErrorIs(t, s.UpdatePlanTaskStatus(ctx, task.ID, store.StatusChange{Status: domain.PlanTaskStatusCancelled}),
		store.ErrPlanTaskNotFound)
}

func TestPlanTaskStore_ListFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPlanTaskStore(openTestDB(t), nil)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := newTask(t, "Rotate TLS certs", base)
	a.Owner = "alice"
	a.TaskType = "security"
	b := newTask(t, "Patch database", base.Add(time.Hour))
	b.Owner = "dave"
	b.Responsible = []string{"bob", "alice"}
	c := newTask(t, "Restart cache", base.Add(2*time.Hour))
	c.Owner = "alicia"
	for _, task := range []*domain.PlanTask{a, b, c} {
		require.NoError(t, s.CreatePlanTask(ctx, task))
	}

	titles := func(filter store.PlanTaskFilter) []string {
		tasks, err := s.ListPlanTasks(ctx, filter)
		require.NoError(t, err)
		out := make([]string, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, task.Title)
		}
		return out
	}

	assert.Equal(t, []string{"Rotate TLS certs", "Patch database", "Restart cache"}, titles(store.PlanTaskFilter{}))
	assert.Equal(t, []string{"Rotate TLS certs", "Patch database"}, titles(store.PlanTaskFilter{Owner: "alice"}))
	assert.Equal(t, []string{"Rotate TLS certs"}, titles(store.PlanTaskFilter{TaskType: "security"}))
	assert.Equal(t, []string{"Patch database"}, titles(store.PlanTaskFilter{Keyword: "DATA"}))
	assert.Empty(t, titles(store.PlanTaskFilter{Status: domain.PlanTaskStatusCompleted}))
}

func TestAuditStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAuditStore(openTestDB(t), nil)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	task := &domain.PlanTask{ID: 1, Title: "Rotate certs"}
	first := domain.NewNotificationAudit(task, base, false, "send failed: timeout")
	second := domain.NewNotificationAudit(task, base.Add(time.Minute), true, "")
	other := domain.NewNotificationAudit(&domain.PlanTask{ID: 2, Title: "x"}, base.Add(2*time.Minute), true, "")
	for _, a := range []*domain.NotificationAudit{first, second, other} {
		require.NoError(t, s.RecordAudit(ctx, a))
	}

	all, err := s.ListAudits(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, other.ID, all[0].ID, "newest first")

	forTask, err := s.ListAudits(ctx, store.AuditFilter{TaskID: 1})
	require.NoError(t, err)
	require.Len(t, forTask, 2)
	assert.Equal(t, domain.AuditStatusSuccess, forTask[0].Status)
	assert.Equal(t, "send failed: timeout", forTask[1].ErrorMsg)

	since, err := s.ListAudits(ctx, store.AuditFilter{Since: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, other.ID, since[0].ID)

	assert.ErrorIs(t, s.RecordAudit(ctx, first), store.ErrDuplicate)
}
