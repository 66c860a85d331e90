package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opstrack/opstrack/internal/api/middleware"
	"github.com/opstrack/opstrack/internal/api/shared"
	"github.com/opstrack/opstrack/internal/config"
	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/notify"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/service"
	"github.com/opstrack/opstrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPlanTaskService implements service.PlanTaskService with function fields.
type mockPlanTaskService struct {
	CreatePlanTaskFn       func(ctx context.Context, in service.CreatePlanTaskInput) (*domain.PlanTask, error)
	GetPlanTaskFn          func(ctx context.Context, id int64) (*domain.PlanTask, error)
	ListPlanTasksFn        func(ctx context.Context, f store.PlanTaskFilter) ([]domain.PlanTask, error)
	UpdatePlanTaskFn       func(ctx context.Context, id int64, in service.UpdatePlanTaskInput) (*domain.PlanTask, error)
	ChangeStatusFn         func(ctx context.Context, id int64, in service.StatusChangeInput) (*domain.PlanTask, error)
	DeletePlanTaskFn       func(ctx context.Context, id int64) error
	SendTestNotificationFn func(ctx context.Context, in service.TestNotificationInput) notify.Result
	ListAuditsFn           func(ctx context.Context, f store.AuditFilter) ([]domain.NotificationAudit, error)
	RobotsFn               func() []config.AlertRobot
}

func (m *mockPlanTaskService) CreatePlanTask(ctx context.Context, in service.CreatePlanTaskInput) (*domain.PlanTask, error) {
	return m.CreatePlanTaskFn(ctx, in)
}

func (m *mockPlanTaskService) GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error) {
	return m.GetPlanTaskFn(ctx, id)
}

func (m *mockPlanTaskService) ListPlanTasks(ctx context.Context, f store.PlanTaskFilter) ([]domain.PlanTask, error) {
	return m.ListPlanTasksFn(ctx, f)
}

func (m *mockPlanTaskService) UpdatePlanTask(ctx context.Context, id int64, in service.UpdatePlanTaskInput) (*domain.PlanTask, error) {
	return m.UpdatePlanTaskFn(ctx, id, in)
}

func (m *mockPlanTaskService) ChangeStatus(ctx context.Context, id int64, in service.StatusChangeInput) (*domain.PlanTask, error) {
	return m.ChangeStatusFn(ctx, id, in)
}

func (m *mockPlanTaskService) DeletePlanTask(ctx context.Context, id int64) error {
	return m.DeletePlanTaskFn(ctx, id)
}

func (m *mockPlanTaskService) SendTestNotification(ctx context.Context, in service.TestNotificationInput) notify.Result {
	return m.SendTestNotificationFn(ctx, in)
}

func (m *mockPlanTaskService) ListAudits(ctx context.Context, f store.AuditFilter) ([]domain.NotificationAudit, error) {
	return m.ListAuditsFn(ctx, f)
}

func (m *mockPlanTaskService) Robots() []config.AlertRobot {
	return m.RobotsFn()
}

var (
	shanghai     = time.FixedZone("CST", 8*3600)
	testPlanTime = time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
)

func sampleTask() *domain.PlanTask {
	return &domain.PlanTask{
		ID:              7,
		Title:           "Backup",
		ScheduleType:    domain.ScheduleOnce,
		PlanTime:        testPlanTime,
		ReminderMinutes: 60,
		ReminderEnabled: true,
		Status:          domain.PlanTaskStatusPending,
		Preparations: []domain.Preparation{
			{ID: 1, TaskID: 7, Description: "snapshot", Status: domain.PreparationDone, OrderNo: 1},
		},
	}
}

func newTestRouter(t *testing.T, svc service.PlanTaskService) http.Handler {
	t.Helper()
	log, _ := logger.NewTestLogger(t)
	h := NewPlanTaskHandler(svc, shanghai, log)

	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	r.Route("/api", h.RegisterRoutes)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreatePlanTask_ParsesPlanTimeInLocation(t *testing.T) {
	t.Parallel()

	var got service.CreatePlanTaskInput
	svc := &mockPlanTaskService{
		CreatePlanTaskFn: func(_ context.Context, in service.CreatePlanTaskInput) (*domain.PlanTask, error) {
			got = in
			task := sampleTask()
			task.Title = in.Title
			return task, nil
		},
	}

	rec := doRequest(t, newTestRouter(t, svc), http.MethodPost, "/api/plan-tasks", map[string]interface{}{
		"title":            " Backup ",
		"plan_time":        "2024-03-01 09:00",
		"reminder_minutes": 60,
		"alert_robot":      "ops",
		"responsible":      []string{"bob"},
		"preparations":     []map[string]interface{}{{"description": "snapshot", "status": "done"}},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Backup", got.Title)
	assert.True(t, got.PlanTime.Equal(testPlanTime), "09:00 CST is 01:00 UTC")
	require.NotNil(t, got.ReminderMinutes)
	assert.Equal(t, 60, *got.ReminderMinutes)
	assert.Nil(t, got.ReminderEnabled)
	require.Len(t, got.Preparations, 1)
	assert.Equal(t, domain.PreparationDone, got.Preparations[0].Status)

	var resp PlanTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.Len(t, resp.Preparations, 1)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestCreatePlanTask_RequestErrors(t *testing.T) {
	t.Parallel()

	svc := &mockPlanTaskService{
		CreatePlanTaskFn: func(context.Context, service.CreatePlanTaskInput) (*domain.PlanTask, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	router := newTestRouter(t, svc)

	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{"malformed json", "{", "Invalid request format"},
		{"empty body", "", "Request body is required"},
		{"missing title", map[string]string{"plan_time": "2024-03-01 09:00"}, "Invalid Title: required field"},
		{"bad webhook", map[string]string{"title": "x", "plan_time": "2024-03-01 09:00", "webhook_url": "not a url"}, "Invalid WebhookURL: invalid URL"},
		{"bad schedule", map[string]string{"title": "x", "plan_time": "2024-03-01 09:00", "schedule_type": "yearly"}, "Invalid ScheduleType: invalid value"},
		{"bad plan time", map[string]string{"title": "x", "plan_time": "tomorrow"}, "Invalid plan_time format"},
		{"negative minutes", map[string]interface{}{"title": "x", "plan_time": "2024-03-01 09:00", "reminder_minutes": -1}, "Invalid ReminderMinutes: too small"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/plan-tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tc.message, resp.Error)
			assert.NotEmpty(t, resp.TraceID)
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", service.ErrPlanTaskNotFound, http.StatusNotFound, "Plan task not found"},
		{"domain validation", errors.Join(domain.ErrValidation, domain.ErrEmptyPlanTaskTitle), http.StatusBadRequest, "Plan task title cannot be empty"},
		{"unknown robot", service.ErrUnknownAlertRobot, http.StatusBadRequest, "Unknown alert robot"},
		{"internal", &service.PlanTaskServiceError{Operation: "get_plan_task", Message: "x", Err: errors.New("password=hunter22 leaked")}, http.StatusInternalServerError, "Failed to get plan task"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockPlanTaskService{
				GetPlanTaskFn: func(context.Context, int64) (*domain.PlanTask, error) { return nil, tc.err },
			}
			rec := doRequest(t, newTestRouter(t, svc), http.MethodGet, "/api/plan-tasks/7", nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.message, decodeError(t, rec).Error)
			assert.NotContains(t, rec.Body.String(), "hunter22")
		})
	}
}

func TestGetPlanTask_InvalidID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &mockPlanTaskService{})
	for _, path := range []string{"/api/plan-tasks/abc", "/api/plan-tasks/0", "/api/plan-tasks/-3"} {
		rec := doRequest(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "Invalid plan task ID", decodeError(t, rec).Error)
	}
}

func TestListPlanTasks_PassesFilter(t *testing.T) {
	t.Parallel()

	var got store.PlanTaskFilter
	svc := &mockPlanTaskService{
		ListPlanTasksFn: func(_ context.Context, f store.PlanTaskFilter) ([]domain.PlanTask, error) {
			got = f
			return []domain.PlanTask{*sampleTask()}, nil
		},
	}

	rec := doRequest(t, newTestRouter(t, svc), http.MethodGet,
		"/api/plan-tasks?status=pending&owner=alice&keyword=back&task_type=db", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.PlanTaskFilter{
		Status: domain.PlanTaskStatusPending, Owner: "alice", Keyword: "back", TaskType: "db",
	}, got)

	var resp PlanTaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Empty(t, resp.Items[0].Preparations)
	assert.Equal(t, []string{}, resp.Items[0].Responsible)
}

func TestUpdatePlanTask_PartialPayload(t *testing.T) {
	t.Parallel()

	var got service.UpdatePlanTaskInput
	svc := &mockPlanTaskService{
		UpdatePlanTaskFn: func(_ context.Context, id int64, in service.UpdatePlanTaskInput) (*domain.PlanTask, error) {
			assert.Equal(t, int64(7), id)
			got = in
			return sampleTask(), nil
		},
	}

	rec := doRequest(t, newTestRouter(t, svc), http.MethodPut, "/api/plan-tasks/7", map[string]interface{}{
		"plan_time":    "2024-03-01T10:30:00Z",
		"status":       "in_progress",
		"preparations": []map[string]string{},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, got.PlanTime)
	assert.True(t, got.PlanTime.Equal(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
	require.NotNil(t, got.Status)
	assert.Equal(t, domain.PlanTaskStatusInProgress, *got.Status)
	require.NotNil(t, got.Preparations)
	assert.Empty(t, *got.Preparations)
	assert.Nil(t, got.Title)
	assert.Nil(t, got.ReminderMinutes)
	assert.Nil(t, got.WebhookURL)
}

func TestUpdatePlanTask_InvalidStatus(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, newTestRouter(t, &mockPlanTaskService{}), http.MethodPut, "/api/plan-tasks/7",
		map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid Status: invalid value", decodeError(t, rec).Error)
}

func TestChangeStatus(t *testing.T) {
	t.Parallel()

	svc := &mockPlanTaskService{
		ChangeStatusFn: func(_ context.Context, _ int64, in service.StatusChangeInput) (*domain.PlanTask, error) {
			if in.Action != service.ActionComplete {
				return nil, service.ErrInvalidStatusAction
			}
			task := sampleTask()
			task.Status = domain.PlanTaskStatusCompleted
			task.ResultStatus = *in.ResultStatus
			return task, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doRequest(t, router, http.MethodPost, "/api/plan-tasks/7/status",
		map[string]string{"action": "complete", "result_status": "partial"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PlanTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "partial", resp.ResultStatus)

	rec = doRequest(t, router, http.MethodPost, "/api/plan-tasks/7/status", map[string]string{"action": "pause"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "start, complete, cancel")

	rec = doRequest(t, router, http.MethodPost, "/api/plan-tasks/7/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid Action: required field", decodeError(t, rec).Error)
}

func TestDeletePlanTask(t *testing.T) {
	t.Parallel()

	svc := &mockPlanTaskService{
		DeletePlanTaskFn: func(_ context.Context, id int64) error {
			if id == 7 {
				return nil
			}
			return service.ErrPlanTaskNotFound
		},
	}
	router := newTestRouter(t, svc)

	assert.Equal(t, http.StatusNoContent, doRequest(t, router, http.MethodDelete, "/api/plan-tasks/7", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodDelete, "/api/plan-tasks/8", nil).Code)
}

func TestSendTestNotification(t *testing.T) {
	t.Parallel()

	var got service.TestNotificationInput
	svc := &mockPlanTaskService{
		SendTestNotificationFn: func(_ context.Context, in service.TestNotificationInput) notify.Result {
			got = in
			return notify.Result{
				Message: "send failed: Post \"https://hooks.example.com/robot/send?access_token=abcdefghijklmnop\": timeout",
				Err:     notify.ErrTransport,
			}
		},
	}

	rec := doRequest(t, newTestRouter(t, svc), http.MethodPost, "/api/plan-tasks/test-notification",
		map[string]interface{}{
			"webhook_url": "https://hooks.example.com/robot/send?access_token=abcdefghijklmnop",
			"title":       "Backup",
			"preparations": []map[string]string{
				{"description": "snapshot", "status": "done"},
				{"description": "verify", "status": "not_started"},
			},
		})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TestNotificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Delivered)
	assert.Contains(t, resp.Message, "send failed")
	assert.NotContains(t, resp.Message, "abcdefghijklmnop")

	require.Len(t, got.Preparations, 2)
	assert.True(t, got.Preparations[0].Done)
	assert.False(t, got.Preparations[1].Done)
	assert.Equal(t, "Backup", got.Title)
}

func TestListAudits(t *testing.T) {
	t.Parallel()

	var got store.AuditFilter
	svc := &mockPlanTaskService{
		ListAuditsFn: func(_ context.Context, f store.AuditFilter) ([]domain.NotificationAudit, error) {
			got = f
			task := sampleTask()
			return []domain.NotificationAudit{*domain.NewNotificationAudit(task, testPlanTime, false, "remote rejected: bad token")}, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doRequest(t, router, http.MethodGet, "/api/notification-audits?task_id=7&limit=5&since=2024-03-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), got.TaskID)
	assert.Equal(t, 5, got.Limit)
	assert.True(t, got.Since.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

	var resp []AuditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "failed", resp[0].Status)
	assert.Equal(t, "remote rejected: bad token", resp[0].ErrorMsg)

	rec = doRequest(t, router, http.MethodGet, "/api/notification-audits?task_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRobots_RedactsTokens(t *testing.T) {
	t.Parallel()

	svc := &mockPlanTaskService{
		RobotsFn: func() []config.AlertRobot {
			return []config.AlertRobot{{Name: "ops", Webhook: "https://hooks.example.com/robot/send?access_token=abcdefghijklmnop"}}
		},
	}

	rec := doRequest(t, newTestRouter(t, svc), http.MethodGet, "/api/alert-robots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []RobotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "ops", resp[0].Name)
	assert.NotContains(t, resp[0].Webhook, "abcdefghijklmnop")
	assert.Contains(t, resp[0].Webhook, "hooks.example.com")
}
