package service

import (
	"context"

	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/notify"
	"github.com/opstrack/opstrack/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockPlanTaskStore mocks the store.PlanTaskStore interface.
// RunInTx passes the mock itself as the transactional store.
type MockPlanTaskStore struct {
	mock.Mock
}

func (m *MockPlanTaskStore) ListDueCandidates(ctx context.Context) ([]domain.PlanTask, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.PlanTask), args.Error(1)
}

func (m *MockPlanTaskStore) MarkReminderSent(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockPlanTaskStore) CreatePlanTask(ctx context.Context, task *domain.PlanTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockPlanTaskStore) GetPlanTask(ctx context.Context, id int64) (*domain.PlanTask, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlanTask), args.Error(1)
}

func (m *MockPlanTaskStore) ListPlanTasks(
	ctx context.Context,
	filter store.PlanTaskFilter,
) ([]domain.PlanTask, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PlanTask), args.Error(1)
}

func (m *MockPlanTaskStore) UpdatePlanTask(ctx context.Context, task *domain.PlanTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockPlanTaskStore) UpdatePlanTaskStatus(
	ctx context.Context,
	id int64,
	change store.StatusChange,
) error {
	args := m.Called(ctx, id, change)
	return args.Error(0)
}

func (m *MockPlanTaskStore) DeletePlanTask(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPlanTaskStore) ResetReminderOnReschedule(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPlanTaskStore) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context, tx store.PlanTaskStore) error,
) error {
	return fn(ctx, m)
}

// MockAuditStore mocks the store.AuditStore interface
type MockAuditStore struct {
	mock.Mock
}

func (m *MockAuditStore) RecordAudit(ctx context.Context, audit *domain.NotificationAudit) error {
	args := m.Called(ctx, audit)
	return args.Error(0)
}

func (m *MockAuditStore) ListAudits(
	ctx context.Context,
	filter store.AuditFilter,
) ([]domain.NotificationAudit, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.NotificationAudit), args.Error(1)
}

// MockNotifier mocks the Notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, url, text, title string) notify.Result {
	args := m.Called(ctx, url, text, title)
	return args.Get(0).(notify.Result)
}
