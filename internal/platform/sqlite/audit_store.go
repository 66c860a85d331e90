package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/store"
	"gorm.io/gorm"
)

// DefaultAuditLimit caps ListAudits when the filter leaves Limit unset.
const DefaultAuditLimit = 100

// AuditStore implements store.AuditStore with gorm.
type AuditStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ store.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an audit store. If logger is nil, slog.Default() is used.
func NewAuditStore(db *gorm.DB, logger *slog.Logger) *AuditStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditStore{db: db, logger: logger.With(slog.String("component", "audit_store"))}
}

// RecordAudit implements store.AuditStore.
func (s *AuditStore) RecordAudit(ctx context.Context, audit *domain.NotificationAudit) error {
	m := toAuditModel(audit)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to record notification audit",
			slog.Int64("task_id", audit.TaskID),
			slog.String("error", err.Error()))
		return store.NewStoreError(store.EntityAudit, store.OpRecordAudit,
			"failed to record notification audit", mapError(err))
	}
	return nil
}

// ListAudits implements store.AuditStore.
func (s *AuditStore) ListAudits(ctx context.Context, filter store.AuditFilter) ([]domain.NotificationAudit, error) {
	q := s.db.WithContext(ctx).Model(&auditModel{})
	if filter.TaskID != 0 {
		q = q.Where("task_id = ?", filter.TaskID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("sent_at >= ?", filter.Since.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	var models []auditModel
	if err := q.Order("sent_at DESC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list notification audits: %w", mapError(err))
	}

	out := make([]domain.NotificationAudit, 0, len(models))
	for _, m := range models {
		a, err := m.toDomain()
		if err != nil {
			return nil, fmt.Errorf("corrupt audit id %q: %w", m.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}
