package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/store"
)

// DefaultAuditLimit caps ListAudits when the filter leaves Limit unset.
const DefaultAuditLimit = 100

// PostgresAuditStore implements store.AuditStore using PostgreSQL.
type PostgresAuditStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.AuditStore = (*PostgresAuditStore)(nil)

// NewPostgresAuditStore creates an audit store. If logger is nil,
// slog.Default() is used.
func NewPostgresAuditStore(db store.DBTX, logger *slog.Logger) *PostgresAuditStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditStore{
		db:     db,
		logger: logger.With(slog.String("component", "audit_store")),
	}
}

// RecordAudit implements store.AuditStore.
func (s *PostgresAuditStore) RecordAudit(ctx context.Context, audit *domain.NotificationAudit) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `INSERT INTO notification_audits (id, task_id, task_title, sent_at, status, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		audit.ID, audit.TaskID, audit.TaskTitle, audit.SentAt.UTC(), audit.Status, audit.ErrorMsg)
	if err != nil {
		log.Error("failed to record notification audit",
			slog.Int64("task_id", audit.TaskID),
			slog.String("status", string(audit.Status)),
			slog.String("error", err.Error()))
		return store.NewStoreError(store.EntityAudit, store.OpRecordAudit,
			"failed to record notification audit", MapError(err))
	}
	return nil
}

// ListAudits implements store.AuditStore.
func (s *PostgresAuditStore) ListAudits(
	ctx context.Context,
	filter store.AuditFilter,
) ([]domain.NotificationAudit, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		where []string
		args  []any
	)
	if filter.TaskID != 0 {
		args = append(args, filter.TaskID)
		where = append(where, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("sent_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	query := `SELECT id, task_id, task_title, sent_at, status, error_msg FROM notification_audits`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sent_at DESC, id ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list notification audits", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list notification audits: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	audits := []domain.NotificationAudit{}
	for rows.Next() {
		var a domain.NotificationAudit
		if err := rows.Scan(&a.ID, &a.TaskID, &a.TaskTitle, &a.SentAt, &a.Status, &a.ErrorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan notification audit: %w", err)
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification audits: %w", err)
	}
	return audits, nil
}
