package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opstrack/opstrack/internal/domain"
	"github.com/opstrack/opstrack/internal/notify"
	"github.com/opstrack/opstrack/internal/platform/logger"
	"github.com/opstrack/opstrack/internal/redact"
	"github.com/opstrack/opstrack/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("reminder scheduler already started")

// Sender delivers one rendered reminder. notify.WebhookDispatcher is the
// production implementation.
type Sender interface {
	Send(ctx context.Context, url, text, title string) notify.Result
}

// Config holds the scheduler settings.
type Config struct {
	// PollInterval is the time between cycles.
	PollInterval time.Duration

	// GracePeriod is how long after PlanTime a reminder may still fire.
	GracePeriod time.Duration

	// Concurrency bounds the dispatches in flight within one cycle.
	// 1 processes candidates sequentially.
	Concurrency int

	// Location is the zone plan times are rendered in.
	Location *time.Location

	// DefaultTemplate is used for tasks without a reminder message. Empty
	// means the built-in template.
	DefaultTemplate string
}

// DefaultConfig returns a Config with the standard settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 60 * time.Second,
		GracePeriod:  time.Hour,
		Concurrency:  1,
		Location:     time.Local,
	}
}

// CycleStats summarizes one Poll.
type CycleStats struct {
	Candidates int
	Due        int
	Sent       int
	Failed     int
	// NoWebhook counts due tasks latched without a dispatch.
	NoWebhook int
	Skipped   int
	// Errors counts candidates abandoned on a store error or panic.
	Errors int
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeNoWebhook
	outcomeError
)

// Scheduler polls for due plan tasks and dispatches their reminders.
type Scheduler struct {
	tasks  store.ReminderStore
	audits store.AuditStore
	sender Sender
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler. Zero config fields take their defaults.
func NewScheduler(
	tasks store.ReminderStore,
	audits store.AuditStore,
	sender Sender,
	config Config,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.GracePeriod < 0 {
		config.GracePeriod = def.GracePeriod
	}
	if config.Concurrency < 1 {
		config.Concurrency = def.Concurrency
	}
	if config.Location == nil {
		config.Location = def.Location
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		tasks:  tasks,
		audits: audits,
		sender: sender,
		config: config,
		logger: logger.With(slog.String("component", "reminder_scheduler")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the polling loop. The first cycle runs immediately.
// Start may succeed at most once per Scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
// It is safe to call more than once, or without Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one reminder cycle. It never fails: every problem is logged,
// and per-task failures are also audited.
func (s *Scheduler) Poll(ctx context.Context) CycleStats {
	start := time.Now()
	log := s.logger.With(slog.String("cycle_id", uuid.NewString()))
	ctx = logger.WithLogger(ctx, log)

	var stats CycleStats
	candidates, err := s.tasks.ListDueCandidates(ctx)
	if err != nil {
		log.Error("failed to load reminder candidates, skipping cycle",
			slog.String("error", redact.Error(err)))
		return stats
	}
	stats.Candidates = len(candidates)

	now := s.now()
	var sent, failed, noWebhook, skipped, errs atomic.Int32

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		task := &candidates[i]
		g.Go(func() error {
			switch s.processCandidate(ctx, task, now) {
			case outcomeSent:
				sent.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeNoWebhook:
				noWebhook.Add(1)
			case outcomeError:
				errs.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Sent = int(sent.Load())
	stats.Failed = int(failed.Load())
	stats.NoWebhook = int(noWebhook.Load())
	stats.Errors = int(errs.Load())
	stats.Skipped = int(skipped.Load())
	stats.Due = stats.Sent + stats.Failed + stats.NoWebhook + stats.Errors

	level := slog.LevelDebug
	if stats.Due > 0 {
		level = slog.LevelInfo
	}
	log.Log(ctx, level, "reminder cycle completed",
		slog.Int("candidates", stats.Candidates),
		slog.Int("due", stats.Due),
		slog.Int("sent", stats.Sent),
		slog.Int("failed", stats.Failed),
		slog.Int("no_webhook", stats.NoWebhook),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return stats
}

func (s *Scheduler) processCandidate(ctx context.Context, task *domain.PlanTask, now time.Time) (result outcome) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.Int64("task_id", task.ID),
		slog.String("title", task.Title))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing reminder", slog.String("panic", fmt.Sprint(r)))
			result = outcomeError
		}
	}()

	if !task.Eligible() || !task.ReminderDue(now, s.config.GracePeriod) {
		return outcomeSkipped
	}

	if strings.TrimSpace(task.WebhookURL) == "" {
		if _, err := s.tasks.MarkReminderSent(ctx, task.ID); err != nil {
			log.Error("failed to latch reminder without webhook", slog.String("error", redact.Error(err)))
			return outcomeError
		}
		log.Info("reminder due but no webhook configured, marked as sent")
		return outcomeNoWebhook
	}

	tmpl := task.ReminderMessage
	if strings.TrimSpace(tmpl) == "" {
		tmpl = s.config.DefaultTemplate
	}
	msg := notify.Render(tmpl, notify.MessageDataFromTask(task, s.config.Location))

	res := s.sender.Send(ctx, task.WebhookURL, msg.Text, msg.Title)
	if !res.Delivered {
		log.Warn("reminder dispatch failed, will retry next cycle",
			slog.String("webhook", redact.WebhookURL(task.WebhookURL)),
			slog.String("reason", res.Message))
		s.recordAudit(ctx, log, task, false, res.Message)
		return outcomeFailed
	}

	latched, err := s.tasks.MarkReminderSent(ctx, task.ID)
	switch {
	case err != nil:
		log.Error("reminder delivered but latch update failed",
			slog.String("error", redact.Error(err)))
	case !latched:
		log.Warn("reminder delivered but latch was already set by another writer")
	default:
		log.Info("reminder delivered")
	}
	s.recordAudit(ctx, log, task, true, "")
	return outcomeSent
}

func (s *Scheduler) recordAudit(ctx context.Context, log *slog.Logger, task *domain.PlanTask, delivered bool, msg string) {
	audit := domain.NewNotificationAudit(task, s.now(), delivered, redact.String(msg))
	if err := s.audits.RecordAudit(ctx, audit); err != nil {
		log.Error("failed to record notification audit",
			slog.String("status", string(audit.Status)),
			slog.String("error", redact.Error(err)))
	}
}
