package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
	"github.com/openmodqueue/openmodqueue/internal/transport"
)

// nowFn is swapped in tests to control time.
var nowFn = time.Now

// TaskStore is the persistence surface for queued notification tasks.
type TaskStore interface {
	InsertTask(ctx context.Context, t *models.NotificationTask) (bool, error)
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]models.NotificationTask, error)
	UpdateTask(ctx context.Context, t *models.NotificationTask) error
	CountPendingTasks(ctx context.Context) (int, error)
	ArchiveFinishedTasks(ctx context.Context, before time.Time) (int64, error)
}

// Options bound queue behavior.
type Options struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	MaxConcurrent int
	ClaimInterval time.Duration
	ArchiveAfter  time.Duration
	AdminTarget   string
}

// Queue is the durable outbound delivery queue. Every notification the
// pipeline produces passes through here: tasks are persisted first, then
// delivered asynchronously with capped exponential backoff. A task that
// exhausts its attempts is dead-lettered and surfaced to the admin target
// exactly once.
type Queue struct {
	store   TaskStore
	chat    transport.ChatTransport
	push    transport.PushClient
	opts    Options
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewQueue constructs a Queue.
func NewQueue(store TaskStore, chat transport.ChatTransport, push transport.PushClient, opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Minute
	}
	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = 2 * time.Second
	}
	if opts.ArchiveAfter <= 0 {
		opts.ArchiveAfter = 48 * time.Hour
	}
	return &Queue{
		store:    store,
		chat:     chat,
		push:     push,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		inFlight: make(map[string]bool),
	}
}

// Enqueue persists a task for asynchronous delivery. Re-enqueuing a task with
// the same (kind, submission, target) while one is still pending is a silent
// no-op. Returns whether a new task was created.
func (q *Queue) Enqueue(ctx context.Context, kind, submissionID, transportKind, target, payload string) (bool, error) {
	now := nowFn()
	task := &models.NotificationTask{
		ID:            uuid.New().String(),
		Kind:          kind,
		SubmissionID:  submissionID,
		Transport:     transportKind,
		Target:        target,
		Payload:       payload,
		NextAttemptAt: now,
		Status:        models.TaskPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := q.store.InsertTask(ctx, task)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	if !created {
		q.logger.Debug("duplicate task suppressed",
			zap.String("kind", kind),
			zap.String("dedupe_key", task.DedupeKey()))
		return false, nil
	}

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("kind", kind),
		zap.String("target", target))
	return true, nil
}

// Run drives the dispatch loop until the context is canceled. One claim pass
// per tick; delivery fans out up to MaxConcurrent workers.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.ClaimInterval)
	defer ticker.Stop()

	archiveTicker := time.NewTicker(q.opts.ArchiveAfter / 2)
	defer archiveTicker.Stop()

	q.logger.Info("notification queue started",
		zap.Int("max_attempts", q.opts.MaxAttempts),
		zap.Int("max_concurrent", q.opts.MaxConcurrent))

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("notification queue stopped")
			return
		case <-ticker.C:
			q.DispatchDue(ctx)
		case <-archiveTicker.C:
			q.archive(ctx)
		}
	}
}

// DispatchDue claims due tasks and delivers them concurrently, blocking until
// the batch resolves. Exposed so tests and the sweep can drive the queue
// without the ticker loop.
func (q *Queue) DispatchDue(ctx context.Context) {
	now := nowFn()
	tasks, err := q.store.ClaimDueTasks(ctx, now, q.opts.MaxConcurrent)
	if err != nil {
		q.logger.Error("claim due tasks", zap.Error(err))
		return
	}
	if depth, err := q.store.CountPendingTasks(ctx); err == nil {
		q.metrics.SetQueueDepth(depth)
		if depth > 0 && observability.ShouldSample(observability.GetSamplingRate()) {
			q.logger.Debug("pending notification tasks", zap.Int("depth", depth))
		}
	}
	if len(tasks) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range tasks {
		task := tasks[i]
		if !q.claim(task.ID) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer q.release(task.ID)
			q.deliver(ctx, &task)
		}()
	}
	wg.Wait()
}

// claim marks a task in flight; duplicate claims across overlapping ticks are
// rejected so a slow delivery is never raced by its own retry.
func (q *Queue) claim(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[id] {
		return false
	}
	q.inFlight[id] = true
	return true
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

func (q *Queue) deliver(ctx context.Context, task *models.NotificationTask) {
	err := q.send(ctx, task)
	now := nowFn()
	task.Attempts++
	task.UpdatedAt = now

	if err == nil {
		task.Status = models.TaskDelivered
		task.LastError = ""
		if uerr := q.store.UpdateTask(ctx, task); uerr != nil {
			q.logger.Error("mark task delivered", zap.Error(uerr), zap.String("task_id", task.ID))
		}
		q.metrics.IncrementDeliveries("delivered")
		q.logger.Debug("task delivered",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempts))
		return
	}

	task.LastError = err.Error()
	if task.Attempts >= q.opts.MaxAttempts {
		task.Status = models.TaskDead
		if uerr := q.store.UpdateTask(ctx, task); uerr != nil {
			q.logger.Error("mark task dead", zap.Error(uerr), zap.String("task_id", task.ID))
			return
		}
		q.metrics.IncrementDeliveries("dead")
		q.metrics.IncrementDeadLetters(task.Kind)
		q.logger.Error("task dead-lettered",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.String("target", task.Target),
			zap.Int("attempts", task.Attempts),
			zap.Error(err))
		q.alertDeadLetter(ctx, task)
		return
	}

	task.NextAttemptAt = now.Add(q.backoffFor(task.Attempts))
	if uerr := q.store.UpdateTask(ctx, task); uerr != nil {
		q.logger.Error("reschedule task", zap.Error(uerr), zap.String("task_id", task.ID))
		return
	}
	q.metrics.IncrementDeliveries("retried")
	q.logger.Warn("task delivery failed, retrying",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempts", task.Attempts),
		zap.Time("next_attempt_at", task.NextAttemptAt),
		zap.Error(err))
}

func (q *Queue) send(ctx context.Context, task *models.NotificationTask) error {
	switch task.Transport {
	case models.TransportChat:
		return q.chat.SendMessage(ctx, task.Target, task.Payload)
	case models.TransportPush:
		return q.push.Send(ctx, task.Target, task.Payload)
	default:
		return fmt.Errorf("unknown transport %q", task.Transport)
	}
}

// backoffFor returns the delay before the next attempt: base doubled per
// completed attempt, capped.
func (q *Queue) backoffFor(attempts int) time.Duration {
	d := q.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.opts.BackoffCap {
			return q.opts.BackoffCap
		}
	}
	if d > q.opts.BackoffCap {
		return q.opts.BackoffCap
	}
	return d
}

// alertDeadLetter notifies the admin target about a dead task. The alert goes
// through the queue itself, keyed to the dead task's identity, so repeated
// dead-letter handling of the same task cannot produce duplicate alerts.
func (q *Queue) alertDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if q.opts.AdminTarget == "" || task.Target == q.opts.AdminTarget {
		return
	}
	text := fmt.Sprintf("delivery failed permanently: kind=%s target=%s attempts=%d last_error=%s",
		task.Kind, task.Target, task.Attempts, task.LastError)
	if _, err := q.Enqueue(ctx, models.NotifyBroadcast, task.ID, models.TransportChat, q.opts.AdminTarget, text); err != nil {
		q.logger.Error("enqueue dead-letter alert", zap.Error(err), zap.String("task_id", task.ID))
	}
}

func (q *Queue) archive(ctx context.Context) {
	cutoff := nowFn().Add(-q.opts.ArchiveAfter)
	n, err := q.store.ArchiveFinishedTasks(ctx, cutoff)
	if err != nil {
		q.logger.Error("archive finished tasks", zap.Error(err))
		return
	}
	if n > 0 {
		q.logger.Info("archived finished tasks", zap.Int64("count", n))
	}
}
