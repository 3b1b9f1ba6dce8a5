// Package reporting generates the periodic operational status report. It
// combines pipeline state counts from Postgres with event activity from
// ClickHouse and sends the result to the admin target through the
// notification queue.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// PipelineStats is one snapshot of queue health.
type PipelineStats struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	StateCounts     map[string]int `json:"state_counts"`    // submissions per lifecycle state
	PendingTasks    int            `json:"pending_tasks"`   // notification tasks awaiting delivery
	DeadTasks       int            `json:"dead_tasks"`      // dead-lettered notification tasks
	DailyDecisions  []DecisionRate `json:"daily_decisions"` // decision volume in the window
	EnabledChannels int            `json:"enabled_channels"`
}

// DecisionRate is the number of decisions of one kind in the window.
type DecisionRate struct {
	Decision string `json:"decision"`
	Count    int64  `json:"count"`
}

// StatsStore provides the Postgres-side counters.
type StatsStore interface {
	CountSubmissionsByState(ctx context.Context) (map[string]int, error)
	CountPendingTasks(ctx context.Context) (int, error)
	CountDeadTasks(ctx context.Context) (int, error)
}

// ChannelCounter reports the enabled publication targets.
type ChannelCounter interface {
	EnabledChannels(ctx context.Context) ([]models.ChannelTarget, error)
}

// Notifier enqueues the rendered report.
type Notifier interface {
	Enqueue(ctx context.Context, kind, submissionID, transport, target, payload string) (bool, error)
}

// Reporter assembles and delivers the status report.
type Reporter struct {
	store       StatsStore
	events      *sql.DB // ClickHouse; nil disables event breakdowns
	channels    ChannelCounter
	notifier    Notifier
	adminTarget string
	interval    time.Duration
	logger      *zap.Logger
}

// NewReporter constructs a Reporter. events may be nil when ClickHouse is not
// configured; the report then carries Postgres counters only.
func NewReporter(store StatsStore, events *sql.DB, channels ChannelCounter, notifier Notifier, adminTarget string, interval time.Duration, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Reporter{
		store:       store,
		events:      events,
		channels:    channels,
		notifier:    notifier,
		adminTarget: adminTarget,
		interval:    interval,
		logger:      logger,
	}
}

// Run emits a report per interval until the context is canceled.
func (r *Reporter) Run(ctx context.Context) {
	if r.adminTarget == "" {
		r.logger.Info("status reporting disabled, no admin target configured")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				r.logger.Error("status report failed", zap.Error(err))
			}
		}
	}
}

// Report gathers a snapshot and enqueues it for the admin target.
func (r *Reporter) Report(ctx context.Context) error {
	stats, err := r.Gather(ctx)
	if err != nil {
		return err
	}
	// Key the dedupe to the report day so a retried sweep cannot double-send,
	// but tomorrow's report is a fresh task.
	dedupe := "status-" + stats.GeneratedAt.Format("2006-01-02")
	if _, err := r.notifier.Enqueue(ctx, models.NotifyBroadcast, dedupe, models.TransportChat, r.adminTarget, Render(stats)); err != nil {
		return fmt.Errorf("enqueue status report: %w", err)
	}
	return nil
}

// Gather collects the current pipeline statistics.
func (r *Reporter) Gather(ctx context.Context) (*PipelineStats, error) {
	stats := &PipelineStats{GeneratedAt: time.Now()}

	var err error
	stats.StateCounts, err = r.store.CountSubmissionsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	stats.PendingTasks, err = r.store.CountPendingTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending tasks: %w", err)
	}
	stats.DeadTasks, err = r.store.CountDeadTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead tasks: %w", err)
	}

	if r.channels != nil {
		if enabled, err := r.channels.EnabledChannels(ctx); err == nil {
			stats.EnabledChannels = len(enabled)
		}
	}

	if r.events != nil {
		if stats.DailyDecisions, err = r.decisionRates(ctx); err != nil {
			r.logger.Warn("decision breakdown unavailable", zap.Error(err))
		}
	}
	return stats, nil
}

// decisionRates queries ClickHouse for decision volume over the last day.
func (r *Reporter) decisionRates(ctx context.Context) ([]DecisionRate, error) {
	query := `
		SELECT
			assumeNotNull(detail) as decision,
			count() as total
		FROM events
		WHERE event_type = 'decision'
			AND timestamp >= now() - INTERVAL 1 DAY
		GROUP BY decision
		ORDER BY total DESC`

	rows, err := r.events.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query decision rates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var rates []DecisionRate
	for rows.Next() {
		var dr DecisionRate
		if err := rows.Scan(&dr.Decision, &dr.Count); err != nil {
			return nil, fmt.Errorf("scan decision rate: %w", err)
		}
		rates = append(rates, dr)
	}
	return rates, rows.Err()
}

// Render formats a stats snapshot as the chat message sent to admins.
func Render(stats *PipelineStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline status %s\n", stats.GeneratedAt.Format("2006-01-02 15:04"))

	order := []string{
		models.StatePendingReview, models.StateNeedsContact, models.StatePublishing,
		models.StatePublished, models.StateFeedbackScheduled, models.StateFeedbackSent,
		models.StateRejected, models.StateClosed,
	}
	for _, state := range order {
		if n, ok := stats.StateCounts[state]; ok && n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", state, n)
		}
	}
	fmt.Fprintf(&b, "notifications pending=%d dead=%d\n", stats.PendingTasks, stats.DeadTasks)
	fmt.Fprintf(&b, "enabled channels: %d\n", stats.EnabledChannels)
	if len(stats.DailyDecisions) > 0 {
		b.WriteString("decisions last 24h:")
		for _, dr := range stats.DailyDecisions {
			fmt.Fprintf(&b, " %s=%d", dr.Decision, dr.Count)
		}
		b.WriteString("\n")
	}
	return b.String()
}
