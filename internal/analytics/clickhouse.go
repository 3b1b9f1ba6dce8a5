package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Service defines the interface for pipeline analytics. Implementations
// should handle cases where underlying storage is unavailable by returning
// ErrUnavailable.
type Service interface {
	// RecordEvent records a pipeline event row.
	RecordEvent(ctx context.Context, eventType, submissionID, channelID string, authorID, views int64, detail string) error
	// RecordPublication is a convenience wrapper for publication events.
	RecordPublication(ctx context.Context, submissionID, channelID string, authorID int64) error
	// RecordDecision is a convenience wrapper for review decision events.
	RecordDecision(ctx context.Context, submissionID, decision string, reviewerID int64) error
	// RecordView records an estimated view count observation for a
	// (submission, channel) publication.
	RecordView(ctx context.Context, submissionID, channelID string, views int64) error
	// EstimateViews returns the best known view count for a publication.
	EstimateViews(ctx context.Context, submissionID, channelID string) (int64, error)
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// EventRecord mirrors a row in the events table.
type EventRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	EventType    string    `json:"event_type"`
	SubmissionID string    `json:"submission_id"`
	ChannelID    *string   `json:"channel_id"`
	AuthorID     *int64    `json:"author_id"`
	Views        *int64    `json:"views"`
	Detail       *string   `json:"detail"`
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns int, metrics observability.MetricsRegistry) (*Analytics, error) {
	chdb, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	chdb.SetMaxOpenConns(maxOpenConns)
	if err := chdb.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS events (
       timestamp     DateTime,
       event_type    String,
       submission_id String,
       channel_id    Nullable(String),
       author_id     Nullable(Int64),
       views         Nullable(Int64),
       detail        Nullable(String)
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`
	if _, err := chdb.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: chdb, Metrics: metrics}, nil
}

// RecordEvent inserts a single event row into the events table.
func (a *Analytics) RecordEvent(ctx context.Context, eventType, submissionID, channelID string, authorID, views int64, detail string) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}

	var ch sql.NullString
	if channelID != "" {
		ch.String = channelID
		ch.Valid = true
	}
	var au sql.NullInt64
	if authorID != 0 {
		au.Int64 = authorID
		au.Valid = true
	}
	var vw sql.NullInt64
	if views > 0 {
		vw.Int64 = views
		vw.Valid = true
	}
	var dt sql.NullString
	if detail != "" {
		dt.String = detail
		dt.Valid = true
	}

	stmt := `INSERT INTO events (timestamp, event_type, submission_id, channel_id, author_id, views, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, time.Now(), eventType, submissionID, ch, au, vw, dt); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", eventType))
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

// RecordPublication is a convenience wrapper for publication events.
func (a *Analytics) RecordPublication(ctx context.Context, submissionID, channelID string, authorID int64) error {
	return a.RecordEvent(ctx, "publication", submissionID, channelID, authorID, 0, "")
}

// RecordDecision is a convenience wrapper for review decision events.
func (a *Analytics) RecordDecision(ctx context.Context, submissionID, decision string, reviewerID int64) error {
	return a.RecordEvent(ctx, "decision", submissionID, "", reviewerID, 0, decision)
}

// RecordView records an estimated view count observation.
func (a *Analytics) RecordView(ctx context.Context, submissionID, channelID string, views int64) error {
	return a.RecordEvent(ctx, "view", submissionID, channelID, 0, views, "")
}

// EstimateViews returns the highest view observation recorded for the
// publication, zero when none exists.
func (a *Analytics) EstimateViews(ctx context.Context, submissionID, channelID string) (int64, error) {
	if a == nil || a.DB == nil {
		return 0, ErrUnavailable
	}
	var views sql.NullInt64
	err := a.DB.QueryRowContext(ctx,
		`SELECT max(views) FROM events WHERE event_type='view' AND submission_id=? AND channel_id=?`,
		submissionID, channelID).Scan(&views)
	if err != nil {
		return 0, fmt.Errorf("query views: %w", err)
	}
	if !views.Valid {
		return 0, nil
	}
	return views.Int64, nil
}

// GetEventsBySubmission returns all events for a submission ordered by time.
func (a *Analytics) GetEventsBySubmission(ctx context.Context, submissionID string) ([]EventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	rows, err := a.DB.QueryContext(ctx,
		`SELECT timestamp, event_type, submission_id, channel_id, author_id, views, detail FROM events WHERE submission_id=? ORDER BY timestamp`,
		submissionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.SubmissionID, &ev.ChannelID, &ev.AuthorID, &ev.Views, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
