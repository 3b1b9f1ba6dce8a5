package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS submissions (
    id TEXT PRIMARY KEY,
    author_id BIGINT NOT NULL,
    kind TEXT NOT NULL,
    media JSONB,
    body TEXT,
    tags JSONB,
    anonymous BOOLEAN NOT NULL DEFAULT FALSE,
    state TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    publications JSONB,
    publish_failures JSONB,
    view_counts JSONB,
    archived BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS review_decisions (
    id SERIAL PRIMARY KEY,
    submission_id TEXT NOT NULL REFERENCES submissions(id),
    reviewer_id BIGINT NOT NULL,
    decision TEXT NOT NULL,
    reason TEXT,
    tags JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS channel_targets (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    origin TEXT NOT NULL DEFAULT 'custom',
    audience_size BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ban_records (
    user_id BIGINT PRIMARY KEY,
    strikes INT NOT NULL DEFAULT 0,
    kind TEXT NOT NULL DEFAULT 'none',
    expires_at TIMESTAMPTZ,
    strike_times JSONB,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notification_tasks (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    submission_id TEXT,
    transport TEXT NOT NULL,
    target TEXT NOT NULL,
    payload TEXT NOT NULL,
    attempts INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS feedback_reports (
    id SERIAL PRIMARY KEY,
    submission_id TEXT NOT NULL UNIQUE REFERENCES submissions(id),
    channel_id TEXT NOT NULL,
    views BIGINT NOT NULL,
    audience BIGINT NOT NULL,
    grade TEXT NOT NULL,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Duplicate suppression: at most one pending task per (kind, submission, target).
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_dedupe
    ON notification_tasks (kind, COALESCE(submission_id, ''), target)
    WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_tasks_due ON notification_tasks (next_attempt_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions (state) WHERE NOT archived;
CREATE INDEX IF NOT EXISTS idx_submissions_author ON submissions (author_id);
CREATE INDEX IF NOT EXISTS idx_decisions_submission ON review_decisions (submission_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ===== Submissions =====

// InsertSubmission persists a new submission row.
func (p *Postgres) InsertSubmission(ctx context.Context, s *models.Submission) error {
	media, err := json.Marshal(s.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = p.DB.ExecContext(ctx,
		`INSERT INTO submissions (id, author_id, kind, media, body, tags, anonymous, state, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.AuthorID, s.Kind, media, s.Text, tags, s.Anonymous, s.State, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission by ID. Returns models.ErrNotFound when
// no row exists.
func (p *Postgres) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	row := p.DB.QueryRowContext(ctx,
		`SELECT id, author_id, kind, media, body, tags, anonymous, state, created_at, publications, publish_failures, view_counts, archived FROM submissions WHERE id=$1`, id)
	return scanSubmission(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var s models.Submission
	var media, tags, pubs, fails, views sql.NullString
	var body sql.NullString
	err := row.Scan(&s.ID, &s.AuthorID, &s.Kind, &media, &body, &tags, &s.Anonymous, &s.State, &s.CreatedAt, &pubs, &fails, &views, &s.Archived)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	if body.Valid {
		s.Text = body.String
	}
	if media.Valid {
		if err := json.Unmarshal([]byte(media.String), &s.Media); err != nil {
			return nil, fmt.Errorf("parse media: %w", err)
		}
	}
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &s.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if pubs.Valid {
		if err := json.Unmarshal([]byte(pubs.String), &s.Publications); err != nil {
			return nil, fmt.Errorf("parse publications: %w", err)
		}
	}
	if fails.Valid {
		if err := json.Unmarshal([]byte(fails.String), &s.PublishFailures); err != nil {
			return nil, fmt.Errorf("parse publish_failures: %w", err)
		}
	}
	if views.Valid {
		if err := json.Unmarshal([]byte(views.String), &s.ViewCounts); err != nil {
			return nil, fmt.Errorf("parse view_counts: %w", err)
		}
	}
	return &s, nil
}

// UpdateSubmissionState performs a guarded state transition: the row moves to
// `to` only when it is still in `from`. The returned bool reports whether the
// transition was applied, which lets concurrent deciders detect a lost race.
func (p *Postgres) UpdateSubmissionState(ctx context.Context, id, from, to string) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE submissions SET state=$3 WHERE id=$1 AND state=$2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update submission state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// RecordPublication stores the publication timestamp for one channel. The
// timestamp is only written once; an existing entry for the channel wins.
// The merge happens inside a single UPDATE so concurrent recordings for
// different channels of the same submission cannot clobber each other.
func (p *Postgres) RecordPublication(ctx context.Context, id, channelID string, ts time.Time) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE submissions
		 SET publications = COALESCE(publications, '{}'::jsonb) || jsonb_build_object($2::text, to_jsonb($3::timestamptz))
		 WHERE id=$1 AND NOT COALESCE(publications, '{}'::jsonb) ? $2`,
		id, channelID, ts)
	if err != nil {
		return fmt.Errorf("record publication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Either the entry already exists, which is fine, or the submission
		// row is missing, which is not.
		var one int
		err := p.DB.QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE id=$1`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check submission: %w", err)
		}
	}
	return nil
}

// RecordPublishFailure bumps the failed attempt count for one channel inside
// a single UPDATE and returns the new count.
func (p *Postgres) RecordPublishFailure(ctx context.Context, id, channelID string) (int, error) {
	var count string
	err := p.DB.QueryRowContext(ctx,
		`UPDATE submissions
		 SET publish_failures = jsonb_set(
		     COALESCE(publish_failures, '{}'::jsonb),
		     ARRAY[$2::text],
		     to_jsonb(COALESCE((publish_failures->>$2)::int, 0) + 1))
		 WHERE id=$1
		 RETURNING publish_failures->>$2`,
		id, channelID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record publish failure: %w", err)
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return 0, fmt.Errorf("parse attempt count: %w", err)
	}
	return n, nil
}

// ListPublishing returns non-archived submissions still in the publishing
// state, oldest first. The publish retry sweep re-dispatches these.
func (p *Postgres) ListPublishing(ctx context.Context) ([]models.Submission, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, author_id, kind, media, body, tags, anonymous, state, created_at, publications, publish_failures, view_counts, archived
		 FROM submissions WHERE state=$1 AND NOT archived ORDER BY created_at`, models.StatePublishing)
	if err != nil {
		return nil, fmt.Errorf("query publishing submissions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var stuck []models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		stuck = append(stuck, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return stuck, nil
}

// RecordViewCount stores the latest view count observation for one channel.
// The merge is a single UPDATE, so observations for different channels of
// the same submission cannot clobber each other.
func (p *Postgres) RecordViewCount(ctx context.Context, id, channelID string, views int64) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE submissions
		 SET view_counts = COALESCE(view_counts, '{}'::jsonb) || jsonb_build_object($2::text, to_jsonb($3::bigint))
		 WHERE id=$1`, id, channelID, views)
	if err != nil {
		return fmt.Errorf("record view count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ArchiveSubmission marks a submission archived. Rows are never deleted.
func (p *Postgres) ArchiveSubmission(ctx context.Context, id string) error {
	if _, err := p.DB.ExecContext(ctx,
		`UPDATE submissions SET archived=TRUE WHERE id=$1`, id); err != nil {
		return fmt.Errorf("archive submission: %w", err)
	}
	return nil
}

// ListFeedbackDue returns published submissions whose earliest publication is
// at or before the cutoff and which have no feedback report yet.
func (p *Postgres) ListFeedbackDue(ctx context.Context, cutoff time.Time) ([]models.Submission, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT s.id, s.author_id, s.kind, s.media, s.body, s.tags, s.anonymous, s.state, s.created_at, s.publications, s.publish_failures, s.view_counts, s.archived
		 FROM submissions s
		 LEFT JOIN feedback_reports fr ON fr.submission_id = s.id
		 WHERE s.state = $1 AND fr.id IS NULL AND NOT s.archived`, models.StatePublished)
	if err != nil {
		return nil, fmt.Errorf("query feedback due: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var due []models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		// Earliest-publication filtering happens here rather than in SQL:
		// publications is a JSONB map keyed by channel ID.
		earliest := s.EarliestPublication()
		if earliest.IsZero() || earliest.After(cutoff) {
			continue
		}
		due = append(due, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return due, nil
}

// CountSubmissionsByState returns the number of non-archived submissions per state.
func (p *Postgres) CountSubmissionsByState(ctx context.Context) (map[string]int, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM submissions WHERE NOT archived GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ===== Review decisions =====

// InsertDecision persists a reviewer decision. Decisions are append-only.
func (p *Postgres) InsertDecision(ctx context.Context, d *models.ReviewDecision) error {
	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	err = p.DB.QueryRowContext(ctx,
		`INSERT INTO review_decisions (submission_id, reviewer_id, decision, reason, tags, created_at) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		d.SubmissionID, d.ReviewerID, d.Decision, d.Reason, tags, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns all decisions recorded for a submission, oldest first.
func (p *Postgres) ListDecisions(ctx context.Context, submissionID string) ([]models.ReviewDecision, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, submission_id, reviewer_id, decision, reason, tags, created_at FROM review_decisions WHERE submission_id=$1 ORDER BY created_at`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.ReviewDecision
	for rows.Next() {
		var d models.ReviewDecision
		var reason, tags sql.NullString
		if err := rows.Scan(&d.ID, &d.SubmissionID, &d.ReviewerID, &d.Decision, &reason, &tags, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if reason.Valid {
			d.Reason = reason.String
		}
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), &d.Tags); err != nil {
				return nil, fmt.Errorf("parse tags: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ===== Channel targets =====

// LoadChannels retrieves all channel targets from the database.
func (p *Postgres) LoadChannels() ([]models.ChannelTarget, error) {
	rows, err := p.DB.QueryContext(context.Background(),
		`SELECT id, kind, name, enabled, origin, audience_size FROM channel_targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query channel targets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var targets []models.ChannelTarget
	for rows.Next() {
		var t models.ChannelTarget
		if err := rows.Scan(&t.ID, &t.Kind, &t.Name, &t.Enabled, &t.Origin, &t.AudienceSize); err != nil {
			return nil, fmt.Errorf("scan channel target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// InsertChannel persists a new channel target. Duplicate identifiers map to
// models.ErrDuplicateChannel.
func (p *Postgres) InsertChannel(ctx context.Context, t models.ChannelTarget) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO channel_targets (id, kind, name, enabled, origin, audience_size) VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Kind, t.Name, t.Enabled, t.Origin, t.AudienceSize)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return models.ErrDuplicateChannel
	}
	if err != nil {
		return fmt.Errorf("insert channel target: %w", err)
	}
	return nil
}

// UpdateChannel replaces a channel target row.
func (p *Postgres) UpdateChannel(ctx context.Context, t models.ChannelTarget) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE channel_targets SET kind=$2, name=$3, enabled=$4, origin=$5, audience_size=$6 WHERE id=$1`,
		t.ID, t.Kind, t.Name, t.Enabled, t.Origin, t.AudienceSize)
	if err != nil {
		return fmt.Errorf("update channel target: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel target row.
func (p *Postgres) DeleteChannel(ctx context.Context, id string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM channel_targets WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete channel target: %w", err)
	}
	return nil
}

// SetChannelEnabled toggles a channel target's enabled flag.
func (p *Postgres) SetChannelEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE channel_targets SET enabled=$2 WHERE id=$1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set channel enabled: %w", err)
	}
	return nil
}

// ===== Ban records =====

// GetBanRecord retrieves the ban record for a user, or models.ErrNotFound.
func (p *Postgres) GetBanRecord(ctx context.Context, userID int64) (*models.BanRecord, error) {
	var b models.BanRecord
	var expires sql.NullTime
	var strikeTimes sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT user_id, strikes, kind, expires_at, strike_times, updated_at FROM ban_records WHERE user_id=$1`, userID).
		Scan(&b.UserID, &b.Strikes, &b.Kind, &expires, &strikeTimes, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ban record: %w", err)
	}
	if expires.Valid {
		b.ExpiresAt = expires.Time
	}
	if strikeTimes.Valid {
		if err := json.Unmarshal([]byte(strikeTimes.String), &b.StrikeTimes); err != nil {
			return nil, fmt.Errorf("parse strike_times: %w", err)
		}
	}
	return &b, nil
}

// UpsertBanRecord creates or replaces a user's ban record.
func (p *Postgres) UpsertBanRecord(ctx context.Context, b *models.BanRecord) error {
	strikeTimes, err := json.Marshal(b.StrikeTimes)
	if err != nil {
		return fmt.Errorf("marshal strike_times: %w", err)
	}
	var expires any
	if !b.ExpiresAt.IsZero() {
		expires = b.ExpiresAt
	}
	_, err = p.DB.ExecContext(ctx,
		`INSERT INTO ban_records (user_id, strikes, kind, expires_at, strike_times, updated_at) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id) DO UPDATE SET strikes=$2, kind=$3, expires_at=$4, strike_times=$5, updated_at=$6`,
		b.UserID, b.Strikes, b.Kind, expires, strikeTimes, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert ban record: %w", err)
	}
	return nil
}

// ===== Notification tasks =====

// InsertTask persists a pending notification task. The partial unique index on
// (kind, submission, target) makes re-enqueuing an already-pending equivalent
// task a no-op; the returned bool reports whether a new row was created.
func (p *Postgres) InsertTask(ctx context.Context, t *models.NotificationTask) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`INSERT INTO notification_tasks (id, kind, submission_id, transport, target, payload, attempts, next_attempt_at, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT DO NOTHING`,
		t.ID, t.Kind, nullString(t.SubmissionID), t.Transport, t.Target, t.Payload, t.Attempts, t.NextAttemptAt, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ClaimDueTasks returns pending tasks whose next attempt is due, oldest first.
func (p *Postgres) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]models.NotificationTask, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, kind, submission_id, transport, target, payload, attempts, next_attempt_at, status, last_error, created_at, updated_at
		 FROM notification_tasks WHERE status=$1 AND next_attempt_at <= $2 ORDER BY next_attempt_at LIMIT $3`,
		models.TaskPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		var subID, lastErr sql.NullString
		if err := rows.Scan(&t.ID, &t.Kind, &subID, &t.Transport, &t.Target, &t.Payload, &t.Attempts, &t.NextAttemptAt, &t.Status, &lastErr, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if subID.Valid {
			t.SubmissionID = subID.String
		}
		if lastErr.Valid {
			t.LastError = lastErr.String
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask writes back attempt bookkeeping and status for a task.
func (p *Postgres) UpdateTask(ctx context.Context, t *models.NotificationTask) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE notification_tasks SET attempts=$2, next_attempt_at=$3, status=$4, last_error=$5, updated_at=$6 WHERE id=$1`,
		t.ID, t.Attempts, t.NextAttemptAt, t.Status, nullString(t.LastError), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// CountPendingTasks returns the current pending queue depth.
func (p *Postgres) CountPendingTasks(ctx context.Context) (int, error) {
	var n int
	if err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_tasks WHERE status=$1`, models.TaskPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}

// CountDeadTasks returns the number of dead-lettered tasks.
func (p *Postgres) CountDeadTasks(ctx context.Context) (int, error) {
	var n int
	if err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_tasks WHERE status=$1`, models.TaskDead).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead tasks: %w", err)
	}
	return n, nil
}

// ArchiveFinishedTasks deletes terminal tasks older than the retention window.
// Delivered and dead tasks are only kept long enough for audit.
func (p *Postgres) ArchiveFinishedTasks(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.DB.ExecContext(ctx,
		`DELETE FROM notification_tasks WHERE status IN ($1,$2) AND updated_at < $3`,
		models.TaskDelivered, models.TaskDead, before)
	if err != nil {
		return 0, fmt.Errorf("archive tasks: %w", err)
	}
	return res.RowsAffected()
}

// ===== Feedback reports =====

// InsertFeedbackReport creates the feedback report for a submission. The
// unique constraint on submission_id guarantees at most one report ever; the
// returned bool reports whether this call created it.
func (p *Postgres) InsertFeedbackReport(ctx context.Context, r *models.FeedbackReport) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`INSERT INTO feedback_reports (submission_id, channel_id, views, audience, grade, sent_at) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (submission_id) DO NOTHING`,
		r.SubmissionID, r.ChannelID, r.Views, r.Audience, r.Grade, r.SentAt)
	if err != nil {
		return false, fmt.Errorf("insert feedback report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetFeedbackReport returns the report for a submission, or models.ErrNotFound.
func (p *Postgres) GetFeedbackReport(ctx context.Context, submissionID string) (*models.FeedbackReport, error) {
	var r models.FeedbackReport
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, submission_id, channel_id, views, audience, grade, sent_at FROM feedback_reports WHERE submission_id=$1`, submissionID).
		Scan(&r.ID, &r.SubmissionID, &r.ChannelID, &r.Views, &r.Audience, &r.Grade, &r.SentAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feedback report: %w", err)
	}
	return &r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
