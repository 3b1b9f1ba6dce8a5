package publish

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
	"github.com/openmodqueue/openmodqueue/internal/transport"
)

// nowFn is swapped in tests to control time.
var nowFn = time.Now

// Store is the persistence surface the dispatcher needs.
type Store interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	UpdateSubmissionState(ctx context.Context, id, from, to string) (bool, error)
	// RecordPublication persists the publish timestamp for one channel. An
	// already recorded entry wins; later calls must not overwrite it.
	RecordPublication(ctx context.Context, id, channelID string, ts time.Time) error
	// RecordPublishFailure increments the failed attempt count for one
	// channel and returns the new count.
	RecordPublishFailure(ctx context.Context, id, channelID string) (int, error)
	// ListPublishing returns non-archived submissions still in the
	// publishing state, for the retry sweep.
	ListPublishing(ctx context.Context) ([]models.Submission, error)
}

// ChannelSource provides the current set of enabled publication targets.
type ChannelSource interface {
	EnabledChannels(ctx context.Context) ([]models.ChannelTarget, error)
}

// ClaimStore takes short-lived exclusive claims on (submission, channel)
// publication attempts. Optional; a nil store disables claiming.
type ClaimStore interface {
	AcquirePublishClaim(submissionID, channelID string, ttl time.Duration) (bool, error)
	ReleasePublishClaim(submissionID, channelID string)
}

// Notifier enqueues operational alerts about failing channels.
type Notifier interface {
	Enqueue(ctx context.Context, kind, submissionID, transport, target, payload string) (bool, error)
}

// EventSink records publication events for the analytics store. Optional; a
// nil sink disables recording and sink failures never fail the publish.
type EventSink interface {
	RecordPublication(ctx context.Context, submissionID, channelID string, authorID int64) error
}

// Options bound dispatcher behavior. MaxAttempts is the per-channel delivery
// ceiling shared with the notification queue; RetryInterval paces the
// background sweep that re-dispatches stuck submissions.
type Options struct {
	MediaGroupMaxSize int
	PublishTimeout    time.Duration
	MaxAttempts       int
	RetryInterval     time.Duration
	AdminTarget       string
}

// Dispatcher fans approved submissions out to every enabled channel. Per
// channel delivery is idempotent: a recorded publication timestamp suppresses
// re-sends, so retrying a partially failed dispatch only touches the channels
// that are still missing. A channel whose failure count reaches MaxAttempts
// is dead; dead counts as a terminal outcome, so a submission reaches
// published once every enabled channel is either delivered or dead.
type Dispatcher struct {
	store    Store
	channels ChannelSource
	chat     transport.ChatTransport
	claims   ClaimStore
	notifier Notifier
	events   EventSink
	opts     Options
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store Store, channels ChannelSource, chat transport.ChatTransport, claims ClaimStore, notifier Notifier, opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Dispatcher {
	if opts.MediaGroupMaxSize <= 0 {
		opts.MediaGroupMaxSize = 10
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	return &Dispatcher{
		store:    store,
		channels: channels,
		chat:     chat,
		claims:   claims,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetEventSink enables analytics event recording.
func (d *Dispatcher) SetEventSink(sink EventSink) {
	d.events = sink
}

// Run re-dispatches stuck submissions on the configured interval until the
// context is canceled. The sweep is what turns a transient channel failure
// into a bounded series of retries instead of a permanently stuck submission.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.RetryInterval)
	defer ticker.Stop()

	d.logger.Info("publish retry loop started",
		zap.Duration("interval", d.opts.RetryInterval),
		zap.Int("max_attempts", d.opts.MaxAttempts))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("publish retry loop stopped")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	stuck, err := d.store.ListPublishing(ctx)
	if err != nil {
		d.logger.Error("list publishing submissions", zap.Error(err))
		return
	}
	for i := range stuck {
		sub := stuck[i]
		if err := d.Dispatch(ctx, &sub); err != nil {
			d.logger.Warn("publish retry",
				zap.Error(err),
				zap.String("submission_id", sub.ID))
		}
	}
}

// Dispatch publishes the submission to every enabled channel it has not
// reached yet. A failed send increments that channel's attempt count; at the
// ceiling the channel is marked dead and reported to the admin target. The
// submission moves to published once no channel is left awaiting a retry.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *models.Submission) error {
	channels, err := d.channels.EnabledChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	if len(channels) == 0 {
		d.logger.Warn("no enabled channels to publish to", zap.String("submission_id", sub.ID))
		d.alertAdmin(ctx, sub.ID, "no enabled channels configured, submission stuck in publishing")
		return fmt.Errorf("no enabled channels")
	}

	pending, dead := 0, 0
	for _, ch := range channels {
		if sub.PublishedTo(ch.ID) {
			continue
		}
		if sub.PublishFailures[ch.ID] >= d.opts.MaxAttempts {
			// Dead channel, terminal. No more sends.
			dead++
			continue
		}
		if err := d.publishTo(ctx, sub, ch); err != nil {
			attempts := d.recordFailure(ctx, sub, ch.ID)
			if attempts >= d.opts.MaxAttempts {
				dead++
				d.metrics.IncrementPublications("dead")
				d.logger.Error("channel publication dead",
					zap.String("submission_id", sub.ID),
					zap.String("channel_id", ch.ID),
					zap.Int("attempts", attempts),
					zap.Error(err))
				d.alertAdmin(ctx, sub.ID+":"+ch.ID,
					fmt.Sprintf("publication dead: submission=%s channel=%s attempts=%d error=%v", sub.ID, ch.ID, attempts, err))
			} else {
				pending++
				d.metrics.IncrementPublications("failed")
				d.logger.Error("publish to channel failed",
					zap.String("submission_id", sub.ID),
					zap.String("channel_id", ch.ID),
					zap.Int("attempts", attempts),
					zap.Error(err))
			}
			continue
		}
		d.metrics.IncrementPublications("published")
	}

	if pending > 0 {
		return fmt.Errorf("publication incomplete: %d channels awaiting retry", pending)
	}

	// Every enabled channel has a terminal outcome, delivered or dead.
	ok, err := d.store.UpdateSubmissionState(ctx, sub.ID, models.StatePublishing, models.StatePublished)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	if ok {
		sub.State = models.StatePublished
		d.logger.Info("submission published",
			zap.String("submission_id", sub.ID),
			zap.Int("channels", len(channels)),
			zap.Int("dead_channels", dead))
	}
	return nil
}

// recordFailure persists the attempt count bump and mirrors it onto the
// in-memory submission. A persistence error falls back to the local count so
// one flaky write cannot unbound the retry loop within this process.
func (d *Dispatcher) recordFailure(ctx context.Context, sub *models.Submission, channelID string) int {
	attempts := sub.PublishFailures[channelID] + 1
	if n, err := d.store.RecordPublishFailure(ctx, sub.ID, channelID); err != nil {
		d.logger.Error("record publish failure",
			zap.Error(err),
			zap.String("submission_id", sub.ID),
			zap.String("channel_id", channelID))
	} else {
		attempts = n
	}
	if sub.PublishFailures == nil {
		sub.PublishFailures = make(map[string]int)
	}
	sub.PublishFailures[channelID] = attempts
	return attempts
}

// Retry reloads a submission stuck in publishing and dispatches it again.
func (d *Dispatcher) Retry(ctx context.Context, submissionID string) error {
	sub, err := d.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.State != models.StatePublishing {
		return fmt.Errorf("submission %s is %s, not publishing", submissionID, sub.State)
	}
	return d.Dispatch(ctx, sub)
}

func (d *Dispatcher) publishTo(ctx context.Context, sub *models.Submission, ch models.ChannelTarget) error {
	if d.claims != nil {
		acquired, err := d.claims.AcquirePublishClaim(sub.ID, ch.ID, d.opts.PublishTimeout)
		if err != nil {
			return fmt.Errorf("acquire claim: %w", err)
		}
		if !acquired {
			// Another dispatch attempt is mid-send on this channel.
			return fmt.Errorf("publication claim held elsewhere")
		}
		defer d.claims.ReleasePublishClaim(sub.ID, ch.ID)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
	defer cancel()

	if err := d.send(sendCtx, sub, ch.ID); err != nil {
		return err
	}

	ts := nowFn()
	if err := d.store.RecordPublication(ctx, sub.ID, ch.ID, ts); err != nil {
		// The channel post exists but we failed to remember it. Surface the
		// error; the recorded-entry-wins rule keeps a retry from double
		// posting only if the record eventually lands, so this must be loud.
		return fmt.Errorf("record publication: %w", err)
	}
	if sub.Publications == nil {
		sub.Publications = make(map[string]time.Time)
	}
	sub.Publications[ch.ID] = ts

	if d.events != nil {
		if err := d.events.RecordPublication(ctx, sub.ID, ch.ID, sub.AuthorID); err != nil {
			d.logger.Warn("record publication event",
				zap.Error(err),
				zap.String("submission_id", sub.ID),
				zap.String("channel_id", ch.ID))
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *models.Submission, target string) error {
	if len(sub.Media) == 0 {
		return d.chat.SendMessage(ctx, target, sub.Text)
	}
	caption := sub.Text
	for _, batch := range GroupMedia(sub.Media, d.opts.MediaGroupMaxSize) {
		if err := d.chat.SendMediaGroup(ctx, target, batch, caption); err != nil {
			return err
		}
		// Only the first batch carries the caption.
		caption = ""
	}
	return nil
}

func (d *Dispatcher) alertAdmin(ctx context.Context, dedupeID, text string) {
	if d.notifier == nil || d.opts.AdminTarget == "" {
		return
	}
	if _, err := d.notifier.Enqueue(ctx, models.NotifyBroadcast, dedupeID, models.TransportChat, d.opts.AdminTarget, text); err != nil {
		d.logger.Error("enqueue admin alert", zap.Error(err))
	}
}
