package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/config"
	"github.com/openmodqueue/openmodqueue/internal/db"
	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// Seeds Postgres with sample channels and submissions so a fresh environment
// has something to moderate. Safe to re-run; duplicate channels are skipped.

var sampleTexts = []string{
	"Lost cat spotted near the old mill, quite friendly.",
	"Reminder: the farmers market moves indoors next weekend.",
	"Anyone else seeing roadworks on the north bridge?",
	"Sunset over the harbor tonight was unreal.",
	"Free piano, must pick up yourself. Third floor, no lift.",
}

var sampleTags = [][]string{
	{"local"},
	{"events", "market"},
	{"traffic"},
	nil,
	{"giveaway"},
}

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var dsn string
	var channels, submissions int
	var seed int64
	flag.StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to POSTGRES_DSN)")
	flag.IntVar(&channels, "channels", 3, "number of channels to create")
	flag.IntVar(&submissions, "submissions", 20, "number of submissions to create")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	cfg := config.Load()
	if dsn == "" {
		dsn = cfg.PostgresDSN
	}

	pg, err := db.InitPostgres(dsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close()

	rng := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	created := 0
	for i := 0; i < channels; i++ {
		ch := models.ChannelTarget{
			ID:           fmt.Sprintf("channel-%d", i+1),
			Kind:         models.ChannelKindChannel,
			Name:         fmt.Sprintf("Sample Channel %d", i+1),
			Enabled:      true,
			Origin:       models.OriginDefault,
			AudienceSize: int64(500 + rng.Intn(10000)),
		}
		if err := pg.InsertChannel(ctx, ch); err != nil {
			if err == models.ErrDuplicateChannel {
				continue
			}
			logger.Fatal("insert channel", zap.Error(err), zap.String("channel_id", ch.ID))
		}
		created++
	}
	logger.Info("channels seeded", zap.Int("created", created), zap.Int("requested", channels))

	states := []string{
		models.StatePendingReview,
		models.StatePendingReview,
		models.StatePendingReview,
		models.StateNeedsContact,
		models.StatePublishing,
		models.StatePublished,
	}

	for i := 0; i < submissions; i++ {
		n := rng.Intn(len(sampleTexts))
		sub := &models.Submission{
			ID:        uuid.New().String(),
			AuthorID:  int64(1000 + rng.Intn(50)),
			Kind:      models.KindText,
			Text:      sampleTexts[n],
			Tags:      sampleTags[n],
			Anonymous: rng.Intn(4) == 0,
			State:     models.StatePendingReview,
			CreatedAt: time.Now().Add(-time.Duration(rng.Intn(72)) * time.Hour),
		}
		if err := pg.InsertSubmission(ctx, sub); err != nil {
			logger.Fatal("insert submission", zap.Error(err))
		}

		// Walk a share of submissions deeper into the pipeline so every state
		// shows up in the queue.
		target := states[rng.Intn(len(states))]
		switch target {
		case models.StateNeedsContact:
			_, err = pg.UpdateSubmissionState(ctx, sub.ID, models.StatePendingReview, models.StateNeedsContact)
		case models.StatePublishing:
			if _, err = pg.UpdateSubmissionState(ctx, sub.ID, models.StatePendingReview, models.StateApproved); err == nil {
				_, err = pg.UpdateSubmissionState(ctx, sub.ID, models.StateApproved, models.StatePublishing)
			}
		case models.StatePublished:
			if _, err = pg.UpdateSubmissionState(ctx, sub.ID, models.StatePendingReview, models.StateApproved); err == nil {
				if _, err = pg.UpdateSubmissionState(ctx, sub.ID, models.StateApproved, models.StatePublishing); err == nil {
					if _, err = pg.UpdateSubmissionState(ctx, sub.ID, models.StatePublishing, models.StatePublished); err == nil {
						err = pg.RecordPublication(ctx, sub.ID, fmt.Sprintf("channel-%d", 1+rng.Intn(max(channels, 1))), sub.CreatedAt.Add(time.Hour))
					}
				}
			}
		}
		if err != nil {
			logger.Fatal("advance submission state", zap.Error(err), zap.String("submission_id", sub.ID))
		}
	}
	logger.Info("submissions seeded", zap.Int("created", submissions))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
