package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// Drives a running pipeline with synthetic author traffic: concurrent authors
// post submissions, a configurable share gets reviewed straight away, and
// approved submissions report synthetic view counts back, so the queue,
// dispatcher, notification path and feedback grader all see load.

var (
	server     string
	authors    int
	totalReq   int
	conc       int
	duration   time.Duration
	rate       float64
	decideRate float64
	approvePct float64
	reviewerID int64
	stats      bool
)

var logger *zap.Logger

var httpClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
	},
}

const statsInterval = 5 * time.Second

var (
	countSent     uint64
	countAccepted uint64
	countRejected uint64
	countDecided  uint64
	countViews    uint64
	countErrors   uint64
)

var sampleTexts = []string{
	"Heads up, the riverside path floods after heavy rain.",
	"Found a set of keys by the bus stop on Elm street.",
	"The bakery on the corner has a new opening time.",
	"Great turnout at the cleanup this morning, thanks everyone.",
	"Looking for recommendations for a bike repair shop.",
}

type submitReq struct {
	AuthorID int64  `json:"author_id"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
}

type submitResp struct {
	ID string `json:"id"`
}

type decisionReq struct {
	ReviewerID int64  `json:"reviewer_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

type decisionResp struct {
	Publications map[string]time.Time `json:"publications"`
}

type viewsReq struct {
	ChannelID string `json:"channel_id"`
	Views     int64  `json:"views"`
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8788", "pipeline base URL")
	flag.IntVar(&authors, "authors", 50, "number of unique authors")
	flag.IntVar(&totalReq, "requests", 200, "total submissions to send")
	flag.IntVar(&conc, "concurrency", 10, "concurrent workers")
	flag.DurationVar(&duration, "duration", 0, "how long to run (0 to use -requests)")
	flag.Float64Var(&rate, "rate", 0, "submissions per second (0 for unlimited)")
	flag.Float64Var(&decideRate, "decide-rate", 0.8, "probability a submission is decided immediately")
	flag.Float64Var(&approvePct, "approve-pct", 0.7, "share of decisions that approve")
	flag.Int64Var(&reviewerID, "reviewer", 1, "reviewer ID used for decisions")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.Parse()

	var err error
	logger, err = observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if stats {
		go printStats(ctx)
	}

	var limiter <-chan time.Time
	if rate > 0 {
		t := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer t.Stop()
		limiter = t.C
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < conc; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range jobs {
				simulate(ctx, rng)
			}
		}(time.Now().UnixNano() + int64(w))
	}

	i := 0
	for duration > 0 || i < totalReq {
		if limiter != nil {
			select {
			case <-limiter:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
		jobs <- i
		i++
	}
	close(jobs)
	wg.Wait()

	logger.Info("simulation finished",
		zap.Uint64("sent", atomic.LoadUint64(&countSent)),
		zap.Uint64("accepted", atomic.LoadUint64(&countAccepted)),
		zap.Uint64("rejected_or_limited", atomic.LoadUint64(&countRejected)),
		zap.Uint64("decided", atomic.LoadUint64(&countDecided)),
		zap.Uint64("views_reported", atomic.LoadUint64(&countViews)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
}

func simulate(ctx context.Context, rng *rand.Rand) {
	atomic.AddUint64(&countSent, 1)

	body, _ := json.Marshal(submitReq{
		AuthorID: int64(1 + rng.Intn(authors)),
		Kind:     "text",
		Text:     sampleTexts[rng.Intn(len(sampleTexts))],
	})
	resp, err := post(ctx, server+"/submissions", body)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Debug("submit failed", zap.Error(err))
		return
	}
	if resp.status != http.StatusCreated {
		// 403s and 429s are expected once bans and rate limits kick in.
		atomic.AddUint64(&countRejected, 1)
		return
	}
	atomic.AddUint64(&countAccepted, 1)

	var sub submitResp
	if err := json.Unmarshal(resp.body, &sub); err != nil || sub.ID == "" {
		atomic.AddUint64(&countErrors, 1)
		return
	}

	if rng.Float64() >= decideRate {
		return
	}
	decision := "approve"
	reason := ""
	if rng.Float64() >= approvePct {
		decision = "reject"
		reason = "synthetic load reject"
	}
	dBody, _ := json.Marshal(decisionReq{ReviewerID: reviewerID, Decision: decision, Reason: reason})
	dResp, err := post(ctx, server+"/submissions/"+sub.ID+"/decision", dBody)
	if err != nil || dResp.status != http.StatusOK {
		atomic.AddUint64(&countErrors, 1)
		return
	}
	atomic.AddUint64(&countDecided, 1)

	if decision != "approve" {
		return
	}
	// Report a synthetic view count for every channel the approval reached,
	// the way a collector would after watching the channels for a while.
	var published decisionResp
	if err := json.Unmarshal(dResp.body, &published); err != nil {
		return
	}
	for channelID := range published.Publications {
		vBody, _ := json.Marshal(viewsReq{ChannelID: channelID, Views: int64(50 + rng.Intn(5000))})
		vResp, err := post(ctx, server+"/submissions/"+sub.ID+"/views", vBody)
		if err != nil || vResp.status != http.StatusNoContent {
			atomic.AddUint64(&countErrors, 1)
			continue
		}
		atomic.AddUint64(&countViews, 1)
	}
}

type response struct {
	status int
	body   []byte
}

func post(ctx context.Context, url string, body []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func printStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("progress",
				zap.Uint64("sent", atomic.LoadUint64(&countSent)),
				zap.Uint64("accepted", atomic.LoadUint64(&countAccepted)),
				zap.Uint64("rejected_or_limited", atomic.LoadUint64(&countRejected)),
				zap.Uint64("decided", atomic.LoadUint64(&countDecided)),
				zap.Uint64("views_reported", atomic.LoadUint64(&countViews)),
				zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
		}
	}
}
