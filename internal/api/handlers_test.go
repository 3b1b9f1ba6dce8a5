package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/moderation"
	"github.com/openmodqueue/openmodqueue/internal/observability"
	"github.com/openmodqueue/openmodqueue/internal/token"
)

type fakeModeration struct {
	submission *models.Submission
	submitErr  error
	decideErr  error
	reopenErr  error
	closeErr   error
	decided    int
}

func (f *fakeModeration) Submit(_ context.Context, _ *moderation.SubmitRequest) (*models.Submission, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submission, nil
}

func (f *fakeModeration) Decide(_ context.Context, _ string, _ int64, _, _ string, _ []string) (*models.Submission, error) {
	if f.decideErr != nil {
		return nil, f.decideErr
	}
	f.decided++
	return f.submission, nil
}

func (f *fakeModeration) Reopen(context.Context, string) error { return f.reopenErr }
func (f *fakeModeration) Close(context.Context, string) error  { return f.closeErr }

type fakeStore struct {
	submission *models.Submission
	decisions  []models.ReviewDecision
	feedback   *models.FeedbackReport
	channels   map[string]models.ChannelTarget
	viewCounts map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels:   make(map[string]models.ChannelTarget),
		viewCounts: make(map[string]int64),
	}
}

func (f *fakeStore) GetSubmission(_ context.Context, id string) (*models.Submission, error) {
	if f.submission == nil || f.submission.ID != id {
		return nil, models.ErrNotFound
	}
	return f.submission, nil
}

func (f *fakeStore) ListDecisions(context.Context, string) ([]models.ReviewDecision, error) {
	return f.decisions, nil
}

func (f *fakeStore) GetFeedbackReport(context.Context, string) (*models.FeedbackReport, error) {
	if f.feedback == nil {
		return nil, models.ErrNotFound
	}
	return f.feedback, nil
}

func (f *fakeStore) RecordViewCount(_ context.Context, id, channelID string, views int64) error {
	f.viewCounts[id+":"+channelID] = views
	return nil
}

func (f *fakeStore) InsertChannel(_ context.Context, t models.ChannelTarget) error {
	if _, ok := f.channels[t.ID]; ok {
		return models.ErrDuplicateChannel
	}
	f.channels[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateChannel(_ context.Context, t models.ChannelTarget) error {
	if _, ok := f.channels[t.ID]; !ok {
		return models.ErrNotFound
	}
	f.channels[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteChannel(_ context.Context, id string) error {
	if _, ok := f.channels[id]; !ok {
		return models.ErrNotFound
	}
	delete(f.channels, id)
	return nil
}

func (f *fakeStore) SetChannelEnabled(_ context.Context, id string, enabled bool) error {
	t, ok := f.channels[id]
	if !ok {
		return models.ErrNotFound
	}
	t.Enabled = enabled
	f.channels[id] = t
	return nil
}

type fakeCache struct {
	channels    []models.ChannelTarget
	invalidates int
}

func (f *fakeCache) GetChannel(id string) (models.ChannelTarget, error) {
	for _, t := range f.channels {
		if t.ID == id {
			return t, nil
		}
	}
	return models.ChannelTarget{}, models.ErrNotFound
}

func (f *fakeCache) AllChannels(context.Context) ([]models.ChannelTarget, error) {
	return f.channels, nil
}

func (f *fakeCache) EnabledChannels(context.Context) ([]models.ChannelTarget, error) {
	var enabled []models.ChannelTarget
	for _, t := range f.channels {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}
	return enabled, nil
}

func (f *fakeCache) Invalidate(context.Context) error { f.invalidates++; return nil }
func (f *fakeCache) Version() uint64                  { return uint64(f.invalidates) }

type fakeBanService struct {
	status string
	resets int
}

func (f *fakeBanService) Check(context.Context, int64) (string, error) { return f.status, nil }
func (f *fakeBanService) Reset(context.Context, int64) error           { f.resets++; return nil }

type fakeRetrier struct{ err error }

func (f *fakeRetrier) Retry(context.Context, string) error { return f.err }

type fakeViewSink struct {
	views map[string]int64
}

func (f *fakeViewSink) RecordView(_ context.Context, submissionID, channelID string, views int64) error {
	if f.views == nil {
		f.views = make(map[string]int64)
	}
	f.views[submissionID+":"+channelID] = views
	return nil
}

func newTestServer() (*Server, *fakeModeration, *fakeStore, *fakeCache) {
	mod := &fakeModeration{
		submission: &models.Submission{ID: "sub-1", AuthorID: 42, Kind: models.KindText, State: models.StatePendingReview},
	}
	store := newFakeStore()
	cache := &fakeCache{}
	srv := &Server{
		Logger:      zap.NewNop(),
		Store:       store,
		Moderation:  mod,
		Cache:       cache,
		Bans:        &fakeBanService{status: models.BanNone},
		Dispatcher:  &fakeRetrier{},
		TokenSecret: []byte("secret"),
		TokenTTL:    time.Minute,
		Metrics:     &observability.MockMetricsRegistry{},
	}
	return srv, mod, store, cache
}

func TestSubmitHandler_Created(t *testing.T) {
	srv, _, _, _ := newTestServer()

	body := `{"author_id":42,"kind":"text","text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.SubmitHandler(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sub-1") {
		t.Fatalf("expected submission in body, got %s", rec.Body.String())
	}
}

func TestSubmitHandler_ValidationError(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	mod.submitErr = &moderation.ValidationError{Reason: "empty_text", Msg: "text submissions need text"}

	req := httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(`{"kind":"text"}`))
	rec := httptest.NewRecorder()

	srv.SubmitHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitHandler_Banned(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	mod.submitErr = moderation.ErrAuthorBanned

	req := httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(`{"kind":"text","text":"x"}`))
	rec := httptest.NewRecorder()

	srv.SubmitHandler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSubmitHandler_RateLimited(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	mod.submitErr = moderation.ErrRateLimited

	req := httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(`{"kind":"text","text":"x"}`))
	rec := httptest.NewRecorder()

	srv.SubmitHandler(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestGetSubmissionHandler_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer()

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/submissions/missing", nil), map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()

	srv.GetSubmissionHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetSubmissionHandler_AttachesHistory(t *testing.T) {
	srv, _, store, _ := newTestServer()
	store.submission = &models.Submission{ID: "sub-1", State: models.StateFeedbackSent}
	store.decisions = []models.ReviewDecision{{SubmissionID: "sub-1", Decision: models.DecisionApprove}}
	store.feedback = &models.FeedbackReport{SubmissionID: "sub-1", Grade: models.GradeA}

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/submissions/sub-1", nil), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.GetSubmissionHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"decisions"`) || !strings.Contains(body, `"feedback"`) {
		t.Fatalf("expected decisions and feedback in body, got %s", body)
	}
}

func TestRecordViewsHandler(t *testing.T) {
	srv, _, store, _ := newTestServer()
	sink := &fakeViewSink{}
	srv.Views = sink
	store.submission = &models.Submission{
		ID:           "sub-1",
		State:        models.StatePublished,
		Publications: map[string]time.Time{"chan-a": time.Now().Add(-time.Hour)},
	}

	body := `{"channel_id":"chan-a","views":321}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/views", strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.RecordViewsHandler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.viewCounts["sub-1:chan-a"] != 321 {
		t.Fatalf("expected persisted view count, got %v", store.viewCounts)
	}
	if sink.views["sub-1:chan-a"] != 321 {
		t.Fatalf("expected analytics view event, got %v", sink.views)
	}
}

func TestRecordViewsHandler_UnpublishedChannel(t *testing.T) {
	srv, _, store, _ := newTestServer()
	store.submission = &models.Submission{ID: "sub-1", State: models.StatePublishing}

	body := `{"channel_id":"chan-a","views":10}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/views", strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.RecordViewsHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRecordViewsHandler_BadBody(t *testing.T) {
	srv, _, _, _ := newTestServer()

	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/views", strings.NewReader(`{"views":5}`)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.RecordViewsHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDecisionHandler_MissingToken(t *testing.T) {
	srv, _, _, _ := newTestServer()

	body := `{"reviewer_id":7,"decision":"approve"}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/decision", strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.DecisionHandler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDecisionHandler_TokenMismatch(t *testing.T) {
	srv, _, _, _ := newTestServer()
	tok, err := token.Generate("sub-1", 7, models.DecisionReject, srv.TokenSecret)
	if err != nil {
		t.Fatal(err)
	}

	// Token was minted for reject, request says approve.
	body := `{"reviewer_id":7,"decision":"approve"}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/decision?t="+tok, strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.DecisionHandler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDecisionHandler_ValidToken(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	tok, err := token.Generate("sub-1", 7, models.DecisionApprove, srv.TokenSecret)
	if err != nil {
		t.Fatal(err)
	}

	body := `{"reviewer_id":7,"decision":"approve"}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/decision?t="+tok, strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.DecisionHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if mod.decided != 1 {
		t.Fatalf("expected 1 decision, got %d", mod.decided)
	}
}

func TestDecisionHandler_NoSecretSkipsToken(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	srv.TokenSecret = nil

	body := `{"reviewer_id":7,"decision":"reject","reason":"off topic"}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/decision", strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.DecisionHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if mod.decided != 1 {
		t.Fatalf("expected 1 decision, got %d", mod.decided)
	}
}

func TestDecisionHandler_Conflict(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	srv.TokenSecret = nil
	mod.decideErr = &moderation.InvalidTransitionError{SubmissionID: "sub-1", State: models.StatePublished, Action: "decide"}

	body := `{"reviewer_id":7,"decision":"approve"}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/decision", strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.DecisionHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestReviewTokenHandler_RoundTrip(t *testing.T) {
	srv, _, _, _ := newTestServer()

	body := `{"reviewer_id":7,"decision":"approve"}`
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/token", strings.NewReader(body)), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.ReviewTokenHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateChannelHandler_DuplicateConflicts(t *testing.T) {
	srv, _, _, cache := newTestServer()

	body := `{"id":"ch-1","name":"Main","kind":"channel","enabled":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/channels", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.CreateChannelHandler(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if cache.invalidates != 1 {
		t.Fatalf("expected cache invalidation, got %d", cache.invalidates)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/channels", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.CreateChannelHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreateChannelHandler_ForcesCustomOrigin(t *testing.T) {
	srv, _, store, _ := newTestServer()

	body := `{"id":"ch-1","name":"Main","origin":"default"}`
	req := httptest.NewRequest(http.MethodPost, "/api/channels", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.CreateChannelHandler(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if store.channels["ch-1"].Origin != models.OriginCustom {
		t.Fatalf("expected custom origin, got %q", store.channels["ch-1"].Origin)
	}
}

func TestDisableChannelHandler(t *testing.T) {
	srv, _, store, cache := newTestServer()
	store.channels["ch-1"] = models.ChannelTarget{ID: "ch-1", Enabled: true}

	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/api/channels/ch-1/disable", nil), map[string]string{"id": "ch-1"})
	rec := httptest.NewRecorder()

	srv.DisableChannelHandler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if store.channels["ch-1"].Enabled {
		t.Fatal("expected channel disabled")
	}
	if cache.invalidates != 1 {
		t.Fatalf("expected cache invalidation, got %d", cache.invalidates)
	}
}

func TestDeleteChannelHandler_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer()

	req := mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/api/channels/nope", nil), map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()

	srv.DeleteChannelHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetBanHandler(t *testing.T) {
	srv, _, _, _ := newTestServer()
	srv.Bans = &fakeBanService{status: models.BanTemporary}

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/bans/42", nil), map[string]string{"userID": "42"})
	rec := httptest.NewRecorder()

	srv.GetBanHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"banned":true`) {
		t.Fatalf("expected banned flag, got %s", rec.Body.String())
	}
}

func TestResetBanHandler(t *testing.T) {
	srv, _, _, _ := newTestServer()
	bans := &fakeBanService{status: models.BanPermanent}
	srv.Bans = bans

	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/api/bans/42/reset", nil), map[string]string{"userID": "42"})
	rec := httptest.NewRecorder()

	srv.ResetBanHandler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if bans.resets != 1 {
		t.Fatalf("expected 1 reset, got %d", bans.resets)
	}
}

func TestReopenHandler_Conflict(t *testing.T) {
	srv, mod, _, _ := newTestServer()
	mod.reopenErr = &moderation.InvalidTransitionError{SubmissionID: "sub-1", State: models.StatePublished, Action: "reopen"}

	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/submissions/sub-1/reopen", nil), map[string]string{"id": "sub-1"})
	rec := httptest.NewRecorder()

	srv.ReopenHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestReloadHandler(t *testing.T) {
	srv, _, _, cache := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	rec := httptest.NewRecorder()

	srv.ReloadHandler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if cache.invalidates != 1 {
		t.Fatalf("expected cache invalidation, got %d", cache.invalidates)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.HealthHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
