package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-interview/backend/internal/client/mediastore"
	"github.com/zhouzirui/z-interview/backend/internal/handler"
	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/model/speech"
	"github.com/zhouzirui/z-interview/backend/internal/service/answer"
	"github.com/zhouzirui/z-interview/backend/internal/service/feedback"
	interviewService "github.com/zhouzirui/z-interview/backend/internal/service/interview"
)

type twoQuestions struct{}

func (twoQuestions) NextQuestion(_ context.Context, req interviewService.QuestionRequest) (interviewService.GeneratedQuestion, error) {
	n := len(req.Turns)
	return interviewService.GeneratedQuestion{Text: fmt.Sprintf("question %d", n), IsLast: n == 1}, nil
}

// flakyTranscriber echoes the audio back, or fails while fail is set.
type flakyTranscriber struct {
	mu   sync.Mutex
	fail bool
}

func (f *flakyTranscriber) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyTranscriber) TranscribeBuffer(_ context.Context, sessionID string, audio []byte, _, _ string) (*speech.ASRResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("asr offline")
	}
	return &speech.ASRResponse{SessionID: sessionID, Text: "heard " + string(audio)}, nil
}

type fixture struct {
	server *httptest.Server
	asr    *flakyTranscriber
	media  *mediastore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := document.NewMemoryStore(document.Seed("alice"))
	fb := feedback.NewService(nil, nil, feedback.Config{})
	t.Cleanup(fb.Close)
	asr := &flakyTranscriber{}
	seq := interviewService.NewSequencer(twoQuestions{}, interviewService.WithCompletionHook(fb.Schedule))
	mgr := interviewService.NewManager(seq, docs, answer.NewIngester(asr, answer.Config{}), fb)

	srv := httptest.NewServer(handler.NewRouter(handler.Deps{
		Documents:    docs,
		Interviews:   mgr,
		AuthDisabled: true,
	}))
	t.Cleanup(srv.Close)

	media := mediastore.New(filepath.Join(t.TempDir(), "media.db"))
	t.Cleanup(func() { _ = media.Close() })
	return &fixture{server: srv, asr: asr, media: media}
}

func (f *fixture) driver(owner string) *Driver {
	return NewDriver(NewAPI(APIConfig{BaseURL: f.server.URL, OwnerID: owner}), f.media)
}

func TestDriverFullInterview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver("alice")

	id, err := d.Start(ctx, []string{"demo-resume"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, model.StateCreated, d.State())

	q, err := d.Question(ctx)
	require.NoError(t, err)
	require.Equal(t, "q0", q.ID)
	require.False(t, q.IsLast)
	require.Equal(t, model.StateAwaitingAnswer, d.State())

	require.NoError(t, d.Capture(ctx, []byte("take-1"), mediastore.KindAudio, "webm", false))
	res, err := d.AnswerVoice(ctx, "en-US")
	require.NoError(t, err)
	require.Equal(t, "heard take-1", res.Transcript)
	require.Equal(t, model.StateAdvancing, res.State)

	rec, err := f.media.Latest(ctx)
	require.NoError(t, err)
	require.Nil(t, rec, "recording should be cleared after hand-off")

	q, err = d.Question(ctx)
	require.NoError(t, err)
	require.Equal(t, "q1", q.ID)
	require.True(t, q.IsLast)

	res, err = d.AnswerChat(ctx, "typed answer")
	require.NoError(t, err)
	require.True(t, res.IsLast)
	require.Equal(t, model.StateCompleted, d.State())

	fb, err := d.Feedback(ctx)
	require.NoError(t, err)
	require.Equal(t, id, fb.InterviewID)
	require.NotEmpty(t, fb.Feedback)

	history, err := d.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, "heard take-1", history[1].Content)

	_, err = d.AnswerChat(ctx, "late")
	require.ErrorIs(t, err, ErrCompleted)
}

func TestDriverRequiresStartAndQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver("alice")

	_, err := d.Question(ctx)
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = d.Stop(ctx)
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = d.Start(ctx, []string{"demo-resume"})
	require.NoError(t, err)

	_, err = d.AnswerChat(ctx, "too early")
	require.ErrorIs(t, err, ErrNoQuestion)
	require.ErrorIs(t, d.Capture(ctx, []byte("x"), mediastore.KindAudio, "wav", false), ErrNoQuestion)
}

func TestDriverCaptureKeepsUnsubmittedRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver("alice")

	_, err := d.Start(ctx, []string{"demo-resume"})
	require.NoError(t, err)
	_, err = d.Question(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Capture(ctx, []byte("first"), mediastore.KindAudio, "wav", false))
	require.ErrorIs(t, d.Capture(ctx, []byte("second"), mediastore.KindAudio, "wav", false), ErrUnconsumedRecording)

	rec, err := f.media.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), rec.Blob)

	require.NoError(t, d.Capture(ctx, []byte("second"), mediastore.KindAudio, "wav", true))
	res, err := d.AnswerVoice(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "heard second", res.Transcript)
}

func TestDriverVoiceFailureKeepsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver("alice")

	_, err := d.Start(ctx, []string{"demo-resume"})
	require.NoError(t, err)
	q, err := d.Question(ctx)
	require.NoError(t, err)

	_, err = d.AnswerVoice(ctx, "")
	require.ErrorIs(t, err, ErrNoRecording)

	require.NoError(t, d.Capture(ctx, []byte("take"), mediastore.KindAudio, "wav", false))
	f.asr.setFail(true)
	_, err = d.AnswerVoice(ctx, "")
	require.ErrorIs(t, err, model.ErrTranscriptionUnavailable)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	require.True(t, apiErr.Body.Retryable)

	cur, ok := d.Current()
	require.True(t, ok)
	require.Equal(t, q.ID, cur.ID)
	rec, err := f.media.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)

	f.asr.setFail(false)
	res, err := d.AnswerVoice(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "heard take", res.Transcript)
}

func TestDriverResyncsAfterProtocolError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.driver("alice")
	b := f.driver("alice")

	id, err := a.Start(ctx, []string{"demo-resume"})
	require.NoError(t, err)
	_, err = a.Question(ctx)
	require.NoError(t, err)

	session, err := b.Attach(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateAwaitingAnswer, session.State)
	cur, ok := b.Current()
	require.True(t, ok)
	require.Equal(t, "q0", cur.ID)

	_, err = a.AnswerChat(ctx, "from tab a")
	require.NoError(t, err)

	_, err = b.AnswerChat(ctx, "from tab b")
	require.ErrorIs(t, err, model.ErrNoActiveQuestion)
	require.Equal(t, model.StateAdvancing, b.State())
	_, ok = b.Current()
	require.False(t, ok)
}

func TestDriverStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver("alice")

	_, err := d.Start(ctx, []string{"demo-resume"})
	require.NoError(t, err)

	_, err = d.Feedback(ctx)
	require.ErrorIs(t, err, model.ErrSessionNotCompleted)

	first, err := d.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, "stopped", first.Status)
	require.Equal(t, model.StateCompleted, first.State)

	second, err := d.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, first.StopReason, second.StopReason)

	fb, err := d.Feedback(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, fb.Score)
}

func TestAPIMapsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	api := NewAPI(APIConfig{BaseURL: f.server.URL, OwnerID: "alice"})

	_, err := api.Create(ctx, nil)
	require.ErrorIs(t, err, model.ErrInvalidDocumentSet)

	_, err = api.Session(ctx, "missing")
	require.ErrorIs(t, err, model.ErrSessionNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)

	res, err := api.Create(ctx, []string{"demo-resume"})
	require.NoError(t, err)

	other := NewAPI(APIConfig{BaseURL: f.server.URL, OwnerID: "mallory"})
	_, err = other.NextQuestion(ctx, res.InterviewID)
	require.ErrorIs(t, err, model.ErrSessionNotFound)

	docs, err := api.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	doc, err := other.AddDocument(ctx, document.KindResume, "My CV", "Go and Rust")
	require.NoError(t, err)
	require.Equal(t, "mallory", doc.OwnerID)
}
