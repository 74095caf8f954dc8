package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-interview/backend/internal/client/mediastore"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

var (
	ErrNotStarted          = errors.New("interview not started")
	ErrNoQuestion          = errors.New("no question to answer")
	ErrNoRecording         = errors.New("no recording captured")
	ErrUnconsumedRecording = errors.New("an unsubmitted recording exists")
	ErrCompleted           = errors.New("interview completed")
)

// MediaStore is the local recording slot used by the driver.
type MediaStore interface {
	Save(ctx context.Context, blob []byte, kind mediastore.Kind, format string) error
	Latest(ctx context.Context) (*mediastore.Record, error)
	Clear(ctx context.Context) error
}

// Driver is the client-side interview state machine. It mirrors the server
// session state, remembers the question being answered and hands recordings
// from the media store to the voice endpoint.
type Driver struct {
	api   *API
	media MediaStore

	mu          sync.Mutex
	interviewID string
	state       model.State
	current     *model.Question
}

// NewDriver creates a driver. media may be nil when only chat answers are used.
func NewDriver(api *API, media MediaStore) *Driver {
	return &Driver{api: api, media: media}
}

// InterviewID returns the attached interview, empty before Start or Attach.
func (d *Driver) InterviewID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interviewID
}

// State returns the last known session state, empty before Start or Attach.
func (d *Driver) State() model.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Current returns the question awaiting an answer.
func (d *Driver) Current() (model.Question, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return model.Question{}, false
	}
	return *d.current, true
}

// Start creates a new interview and attaches to it.
func (d *Driver) Start(ctx context.Context, documentIDs []string) (string, error) {
	res, err := d.api.Create(ctx, documentIDs)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.interviewID = res.InterviewID
	d.state = res.State
	d.current = nil
	d.mu.Unlock()
	return res.InterviewID, nil
}

// Attach binds the driver to an existing interview and loads its state.
func (d *Driver) Attach(ctx context.Context, interviewID string) (model.Session, error) {
	session, err := d.api.Session(ctx, interviewID)
	if err != nil {
		return model.Session{}, err
	}
	d.mu.Lock()
	d.interviewID = interviewID
	d.apply(session)
	d.mu.Unlock()
	return session, nil
}

// Question fetches the current question, generating the next one when needed.
func (d *Driver) Question(ctx context.Context) (model.Question, error) {
	id, err := d.attached()
	if err != nil {
		return model.Question{}, err
	}
	q, err := d.api.NextQuestion(ctx, id)
	if err != nil {
		return model.Question{}, d.fail(ctx, id, err)
	}
	d.mu.Lock()
	d.state = model.StateAwaitingAnswer
	d.current = &q
	d.mu.Unlock()
	return q, nil
}

// AnswerChat submits text for the current question.
func (d *Driver) AnswerChat(ctx context.Context, text string) (SubmitResult, error) {
	id, q, err := d.answering()
	if err != nil {
		return SubmitResult{}, err
	}
	res, err := d.api.AnswerChat(ctx, id, q.ID, text)
	if err != nil {
		return SubmitResult{}, d.fail(ctx, id, err)
	}
	d.advance(res)
	return res, nil
}

// Capture stores a recording for the current question. An earlier recording
// that was never submitted is kept unless overwrite is set.
func (d *Driver) Capture(ctx context.Context, blob []byte, kind mediastore.Kind, format string, overwrite bool) error {
	if d.media == nil {
		return fmt.Errorf("%w: media store not configured", model.ErrStorageWriteFailed)
	}
	if _, _, err := d.answering(); err != nil {
		return err
	}
	if !overwrite {
		rec, err := d.media.Latest(ctx)
		if err != nil {
			return err
		}
		if rec != nil {
			return ErrUnconsumedRecording
		}
	}
	return d.media.Save(ctx, blob, kind, format)
}

// AnswerVoice uploads the latest recording as the answer to the current
// question and clears the slot once the server accepted it. The recording is
// kept when transcription fails so the same take can be retried.
func (d *Driver) AnswerVoice(ctx context.Context, language string) (SubmitResult, error) {
	if d.media == nil {
		return SubmitResult{}, ErrNoRecording
	}
	id, q, err := d.answering()
	if err != nil {
		return SubmitResult{}, err
	}
	rec, err := d.media.Latest(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	if rec == nil {
		return SubmitResult{}, ErrNoRecording
	}

	res, err := d.api.AnswerVoice(ctx, id, VoiceUpload{
		QuestionID: q.ID,
		Data:       rec.Blob,
		Filename:   recordingName(rec),
		Format:     rec.Format,
		Language:   language,
	})
	if err != nil {
		return SubmitResult{}, d.fail(ctx, id, err)
	}
	d.advance(res)

	if err := d.media.Clear(ctx); err != nil {
		return res, fmt.Errorf("answer accepted but recording not cleared: %w", err)
	}
	return res, nil
}

// Stop ends the interview. Calling it again is harmless.
func (d *Driver) Stop(ctx context.Context) (StopResult, error) {
	id, err := d.attached()
	if err != nil {
		return StopResult{}, err
	}
	res, err := d.api.Stop(ctx, id)
	if err != nil {
		return StopResult{}, err
	}
	d.mu.Lock()
	d.state = res.State
	d.current = nil
	d.mu.Unlock()
	return res, nil
}

// Feedback returns the compiled feedback of a completed interview.
func (d *Driver) Feedback(ctx context.Context) (model.Feedback, error) {
	id, err := d.attached()
	if err != nil {
		return model.Feedback{}, err
	}
	return d.api.Feedback(ctx, id)
}

// History returns the interview transcript as chat messages.
func (d *Driver) History(ctx context.Context) ([]model.Message, error) {
	id, err := d.attached()
	if err != nil {
		return nil, err
	}
	return d.api.History(ctx, id)
}

func (d *Driver) attached() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interviewID == "" {
		return "", ErrNotStarted
	}
	return d.interviewID, nil
}

func (d *Driver) answering() (string, model.Question, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.interviewID == "":
		return "", model.Question{}, ErrNotStarted
	case d.state == model.StateCompleted:
		return "", model.Question{}, ErrCompleted
	case d.current == nil:
		return "", model.Question{}, ErrNoQuestion
	}
	return d.interviewID, *d.current, nil
}

func (d *Driver) advance(res SubmitResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = res.State
	d.current = nil
}

// fail re-reads the server session after a protocol error so the local
// state matches what the server committed.
func (d *Driver) fail(ctx context.Context, id string, err error) error {
	if model.KindOf(err) != model.KindProtocol {
		return err
	}
	session, syncErr := d.api.Session(ctx, id)
	if syncErr != nil {
		log.Warn().Err(syncErr).Str("interview_id", id).Msg("resync after protocol error failed")
		return err
	}
	d.mu.Lock()
	if d.interviewID == id {
		d.apply(session)
	}
	d.mu.Unlock()
	return err
}

// apply must be called with d.mu held.
func (d *Driver) apply(session model.Session) {
	d.state = session.State
	d.current = nil
	if session.State != model.StateAwaitingAnswer {
		return
	}
	if turn, ok := session.CurrentTurn(); ok && !turn.Answered() {
		q := turn.Question
		d.current = &q
	}
}

func recordingName(rec *mediastore.Record) string {
	if rec.Format == "" {
		return "answer"
	}
	return "answer." + rec.Format
}
