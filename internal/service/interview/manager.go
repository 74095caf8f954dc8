package interview

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/answer"
)

// DocumentValidator is the external document service boundary.
type DocumentValidator interface {
	ValidateOwned(ctx context.Context, ownerID string, ids []string) error
}

// AnswerIngester normalizes the two answer modalities.
type AnswerIngester interface {
	Chat(content string) (model.Answer, error)
	Voice(ctx context.Context, sessionID string, audio answer.Audio) (model.Answer, error)
}

// FeedbackProvider serves compiled feedback for completed sessions.
type FeedbackProvider interface {
	Get(ctx context.Context, session model.Session) (model.Feedback, error)
}

// VoiceResult is a SubmitResult plus the transcript that was recorded.
type VoiceResult struct {
	SubmitResult
	Transcript string `json:"transcript"`
}

// Manager orchestrates the sequencer with ownership checks, answer
// ingestion and feedback. Every call takes the caller identity explicitly.
type Manager struct {
	seq      *Sequencer
	docs     DocumentValidator
	ingester AnswerIngester
	feedback FeedbackProvider
}

// NewManager wires the manager. docs may be nil to skip ownership checks.
func NewManager(seq *Sequencer, docs DocumentValidator, ingester AnswerIngester, feedback FeedbackProvider) *Manager {
	return &Manager{seq: seq, docs: docs, ingester: ingester, feedback: feedback}
}

// Create validates the document set with the document service and opens a session.
func (m *Manager) Create(ctx context.Context, ownerID string, documentIDs []string) (model.Session, error) {
	ids := NormalizeDocumentIDs(documentIDs)
	if len(ids) == 0 {
		return model.Session{}, model.NewError(opCreate, "", "", model.ErrInvalidDocumentSet)
	}
	if m.docs != nil {
		if err := m.docs.ValidateOwned(ctx, ownerID, ids); err != nil {
			return model.Session{}, model.NewError(opCreate, "", "", fmt.Errorf("%w: %w", model.ErrInvalidDocumentSet, err))
		}
	}
	return m.seq.Create(ctx, ownerID, ids)
}

// Session returns a snapshot of the caller's session.
func (m *Manager) Session(ctx context.Context, ownerID, sessionID string) (model.Session, error) {
	return m.authorize(ctx, opRead, ownerID, sessionID)
}

// NextQuestion returns the active question or requests the next one.
func (m *Manager) NextQuestion(ctx context.Context, ownerID, sessionID string) (model.Question, error) {
	if _, err := m.authorize(ctx, opNext, ownerID, sessionID); err != nil {
		return model.Question{}, err
	}
	return m.seq.NextQuestion(ctx, sessionID)
}

// SubmitChat records a typed answer.
func (m *Manager) SubmitChat(ctx context.Context, ownerID, sessionID, questionID, content string) (SubmitResult, error) {
	snap, err := m.authorize(ctx, opSubmit, ownerID, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	ans, err := m.ingester.Chat(content)
	if err != nil {
		return SubmitResult{}, model.NewError(opSubmit, sessionID, snap.State, err)
	}
	return m.seq.SubmitAnswer(ctx, sessionID, Submission{
		QuestionID: questionID,
		Modality:   ans.Modality,
		Content:    ans.Content,
	})
}

// SubmitVoice transcribes audio and records it against the question that was
// current when transcription started. A failed transcription leaves the turn
// untouched so the candidate can re-record.
func (m *Manager) SubmitVoice(ctx context.Context, ownerID, sessionID, questionID string, audio answer.Audio) (VoiceResult, error) {
	snap, err := m.authorize(ctx, opSubmit, ownerID, sessionID)
	if err != nil {
		return VoiceResult{}, err
	}
	// Fail fast before paying for transcription.
	switch snap.State {
	case model.StateCompleted:
		return VoiceResult{}, model.NewError(opSubmit, sessionID, snap.State, model.ErrSessionClosed)
	case model.StateAwaitingAnswer:
	default:
		return VoiceResult{}, model.NewError(opSubmit, sessionID, snap.State, model.ErrNoActiveQuestion)
	}
	current, _ := snap.CurrentTurn()
	if questionID != "" && questionID != current.Question.ID {
		return VoiceResult{}, model.NewError(opSubmit, sessionID, snap.State,
			fmt.Errorf("%w: question %s is not current (current %s)", model.ErrNoActiveQuestion, questionID, current.Question.ID))
	}

	// Stop cancels an in-flight transcription.
	voiceCtx, cancel := m.seq.sessionContext(ctx, sessionID)
	ans, err := m.ingester.Voice(voiceCtx, sessionID, audio)
	cancel()
	if err != nil {
		state := snap.State
		if latest, lerr := m.seq.Snapshot(ctx, sessionID); lerr == nil {
			state = latest.State
		}
		if state == model.StateCompleted {
			return VoiceResult{}, model.NewError(opSubmit, sessionID, state, model.ErrSessionClosed)
		}
		return VoiceResult{}, model.NewError(opSubmit, sessionID, state, err)
	}

	res, err := m.seq.SubmitAnswer(ctx, sessionID, Submission{
		QuestionID: current.Question.ID,
		Modality:   ans.Modality,
		Content:    ans.Content,
	})
	if err != nil {
		return VoiceResult{}, err
	}
	return VoiceResult{SubmitResult: res, Transcript: ans.Content}, nil
}

// Stop ends the session early; feedback is scheduled by the completion hook.
func (m *Manager) Stop(ctx context.Context, ownerID, sessionID string) (model.Session, error) {
	if _, err := m.authorize(ctx, opStop, ownerID, sessionID); err != nil {
		return model.Session{}, err
	}
	return m.seq.Stop(ctx, sessionID)
}

// Feedback returns the compiled report; the session must be COMPLETED.
func (m *Manager) Feedback(ctx context.Context, ownerID, sessionID string) (model.Feedback, error) {
	snap, err := m.authorize(ctx, "feedback", ownerID, sessionID)
	if err != nil {
		return model.Feedback{}, err
	}
	if !snap.Completed() {
		return model.Feedback{}, model.NewError("feedback", sessionID, snap.State, model.ErrSessionNotCompleted)
	}
	if m.feedback == nil {
		return model.Feedback{}, model.NewError("feedback", sessionID, snap.State, model.ErrFeedbackUnavailable)
	}
	return m.feedback.Get(ctx, snap)
}

// History returns the conversation view of the session in any state.
func (m *Manager) History(ctx context.Context, ownerID, sessionID string) ([]model.Message, error) {
	snap, err := m.authorize(ctx, opRead, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	return model.Messages(snap.Turns), nil
}

// authorize hides sessions owned by someone else behind ErrSessionNotFound.
func (m *Manager) authorize(ctx context.Context, op, ownerID, sessionID string) (model.Session, error) {
	snap, err := m.seq.Snapshot(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if snap.OwnerID != ownerID {
		log.Warn().Str("interview_id", sessionID).Str("caller", ownerID).Str("op", op).Msg("interview access by non-owner")
		return model.Session{}, model.NewError(op, sessionID, "", model.ErrSessionNotFound)
	}
	return snap, nil
}
