package interview

import (
	"errors"
	"fmt"
)

// Protocol violations: caused by caller misuse or races, safe to retry after
// re-reading the session.
var (
	ErrNoActiveQuestion = errors.New("no active question")
	ErrSessionClosed    = errors.New("session closed")
	ErrEmptyAnswer      = errors.New("empty answer")
)

// Collaborator failures: transient, never mutate committed state.
var (
	ErrQuestionGenerationTimeout = errors.New("question generation timeout")
	ErrQuestionSourceFailed      = errors.New("question source failed")
	ErrTranscriptionUnavailable  = errors.New("transcription unavailable")
	ErrStorageWriteFailed        = errors.New("storage write failed")
	ErrFeedbackUnavailable       = errors.New("feedback unavailable")
)

// Input validation and lookup.
var (
	ErrInvalidDocumentSet  = errors.New("invalid document set")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotCompleted = errors.New("session not completed")
)

// Kind groups errors for callers deciding between retry and re-prompt.
type Kind string

const (
	KindProtocol     Kind = "protocol"
	KindCollaborator Kind = "collaborator"
	KindValidation   Kind = "validation"
	KindLookup       Kind = "lookup"
	KindInternal     Kind = "internal"
)

// Error carries the session state observed when an operation failed.
type Error struct {
	Op        string
	SessionID string
	State     State
	Err       error
}

// NewError wraps err with the session context.
func NewError(op, sessionID string, state State, err error) *Error {
	return &Error{Op: op, SessionID: sessionID, State: state, Err: err}
}

func (e *Error) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s %s (state=%s): %v", e.Op, e.SessionID, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StateOf extracts the session state attached to err, if any.
func StateOf(err error) (State, bool) {
	var e *Error
	if errors.As(err, &e) && e.State != "" {
		return e.State, true
	}
	return "", false
}

// Code returns the wire name of the sentinel wrapped by err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveQuestion):
		return "NoActiveQuestion"
	case errors.Is(err, ErrSessionClosed):
		return "SessionClosed"
	case errors.Is(err, ErrEmptyAnswer):
		return "EmptyAnswer"
	case errors.Is(err, ErrQuestionGenerationTimeout):
		return "QuestionGenerationTimeout"
	case errors.Is(err, ErrQuestionSourceFailed):
		return "QuestionSourceFailed"
	case errors.Is(err, ErrTranscriptionUnavailable):
		return "TranscriptionUnavailable"
	case errors.Is(err, ErrStorageWriteFailed):
		return "StorageWriteFailed"
	case errors.Is(err, ErrFeedbackUnavailable):
		return "FeedbackUnavailable"
	case errors.Is(err, ErrInvalidDocumentSet):
		return "InvalidDocumentSet"
	case errors.Is(err, ErrSessionNotFound):
		return "SessionNotFound"
	case errors.Is(err, ErrSessionNotCompleted):
		return "SessionNotCompleted"
	default:
		return "Internal"
	}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNoActiveQuestion),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrEmptyAnswer):
		return KindProtocol
	case errors.Is(err, ErrQuestionGenerationTimeout),
		errors.Is(err, ErrQuestionSourceFailed),
		errors.Is(err, ErrTranscriptionUnavailable),
		errors.Is(err, ErrStorageWriteFailed),
		errors.Is(err, ErrFeedbackUnavailable):
		return KindCollaborator
	case errors.Is(err, ErrInvalidDocumentSet):
		return KindValidation
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionNotCompleted):
		return KindLookup
	default:
		return KindInternal
	}
}

// Retryable reports whether the same call may succeed after re-reading state.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProtocol, KindCollaborator:
		return true
	default:
		return errors.Is(err, ErrSessionNotCompleted)
	}
}
