package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

const (
	opCreate = "create"
	opNext   = "next question"
	opSubmit = "submit answer"
	opStop   = "stop"
	opRead   = "read"

	// DefaultQuestionTimeout bounds a single question-source call.
	DefaultQuestionTimeout = 30 * time.Second

	// DefaultRetention is how long a completed session stays readable.
	DefaultRetention = 24 * time.Hour
)

var (
	ErrOwnerRequired   = errors.New("owner id is required")
	ErrUnknownModality = errors.New("unknown answer modality")
)

// QuestionRequest is what the question source sees of a session.
type QuestionRequest struct {
	SessionID   string
	DocumentIDs []string
	Turns       []model.Turn
}

// GeneratedQuestion is the question source's reply. IsLast is trusted verbatim.
type GeneratedQuestion struct {
	Text   string
	IsLast bool
}

// QuestionSource produces the next question for a session.
type QuestionSource interface {
	NextQuestion(ctx context.Context, req QuestionRequest) (GeneratedQuestion, error)
}

// Submission is an answer aimed at the current turn. An empty QuestionID
// targets whatever turn is current.
type Submission struct {
	QuestionID string
	Modality   model.Modality
	Content    string
}

// SubmitResult reports where the session landed after an answer.
type SubmitResult struct {
	TurnIndex int         `json:"turnIndex"`
	IsLast    bool        `json:"isLast"`
	State     model.State `json:"state"`
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithQuestionTimeout bounds question generation.
func WithQuestionTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetention sets how long completed sessions are kept before eviction.
// Zero or negative disables eviction.
func WithRetention(d time.Duration) Option {
	return func(s *Sequencer) {
		s.retention = d
	}
}

// WithCompletionHook registers fn to run once per session when it reaches
// COMPLETED. fn runs outside the session lock.
func WithCompletionHook(fn func(model.Session)) Option {
	return func(s *Sequencer) {
		s.onComplete = append(s.onComplete, fn)
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) {
		if now != nil {
			s.now = now
		}
	}
}

type entry struct {
	mu      sync.Mutex
	session model.Session
	// life is cancelled when the session completes, aborting in-flight generation.
	life   context.Context
	cancel context.CancelFunc
}

// Sequencer is the turn-taking state machine:
// CREATED -> AWAITING_ANSWER -> ADVANCING -> (AWAITING_ANSWER | COMPLETED).
//
// Mutations of one session serialize on that session's lock; sessions are
// independent of each other.
type Sequencer struct {
	source     QuestionSource
	timeout    time.Duration
	retention  time.Duration
	now        func() time.Time
	onComplete []func(model.Session)

	mu        sync.RWMutex
	sessions  map[string]*entry
	lastSweep time.Time
	inflight  singleflight.Group
}

type generation struct {
	question GeneratedQuestion
	err      error
}

// NewSequencer creates a sequencer backed by source.
func NewSequencer(source QuestionSource, opts ...Option) *Sequencer {
	s := &Sequencer{
		source:    source,
		timeout:   DefaultQuestionTimeout,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		sessions:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create provisions a session in CREATED. No question is issued yet.
func (s *Sequencer) Create(_ context.Context, ownerID string, documentIDs []string) (model.Session, error) {
	if strings.TrimSpace(ownerID) == "" {
		return model.Session{}, ErrOwnerRequired
	}
	ids := NormalizeDocumentIDs(documentIDs)
	if len(ids) == 0 {
		return model.Session{}, model.NewError(opCreate, "", "", model.ErrInvalidDocumentSet)
	}

	life, cancel := context.WithCancel(context.Background())
	e := &entry{
		session: model.Session{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			DocumentIDs: ids,
			State:       model.StateCreated,
			Turns:       make([]model.Turn, 0, 8),
			CreatedAt:   s.now(),
		},
		life:   life,
		cancel: cancel,
	}

	s.mu.Lock()
	s.evictExpiredLocked()
	s.sessions[e.session.ID] = e
	s.mu.Unlock()

	log.Info().Str("interview_id", e.session.ID).Int("documents", len(ids)).Msg("interview created")
	return e.session.Clone(), nil
}

// NextQuestion returns the active question, requesting a new one from the
// question source when the session is CREATED or ADVANCING. Repeated calls
// without an answer return the same question.
func (s *Sequencer) NextQuestion(ctx context.Context, sessionID string) (model.Question, error) {
	e, err := s.lookup(sessionID, opNext)
	if err != nil {
		return model.Question{}, err
	}

	e.mu.Lock()
	state := e.session.State
	switch state {
	case model.StateCompleted:
		e.mu.Unlock()
		return model.Question{}, model.NewError(opNext, sessionID, state, model.ErrSessionClosed)
	case model.StateAwaitingAnswer:
		turn, _ := e.session.CurrentTurn()
		e.mu.Unlock()
		return turn.Question, nil
	}
	e.mu.Unlock()

	// Concurrent callers share one generation call; the rest observe its turn.
	ch := s.inflight.DoChan(sessionID, func() (any, error) {
		return s.generate(e)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Question{}, res.Err
		}
		return res.Val.(model.Question), nil
	case <-ctx.Done():
		return model.Question{}, model.NewError(opNext, sessionID, "", ctx.Err())
	}
}

func (s *Sequencer) generate(e *entry) (model.Question, error) {
	e.mu.Lock()
	id := e.session.ID
	switch e.session.State {
	case model.StateCompleted:
		e.mu.Unlock()
		return model.Question{}, model.NewError(opNext, id, model.StateCompleted, model.ErrSessionClosed)
	case model.StateAwaitingAnswer:
		turn, _ := e.session.CurrentTurn()
		e.mu.Unlock()
		return turn.Question, nil
	}
	snapshot := e.session.Clone()
	life := e.life
	e.mu.Unlock()

	index := len(snapshot.Turns)
	genCtx, cancel := context.WithTimeout(life, s.timeout)
	defer cancel()

	started := time.Now()
	// The source may ignore genCtx; the caller is released at the deadline
	// and a result arriving after it is discarded.
	done := make(chan generation, 1)
	go func() {
		q, err := s.source.NextQuestion(genCtx, QuestionRequest{
			SessionID:   id,
			DocumentIDs: snapshot.DocumentIDs,
			Turns:       snapshot.Turns,
		})
		done <- generation{question: q, err: err}
	}()

	var (
		generated GeneratedQuestion
		genErr    error
	)
	select {
	case res := <-done:
		generated, genErr = res.question, res.err
	case <-genCtx.Done():
		genErr = genCtx.Err()
	}
	if genErr == nil && genCtx.Err() != nil {
		genErr = genCtx.Err()
	}
	text := strings.TrimSpace(generated.Text)
	if genErr == nil && text == "" {
		genErr = errors.New("question source returned empty text")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.session.State
	if state == model.StateCompleted || life.Err() != nil {
		log.Debug().Str("interview_id", id).Msg("discarding generated question for closed interview")
		return model.Question{}, model.NewError(opNext, id, model.StateCompleted, model.ErrSessionClosed)
	}
	if genErr != nil {
		if errors.Is(genErr, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			log.Warn().Str("interview_id", id).Dur("elapsed", time.Since(started)).Msg("question generation timed out")
			return model.Question{}, model.NewError(opNext, id, state, model.ErrQuestionGenerationTimeout)
		}
		log.Warn().Err(genErr).Str("interview_id", id).Msg("question generation failed")
		return model.Question{}, model.NewError(opNext, id, state, fmt.Errorf("%w: %w", model.ErrQuestionSourceFailed, genErr))
	}
	if state == model.StateAwaitingAnswer || len(e.session.Turns) != index {
		turn, _ := e.session.CurrentTurn()
		return turn.Question, nil
	}

	q := model.Question{
		ID:        fmt.Sprintf("q%d", index),
		Text:      text,
		CreatedAt: s.now(),
		IsLast:    generated.IsLast,
	}
	e.session.Turns = append(e.session.Turns, model.Turn{Index: index, Question: q})
	e.session.State = model.StateAwaitingAnswer

	log.Info().
		Str("interview_id", id).
		Int("turn", index).
		Bool("is_last", q.IsLast).
		Dur("elapsed", time.Since(started)).
		Msg("question issued")
	return q, nil
}

// SubmitAnswer writes an answer onto the current turn. Chat answers must be
// non-blank; voice answers may be empty (silence is a legitimate answer).
func (s *Sequencer) SubmitAnswer(ctx context.Context, sessionID string, sub Submission) (SubmitResult, error) {
	e, err := s.lookup(sessionID, opSubmit)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, model.NewError(opSubmit, sessionID, "", err)
	}

	res, completed, err := s.submitLocked(e, sub)
	if err != nil {
		return SubmitResult{}, err
	}
	if completed != nil {
		s.notify(*completed)
	}
	return res, nil
}

func (s *Sequencer) submitLocked(e *entry, sub Submission) (SubmitResult, *model.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.session.ID
	state := e.session.State
	switch {
	case state == model.StateCompleted:
		return SubmitResult{}, nil, model.NewError(opSubmit, id, state, model.ErrSessionClosed)
	case state != model.StateAwaitingAnswer:
		return SubmitResult{}, nil, model.NewError(opSubmit, id, state, model.ErrNoActiveQuestion)
	case !sub.Modality.Valid():
		return SubmitResult{}, nil, model.NewError(opSubmit, id, state, fmt.Errorf("%w: %q", ErrUnknownModality, sub.Modality))
	}

	turn := &e.session.Turns[len(e.session.Turns)-1]
	if sub.QuestionID != "" && sub.QuestionID != turn.Question.ID {
		return SubmitResult{}, nil, model.NewError(opSubmit, id, state,
			fmt.Errorf("%w: question %s is not current (current %s)", model.ErrNoActiveQuestion, sub.QuestionID, turn.Question.ID))
	}
	if sub.Modality == model.ModalityChat && strings.TrimSpace(sub.Content) == "" {
		return SubmitResult{}, nil, model.NewError(opSubmit, id, state, model.ErrEmptyAnswer)
	}

	turn.Answer = &model.Answer{
		Modality:  sub.Modality,
		Content:   sub.Content,
		CreatedAt: s.now(),
	}
	e.session.State = model.StateAdvancing
	res := SubmitResult{TurnIndex: turn.Index, IsLast: turn.Question.IsLast, State: model.StateAdvancing}

	log.Info().
		Str("interview_id", id).
		Int("turn", turn.Index).
		Str("modality", string(sub.Modality)).
		Bool("empty", sub.Content == "").
		Msg("answer recorded")

	if !turn.Question.IsLast {
		return res, nil, nil
	}
	s.completeLocked(e, model.StopFinished)
	res.State = model.StateCompleted
	snap := e.session.Clone()
	return res, &snap, nil
}

// Stop ends the session early. It is valid from any state, idempotent once
// COMPLETED, and wins against in-flight generation or answers.
func (s *Sequencer) Stop(_ context.Context, sessionID string) (model.Session, error) {
	e, err := s.lookup(sessionID, opStop)
	if err != nil {
		return model.Session{}, err
	}

	e.mu.Lock()
	if e.session.State == model.StateCompleted {
		snap := e.session.Clone()
		e.mu.Unlock()
		return snap, nil
	}
	from := e.session.State
	s.completeLocked(e, model.StopStopped)
	snap := e.session.Clone()
	e.mu.Unlock()

	log.Info().Str("interview_id", sessionID).Str("from", string(from)).Int("turns", len(snap.Turns)).Msg("interview stopped")
	s.notify(snap)
	return snap, nil
}

// Snapshot returns a deep copy of the session in any state.
func (s *Sequencer) Snapshot(_ context.Context, sessionID string) (model.Session, error) {
	e, err := s.lookup(sessionID, opRead)
	if err != nil {
		return model.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// evictExpiredLocked drops sessions completed longer than the retention ago.
// It runs at most once per sweep interval and must be called with s.mu held.
func (s *Sequencer) evictExpiredLocked() {
	if s.retention <= 0 {
		return
	}
	now := s.now()
	interval := min(s.retention, time.Minute)
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < interval {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-s.retention)
	evicted := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		expired := e.session.CompletedAt != nil && e.session.CompletedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Int("remaining", len(s.sessions)).Msg("evicted completed interviews")
	}
}

// sessionContext derives a context from ctx that is also cancelled when the
// session completes. Unknown sessions get a plain child of ctx.
func (s *Sequencer) sessionContext(ctx context.Context, sessionID string) (context.Context, context.CancelFunc) {
	out, cancel := context.WithCancel(ctx)
	e, err := s.lookup(sessionID, opRead)
	if err != nil {
		return out, cancel
	}
	e.mu.Lock()
	life := e.life
	e.mu.Unlock()
	stop := context.AfterFunc(life, cancel)
	return out, func() {
		stop()
		cancel()
	}
}

func (s *Sequencer) completeLocked(e *entry, reason model.StopReason) {
	at := s.now()
	e.session.State = model.StateCompleted
	e.session.StopReason = reason
	e.session.CompletedAt = &at
	e.cancel()
}

func (s *Sequencer) notify(session model.Session) {
	for _, fn := range s.onComplete {
		fn(session.Clone())
	}
}

func (s *Sequencer) lookup(sessionID, op string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, model.NewError(op, sessionID, "", model.ErrSessionNotFound)
	}
	return e, nil
}

// NormalizeDocumentIDs trims, drops blanks and de-duplicates while keeping order.
func NormalizeDocumentIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
