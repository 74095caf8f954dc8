package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// DefaultCompileTimeout bounds one compiler call.
const DefaultCompileTimeout = 60 * time.Second

// Compiler turns a completed transcript into a score and narrative.
type Compiler interface {
	Compile(ctx context.Context, session model.Session) (model.Feedback, error)
}

// Cache stores compiled feedback per interview.
type Cache interface {
	Get(ctx context.Context, interviewID string) (model.Feedback, bool, error)
	Set(ctx context.Context, fb model.Feedback) error
}

// Config controls the feedback service.
type Config struct {
	Timeout time.Duration
}

// Service compiles feedback at most once per completed transcript and serves
// repeated reads from the cache.
type Service struct {
	compiler Compiler
	fallback Compiler
	cache    Cache
	timeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	group   singleflight.Group
	wg      sync.WaitGroup
}

// NewService creates a feedback service. compiler may be nil, in which case
// the heuristic compiler is used alone.
func NewService(compiler Compiler, cache Cache, cfg Config) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCompileTimeout
	}
	heuristic := NewHeuristicCompiler()
	if compiler == nil {
		compiler = heuristic
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		compiler: compiler,
		fallback: heuristic,
		cache:    cache,
		timeout:  timeout,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Get returns feedback for a completed session, compiling it on first use.
func (s *Service) Get(ctx context.Context, session model.Session) (model.Feedback, error) {
	if !session.Completed() {
		return model.Feedback{}, model.NewError("feedback", session.ID, session.State, model.ErrSessionNotCompleted)
	}

	if fb, ok, err := s.cache.Get(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("interview_id", session.ID).Msg("feedback cache read failed")
	} else if ok {
		return fb, nil
	}

	ch := s.group.DoChan(session.ID, func() (any, error) {
		return s.compile(session)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Feedback{}, res.Err
		}
		return res.Val.(model.Feedback), nil
	case <-ctx.Done():
		return model.Feedback{}, ctx.Err()
	}
}

// Schedule compiles feedback in the background. It is used as the sequencer's
// completion hook so the report is usually ready before the first read.
func (s *Service) Schedule(session model.Session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Get(s.baseCtx, session); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("interview_id", session.ID).Msg("background feedback compile failed")
		}
	}()
}

// Close waits for background compiles, then cancels the service context.
func (s *Service) Close() {
	s.wg.Wait()
	s.cancel()
}

func (s *Service) compile(session model.Session) (model.Feedback, error) {
	// Double-check: another flight may have filled the cache meanwhile.
	if fb, ok, err := s.cache.Get(s.baseCtx, session.ID); err == nil && ok {
		return fb, nil
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()

	var (
		fb  model.Feedback
		err error
	)
	if session.AnsweredCount() == 0 {
		fb = Degenerate(session)
	} else {
		fb, err = s.compiler.Compile(ctx, session)
		if err != nil && s.fallback != nil && s.fallback != s.compiler {
			log.Warn().Err(err).Str("interview_id", session.ID).Msg("feedback compiler failed, using heuristic")
			fb, err = s.fallback.Compile(ctx, session)
		}
		if err != nil {
			return model.Feedback{}, model.NewError("feedback", session.ID, session.State,
				fmt.Errorf("%w: %w", model.ErrFeedbackUnavailable, err))
		}
	}

	fb.InterviewID = session.ID
	fb.Score = clampScore(fb.Score)
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	if err := s.cache.Set(s.baseCtx, fb); err != nil {
		log.Warn().Err(err).Str("interview_id", session.ID).Msg("feedback cache write failed")
	}
	log.Info().Str("interview_id", session.ID).Int("score", fb.Score).Msg("feedback compiled")
	return fb, nil
}

// Degenerate is the deterministic report for a transcript without answers.
func Degenerate(session model.Session) model.Feedback {
	at := session.CreatedAt
	if session.CompletedAt != nil {
		at = *session.CompletedAt
	}
	narrative := "The interview ended before any question was answered, so there is nothing to assess."
	if len(session.Turns) > 0 {
		narrative = fmt.Sprintf("The interview ended after %d question(s) without any answer, so there is nothing to assess.", len(session.Turns))
	}
	return model.Feedback{
		InterviewID: session.ID,
		Score:       0,
		Feedback:    narrative,
		CreatedAt:   at,
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
