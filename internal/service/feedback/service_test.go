package feedback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

type countingCompiler struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingCompiler) Compile(ctx context.Context, session model.Session) (model.Feedback, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return model.Feedback{}, c.err
	}
	return model.Feedback{Score: 77, Feedback: "solid"}, nil
}

func completedSession(answers ...string) model.Session {
	now := time.Now().UTC()
	s := model.Session{ID: "s1", State: model.StateCompleted, CreatedAt: now, CompletedAt: &now, StopReason: model.StopFinished}
	for i, a := range answers {
		s.Turns = append(s.Turns, model.Turn{
			Index:    i,
			Question: model.Question{ID: "q", Text: "question"},
			Answer:   &model.Answer{Modality: model.ModalityChat, Content: a},
		})
	}
	return s
}

func TestGetRejectsIncompleteSession(t *testing.T) {
	svc := NewService(nil, nil, Config{})
	defer svc.Close()

	_, err := svc.Get(context.Background(), model.Session{ID: "s1", State: model.StateAwaitingAnswer})
	require.ErrorIs(t, err, model.ErrSessionNotCompleted)
}

func TestGetCompilesOnceAndCaches(t *testing.T) {
	compiler := &countingCompiler{delay: 20 * time.Millisecond}
	svc := NewService(compiler, nil, Config{})
	defer svc.Close()

	session := completedSession("I built X")
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			fb, err := svc.Get(context.Background(), session)
			if err != nil {
				return err
			}
			if fb.Score != 77 {
				return errors.New("unexpected score")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	fb, err := svc.Get(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, "s1", fb.InterviewID)
	require.Equal(t, int32(1), compiler.calls.Load())
}

func TestGetFallsBackToHeuristic(t *testing.T) {
	svc := NewService(&countingCompiler{err: errors.New("llm down")}, nil, Config{})
	defer svc.Close()

	fb, err := svc.Get(context.Background(), completedSession("I built X because latency mattered"))
	require.NoError(t, err)
	require.NotEmpty(t, fb.Feedback)
	require.Greater(t, fb.Score, 0)
}

func TestDegenerateTranscriptIsDeterministic(t *testing.T) {
	compiler := &countingCompiler{}
	svc := NewService(compiler, nil, Config{})
	defer svc.Close()

	session := completedSession()
	session.StopReason = model.StopStopped

	first, err := svc.Get(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, 0, first.Score)
	require.Equal(t, Degenerate(session), first)
	require.Equal(t, int32(0), compiler.calls.Load())
}

func TestScheduleFillsCache(t *testing.T) {
	cache := NewMemoryCache()
	svc := NewService(&countingCompiler{}, cache, Config{})

	svc.Schedule(completedSession("answer"))
	svc.Close()

	_, ok, err := cache.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHeuristicRewardsSignals(t *testing.T) {
	h := NewHeuristicCompiler()
	weak, err := h.Compile(context.Background(), completedSession("yes", "no"))
	require.NoError(t, err)
	strong, err := h.Compile(context.Background(), completedSession(
		"I built the ingestion service because batch jobs were too slow, and reduced latency by 40% for our users.",
		"First we profiled, then I designed a cache so that reads stayed cheap; the trade-off was staleness.",
	))
	require.NoError(t, err)
	require.Greater(t, strong.Score, weak.Score)
	require.Len(t, strong.Highlights, 3)
}

func TestCountWordsHandlesCJK(t *testing.T) {
	require.Equal(t, 3, countWords("hello, big world"))
	require.Equal(t, 4, countWords("我负责过"))
}
