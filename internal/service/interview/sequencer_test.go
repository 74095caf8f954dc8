package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

type sourceFunc func(ctx context.Context, req QuestionRequest) (GeneratedQuestion, error)

func (f sourceFunc) NextQuestion(ctx context.Context, req QuestionRequest) (GeneratedQuestion, error) {
	return f(ctx, req)
}

// scripted returns one question per turn; the question at lastIndex is marked last.
func scripted(lastIndex int, calls *int32) QuestionSource {
	return sourceFunc(func(_ context.Context, req QuestionRequest) (GeneratedQuestion, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		n := len(req.Turns)
		return GeneratedQuestion{Text: fmt.Sprintf("question %d", n), IsLast: n == lastIndex}, nil
	})
}

func chat(text string) Submission {
	return Submission{Modality: model.ModalityChat, Content: text}
}

func requireInvariants(t *testing.T, s model.Session) {
	t.Helper()
	unanswered := 0
	for i, turn := range s.Turns {
		require.Equal(t, i, turn.Index)
		require.Equal(t, fmt.Sprintf("q%d", i), turn.Question.ID)
		if !turn.Answered() {
			unanswered++
			require.Equal(t, len(s.Turns)-1, i, "only the last turn may be unanswered")
		}
	}
	require.LessOrEqual(t, unanswered, 1)
	if s.State == model.StateAwaitingAnswer {
		require.Equal(t, 1, unanswered)
	}
	if s.Completed() {
		require.NotNil(t, s.CompletedAt)
		require.NotEmpty(t, s.StopReason)
	}
}

func TestCreateStartsInCreated(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	s, err := seq.Create(context.Background(), "u1", []string{" d1 ", "d1", "", "d2"})
	require.NoError(t, err)
	require.Equal(t, model.StateCreated, s.State)
	require.Equal(t, []string{"d1", "d2"}, s.DocumentIDs)
	require.Empty(t, s.Turns)
	require.NotEmpty(t, s.ID)
}

func TestCreateRejectsEmptyDocumentSet(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	_, err := seq.Create(context.Background(), "u1", []string{" ", ""})
	require.ErrorIs(t, err, model.ErrInvalidDocumentSet)

	_, err = seq.Create(context.Background(), "", []string{"d1"})
	require.ErrorIs(t, err, ErrOwnerRequired)
}

func TestNextQuestionIsIdempotentWhileAwaiting(t *testing.T) {
	var calls int32
	seq := NewSequencer(scripted(3, &calls))
	ctx := context.Background()
	s, err := seq.Create(ctx, "u1", []string{"d1"})
	require.NoError(t, err)

	first, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	second, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, "q0", first.ID)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubmitBeforeNextQuestion(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	s, err := seq.Create(ctx, "u1", []string{"d1"})
	require.NoError(t, err)

	_, err = seq.SubmitAnswer(ctx, s.ID, chat("hello"))
	require.ErrorIs(t, err, model.ErrNoActiveQuestion)
	state, ok := model.StateOf(err)
	require.True(t, ok)
	require.Equal(t, model.StateCreated, state)
}

func TestSubmitTwiceForSameTurn(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)

	_, err = seq.SubmitAnswer(ctx, s.ID, chat("first"))
	require.NoError(t, err)
	_, err = seq.SubmitAnswer(ctx, s.ID, chat("second"))
	require.ErrorIs(t, err, model.ErrNoActiveQuestion)

	snap, err := seq.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "first", snap.Turns[0].Answer.Content)
	require.Equal(t, model.StateAdvancing, snap.State)
}

func TestSubmitRejectsBlankChatButAcceptsEmptyVoice(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)

	_, err = seq.SubmitAnswer(ctx, s.ID, chat("   "))
	require.ErrorIs(t, err, model.ErrEmptyAnswer)

	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Equal(t, model.StateAwaitingAnswer, snap.State)
	require.False(t, snap.Turns[0].Answered())

	res, err := seq.SubmitAnswer(ctx, s.ID, Submission{Modality: model.ModalityVoice, Content: ""})
	require.NoError(t, err)
	require.Equal(t, 0, res.TurnIndex)
	require.Equal(t, model.StateAdvancing, res.State)
}

func TestSubmitRejectsUnknownModality(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, _ = seq.NextQuestion(ctx, s.ID)

	_, err := seq.SubmitAnswer(ctx, s.ID, Submission{Modality: "video", Content: "x"})
	require.ErrorIs(t, err, ErrUnknownModality)
}

func TestSubmitWithStaleQuestionID(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, _ = seq.NextQuestion(ctx, s.ID)
	_, err := seq.SubmitAnswer(ctx, s.ID, chat("a0"))
	require.NoError(t, err)
	q1, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "q1", q1.ID)

	_, err = seq.SubmitAnswer(ctx, s.ID, Submission{QuestionID: "q0", Modality: model.ModalityChat, Content: "late"})
	require.ErrorIs(t, err, model.ErrNoActiveQuestion)

	res, err := seq.SubmitAnswer(ctx, s.ID, Submission{QuestionID: "q1", Modality: model.ModalityChat, Content: "a1"})
	require.NoError(t, err)
	require.Equal(t, 1, res.TurnIndex)
}

func TestLastQuestionCompletesSession(t *testing.T) {
	var completed []model.Session
	seq := NewSequencer(scripted(1, nil), WithCompletionHook(func(s model.Session) {
		completed = append(completed, s)
	}))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	q0, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, q0.IsLast)
	res, err := seq.SubmitAnswer(ctx, s.ID, chat("a0"))
	require.NoError(t, err)
	require.False(t, res.IsLast)

	q1, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, q1.IsLast)
	res, err = seq.SubmitAnswer(ctx, s.ID, chat("a1"))
	require.NoError(t, err)
	require.True(t, res.IsLast)
	require.Equal(t, model.StateCompleted, res.State)

	snap, _ := seq.Snapshot(ctx, s.ID)
	requireInvariants(t, snap)
	require.Equal(t, model.StopFinished, snap.StopReason)
	require.Len(t, snap.Turns, 2)
	require.Len(t, completed, 1)

	_, err = seq.SubmitAnswer(ctx, s.ID, chat("more"))
	require.ErrorIs(t, err, model.ErrSessionClosed)
	_, err = seq.NextQuestion(ctx, s.ID)
	require.ErrorIs(t, err, model.ErrSessionClosed)
}

func TestStopIsIdempotent(t *testing.T) {
	var hooks int32
	seq := NewSequencer(scripted(5, nil), WithCompletionHook(func(model.Session) {
		atomic.AddInt32(&hooks, 1)
	}))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, _ = seq.NextQuestion(ctx, s.ID)

	first, err := seq.Stop(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateCompleted, first.State)
	require.Equal(t, model.StopStopped, first.StopReason)

	second, err := seq.Stop(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, first.CompletedAt, second.CompletedAt)
	require.EqualValues(t, 1, atomic.LoadInt32(&hooks))

	// The unanswered question stays unanswered.
	require.Len(t, second.Turns, 1)
	require.False(t, second.Turns[0].Answered())
	requireInvariants(t, second)
}

func TestStopRightAfterCreate(t *testing.T) {
	var calls int32
	seq := NewSequencer(scripted(3, &calls))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	stopped, err := seq.Stop(ctx, s.ID)
	require.NoError(t, err)
	require.Empty(t, stopped.Turns)
	require.Equal(t, model.StateCompleted, stopped.State)
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestUnknownSession(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()

	_, err := seq.NextQuestion(ctx, "missing")
	require.ErrorIs(t, err, model.ErrSessionNotFound)
	_, err = seq.SubmitAnswer(ctx, "missing", chat("x"))
	require.ErrorIs(t, err, model.ErrSessionNotFound)
	_, err = seq.Stop(ctx, "missing")
	require.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestConcurrentNextQuestionCallsSourceOnce(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	src := sourceFunc(func(ctx context.Context, req QuestionRequest) (GeneratedQuestion, error) {
		atomic.AddInt32(&calls, 1)
		once.Do(func() { close(started) })
		<-release
		return GeneratedQuestion{Text: "tell me about yourself"}, nil
	})
	seq := NewSequencer(src)
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	const callers = 8
	results := make([]model.Question, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = seq.NextQuestion(ctx, s.ID)
		}(i)
	}
	<-started
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Len(t, snap.Turns, 1)
	requireInvariants(t, snap)
}

func TestStopWinsOverInflightGeneration(t *testing.T) {
	started := make(chan struct{})
	src := sourceFunc(func(ctx context.Context, req QuestionRequest) (GeneratedQuestion, error) {
		close(started)
		<-ctx.Done()
		return GeneratedQuestion{}, ctx.Err()
	})
	seq := NewSequencer(src, WithQuestionTimeout(5*time.Second))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	errCh := make(chan error, 1)
	go func() {
		_, err := seq.NextQuestion(ctx, s.ID)
		errCh <- err
	}()
	<-started

	stopped, err := seq.Stop(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateCompleted, stopped.State)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, model.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("generation was not aborted by stop")
	}

	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Empty(t, snap.Turns)
	require.Equal(t, model.StateCompleted, snap.State)
}

func TestStopWinsWhenGenerationReturnsLate(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := sourceFunc(func(_ context.Context, _ QuestionRequest) (GeneratedQuestion, error) {
		close(started)
		<-release
		return GeneratedQuestion{Text: "ignored"}, nil
	})
	seq := NewSequencer(src)
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	errCh := make(chan error, 1)
	go func() {
		_, err := seq.NextQuestion(ctx, s.ID)
		errCh <- err
	}()
	<-started
	_, err := seq.Stop(ctx, s.ID)
	require.NoError(t, err)
	close(release)

	require.ErrorIs(t, <-errCh, model.ErrSessionClosed)
	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Empty(t, snap.Turns)
}

func TestGenerationTimeoutLeavesNoPartialTurn(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	src := sourceFunc(func(ctx context.Context, req QuestionRequest) (GeneratedQuestion, error) {
		if slow.Load() {
			<-ctx.Done()
			return GeneratedQuestion{}, ctx.Err()
		}
		return GeneratedQuestion{Text: "recovered"}, nil
	})
	seq := NewSequencer(src, WithQuestionTimeout(20*time.Millisecond))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	_, err := seq.NextQuestion(ctx, s.ID)
	require.ErrorIs(t, err, model.ErrQuestionGenerationTimeout)
	require.True(t, model.Retryable(err))

	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Equal(t, model.StateCreated, snap.State)
	require.Empty(t, snap.Turns)

	slow.Store(false)
	q, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "q0", q.ID)
	require.Equal(t, "recovered", q.Text)
}

func TestGenerationTimeoutWithSourceIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	var calls int32
	src := sourceFunc(func(_ context.Context, _ QuestionRequest) (GeneratedQuestion, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			return GeneratedQuestion{Text: "too late"}, nil
		}
		return GeneratedQuestion{Text: "second try"}, nil
	})
	seq := NewSequencer(src, WithQuestionTimeout(50*time.Millisecond))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	start := time.Now()
	_, err := seq.NextQuestion(ctx, s.ID)
	require.ErrorIs(t, err, model.ErrQuestionGenerationTimeout)
	require.Less(t, time.Since(start), time.Second)

	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Equal(t, model.StateCreated, snap.State)
	require.Empty(t, snap.Turns)

	q, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "q0", q.ID)
	require.Equal(t, "second try", q.Text)
}

func TestLateResultPastDeadlineIsTimeout(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, _ QuestionRequest) (GeneratedQuestion, error) {
		<-ctx.Done()
		// 超时后仍然返回结果
		return GeneratedQuestion{Text: "late"}, nil
	})
	seq := NewSequencer(src, WithQuestionTimeout(20*time.Millisecond))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	_, err := seq.NextQuestion(ctx, s.ID)
	require.ErrorIs(t, err, model.ErrQuestionGenerationTimeout)
	snap, _ := seq.Snapshot(ctx, s.ID)
	require.Empty(t, snap.Turns)
}

func TestCompletedSessionsAreEvictedAfterRetention(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	seq := NewSequencer(scripted(3, nil), WithClock(clock), WithRetention(time.Hour))
	ctx := context.Background()

	done, _ := seq.Create(ctx, "u1", []string{"d1"})
	active, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, err := seq.Stop(ctx, done.ID)
	require.NoError(t, err)

	advance(30 * time.Minute)
	_, _ = seq.Create(ctx, "u1", []string{"d1"})
	_, err = seq.Snapshot(ctx, done.ID)
	require.NoError(t, err, "still within retention")

	advance(2 * time.Hour)
	_, _ = seq.Create(ctx, "u1", []string{"d1"})
	_, err = seq.Snapshot(ctx, done.ID)
	require.ErrorIs(t, err, model.ErrSessionNotFound)

	snap, err := seq.Snapshot(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateCreated, snap.State)
}

func TestGenerationFailureIsRetryable(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	src := sourceFunc(func(_ context.Context, _ QuestionRequest) (GeneratedQuestion, error) {
		if fail.Load() {
			return GeneratedQuestion{}, errors.New("upstream 500")
		}
		return GeneratedQuestion{Text: "ok"}, nil
	})
	seq := NewSequencer(src)
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, err := seq.NextQuestion(ctx, s.ID)
	require.ErrorIs(t, err, model.ErrQuestionSourceFailed)
	require.False(t, errors.Is(err, model.ErrQuestionGenerationTimeout))

	fail.Store(false)
	q, err := seq.NextQuestion(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "q0", q.ID)
}

func TestEmptyGeneratedTextIsSourceFailure(t *testing.T) {
	src := sourceFunc(func(_ context.Context, _ QuestionRequest) (GeneratedQuestion, error) {
		return GeneratedQuestion{Text: "  "}, nil
	})
	seq := NewSequencer(src)
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	_, err := seq.NextQuestion(ctx, s.ID)
	require.ErrorIs(t, err, model.ErrQuestionSourceFailed)
}

func TestSourceSeesPriorTurns(t *testing.T) {
	var seen []QuestionRequest
	src := sourceFunc(func(_ context.Context, req QuestionRequest) (GeneratedQuestion, error) {
		seen = append(seen, req)
		return GeneratedQuestion{Text: "next"}, nil
	})
	seq := NewSequencer(src)
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	_, _ = seq.NextQuestion(ctx, s.ID)
	_, _ = seq.SubmitAnswer(ctx, s.ID, chat("answer zero"))
	_, _ = seq.NextQuestion(ctx, s.ID)

	require.Len(t, seen, 2)
	require.Equal(t, []string{"d1"}, seen[0].DocumentIDs)
	require.Empty(t, seen[0].Turns)
	require.Len(t, seen[1].Turns, 1)
	require.Equal(t, "answer zero", seen[1].Turns[0].Answer.Content)
}

func TestInvariantsHoldAcrossRandomisedSequence(t *testing.T) {
	seq := NewSequencer(scripted(6, nil))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})

	ops := []string{"next", "submit", "submit", "next", "next", "submit", "next", "submit", "next", "submit", "next"}
	for i, op := range ops {
		switch op {
		case "next":
			_, _ = seq.NextQuestion(ctx, s.ID)
		case "submit":
			_, _ = seq.SubmitAnswer(ctx, s.ID, chat(fmt.Sprintf("a%d", i)))
		}
		snap, err := seq.Snapshot(ctx, s.ID)
		require.NoError(t, err)
		requireInvariants(t, snap)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	a, _ := seq.Create(ctx, "u1", []string{"d1"})
	b, _ := seq.Create(ctx, "u2", []string{"d2"})

	_, _ = seq.NextQuestion(ctx, a.ID)
	_, err := seq.Stop(ctx, a.ID)
	require.NoError(t, err)

	q, err := seq.NextQuestion(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "q0", q.ID)
}

func TestSnapshotIsACopy(t *testing.T) {
	seq := NewSequencer(scripted(3, nil))
	ctx := context.Background()
	s, _ := seq.Create(ctx, "u1", []string{"d1"})
	_, _ = seq.NextQuestion(ctx, s.ID)

	snap, _ := seq.Snapshot(ctx, s.ID)
	snap.Turns[0].Question.Text = "mutated"

	again, _ := seq.Snapshot(ctx, s.ID)
	require.Equal(t, "question 0", again.Turns[0].Question.Text)
}
