package questionbank

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
)

func TestDefaultBankIsValid(t *testing.T) {
	bank := Default()
	require.Equal(t, 5, bank.Limit())
	require.Len(t, bank.Blocks, 4)
}

func TestSourceMarksLastQuestion(t *testing.T) {
	src := NewSource(Default().WithMaxQuestions(2))
	ctx := context.Background()

	q0, err := src.NextQuestion(ctx, interview.QuestionRequest{})
	require.NoError(t, err)
	require.False(t, q0.IsLast)

	q1, err := src.NextQuestion(ctx, interview.QuestionRequest{Turns: make([]model.Turn, 1)})
	require.NoError(t, err)
	require.True(t, q1.IsLast)

	_, err = src.NextQuestion(ctx, interview.QuestionRequest{Turns: make([]model.Turn, 2)})
	require.ErrorIs(t, err, ErrExhausted)
}

func TestLimitIgnoresCapLargerThanBank(t *testing.T) {
	bank, err := Parse([]byte(`
blocks:
  - id: 1
    name: only
    questions: ["one", "two"]
`))
	require.NoError(t, err)
	require.Equal(t, 2, bank.Limit())
	require.Equal(t, 2, bank.WithMaxQuestions(10).Limit())
}

func TestParseRejectsInvalidBanks(t *testing.T) {
	cases := map[string]string{
		"no blocks":    "max_questions: 3\n",
		"bad id":       "blocks:\n  - id: 2\n    name: x\n    questions: [a]\n",
		"missing name": "blocks:\n  - id: 1\n    questions: [a]\n",
		"blank":        "blocks:\n  - id: 1\n    name: x\n    questions: [\"  \"]\n",
		"empty":        "blocks:\n  - id: 1\n    name: x\n",
		"negative":     "max_questions: -1\nblocks:\n  - id: 1\n    name: x\n    questions: [a]\n",
		"not yaml":     "blocks: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blocks:\n  - id: 1\n    name: x\n    questions: [\"Why Go?\"]\n"), 0o644))

	bank, err := Load(path)
	require.NoError(t, err)
	q, err := NewSource(bank).NextQuestion(context.Background(), interview.QuestionRequest{})
	require.NoError(t, err)
	require.Equal(t, "Why Go?", q.Text)
	require.True(t, q.IsLast)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
