package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
)

// NextQuestion implements interview.QuestionSource. The final question is the
// one at MaxQuestions-1.
func (s *Service) NextQuestion(ctx context.Context, req interview.QuestionRequest) (interview.GeneratedQuestion, error) {
	index := len(req.Turns)
	docs := s.loadDocuments(ctx, req.DocumentIDs)

	input := map[string]any{
		"system":  buildInterviewerPrompt(docs, index, s.maxQuestions),
		"history": buildHistoryMessages(req.Turns),
		"query":   buildQuestionQuery(index),
	}

	response, err := s.questionChain.Invoke(ctx, input)
	if err != nil {
		return interview.GeneratedQuestion{}, fmt.Errorf("failed to run question chain: %w", err)
	}

	text := cleanQuestion(response.Content)
	log.Debug().
		Str("interview_id", req.SessionID).
		Int("turn", index).
		Int("length", len(text)).
		Msg("generated question")

	return interview.GeneratedQuestion{
		Text:   text,
		IsLast: index >= s.maxQuestions-1,
	}, nil
}
