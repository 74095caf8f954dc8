package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	ivmodel "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

type feedbackPayload struct {
	Score      json.Number `json:"score"`
	Feedback   string      `json:"feedback"`
	Highlights []string    `json:"highlights"`
}

// Compile implements feedback.Compiler over the feedback chain.
func (s *Service) Compile(ctx context.Context, session ivmodel.Session) (ivmodel.Feedback, error) {
	input := map[string]any{
		"system": buildFeedbackPrompt(),
		"query":  buildTranscript(session),
	}

	msg, err := s.feedbackChain.Invoke(ctx, input)
	if err != nil {
		return ivmodel.Feedback{}, fmt.Errorf("failed to run feedback chain: %w", err)
	}

	fb, err := parseFeedbackOutput(msg.Content)
	if err != nil {
		log.Warn().Err(err).Str("interview_id", session.ID).Msg("feedback output parse failed")
		return ivmodel.Feedback{}, err
	}
	fb.InterviewID = session.ID
	return fb, nil
}

// parseFeedbackOutput 解析大模型返回的 JSON。
func parseFeedbackOutput(content string) (ivmodel.Feedback, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return ivmodel.Feedback{}, fmt.Errorf("missing json object")
	}

	payload := &feedbackPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return ivmodel.Feedback{}, err
	}

	score, err := payload.Score.Float64()
	if err != nil {
		return ivmodel.Feedback{}, fmt.Errorf("invalid score %q: %w", payload.Score, err)
	}
	narrative := strings.TrimSpace(payload.Feedback)
	if narrative == "" {
		return ivmodel.Feedback{}, fmt.Errorf("empty feedback narrative")
	}

	highlights := make([]string, 0, len(payload.Highlights))
	for _, h := range payload.Highlights {
		if h = strings.TrimSpace(h); h != "" {
			highlights = append(highlights, h)
		}
	}

	return ivmodel.Feedback{
		Score:      int(score + 0.5),
		Feedback:   narrative,
		Highlights: highlights,
	}, nil
}
