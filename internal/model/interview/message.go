package interview

import "time"

const (
	SenderInterviewer = "interviewer"
	SenderCandidate   = "candidate"

	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Message is the display-oriented view of one side of a turn.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Modality  Modality  `json:"modality,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages flattens turns into an ordered conversation: by turn index, the
// question before its answer.
func Messages(turns []Turn) []Message {
	out := make([]Message, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out, Message{
			ID:        t.Question.ID,
			Sender:    SenderInterviewer,
			Role:      RoleAssistant,
			Content:   t.Question.Text,
			Timestamp: t.Question.CreatedAt,
		})
		if t.Answer == nil {
			continue
		}
		out = append(out, Message{
			ID:        t.Question.ID + "-answer",
			Sender:    SenderCandidate,
			Role:      RoleUser,
			Content:   t.Answer.Content,
			Modality:  t.Answer.Modality,
			Timestamp: t.Answer.CreatedAt,
		})
	}
	return out
}

// Feedback is the compiled report for a completed session.
type Feedback struct {
	InterviewID string    `json:"interviewId"`
	Score       int       `json:"score"`
	Feedback    string    `json:"feedback"`
	Highlights  []string  `json:"highlights,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
