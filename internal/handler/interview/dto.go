package interview

import (
	"time"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

type createRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

type createResponse struct {
	InterviewID string      `json:"interviewId"`
	State       model.State `json:"state"`
	DocumentIDs []string    `json:"documentIds"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type chatAnswerRequest struct {
	Answer     string `json:"answer"`
	QuestionID string `json:"questionId,omitempty"`
}

type stopResponse struct {
	Status      string           `json:"status"`
	State       model.State      `json:"state"`
	StopReason  model.StopReason `json:"stopReason"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}
