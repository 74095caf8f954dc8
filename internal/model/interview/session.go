package interview

import "time"

// State 面试会话状态。
type State string

const (
	StateCreated        State = "CREATED"
	StateAwaitingAnswer State = "AWAITING_ANSWER"
	StateAdvancing      State = "ADVANCING"
	StateCompleted      State = "COMPLETED"
)

// StopReason records why a session reached COMPLETED.
type StopReason string

const (
	StopFinished StopReason = "finished"
	StopStopped  StopReason = "stopped"
)

// Modality 回答的输入通道。
type Modality string

const (
	ModalityVoice Modality = "voice"
	ModalityChat  Modality = "chat"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityVoice || m == ModalityChat
}

// Question is issued by the question source; IsLast is persisted verbatim.
type Question struct {
	ID        string    `json:"questionId"`
	Text      string    `json:"question"`
	CreatedAt time.Time `json:"createdAt"`
	IsLast    bool      `json:"isLast"`
}

// Answer is immutable once written onto a Turn.
type Answer struct {
	Modality  Modality  `json:"modality"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Turn 一问一答。
type Turn struct {
	Index    int      `json:"index"`
	Question Question `json:"question"`
	Answer   *Answer  `json:"answer,omitempty"`
}

// Answered reports whether the turn already carries an answer.
func (t Turn) Answered() bool {
	return t.Answer != nil
}

// Session captures one end-to-end interview attempt.
type Session struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	DocumentIDs []string   `json:"documentIds"`
	State       State      `json:"state"`
	Turns       []Turn     `json:"turns"`
	StopReason  StopReason `json:"stopReason,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Completed reports whether the session accepts no further mutation.
func (s Session) Completed() bool {
	return s.State == StateCompleted
}

// CurrentTurn returns the highest-index turn, if any.
func (s Session) CurrentTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// AnsweredCount returns how many turns carry an answer.
func (s Session) AnsweredCount() int {
	n := 0
	for _, t := range s.Turns {
		if t.Answered() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand out of the sequencer lock.
func (s Session) Clone() Session {
	out := s
	out.DocumentIDs = append([]string(nil), s.DocumentIDs...)
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = t
		if t.Answer != nil {
			a := *t.Answer
			out.Turns[i].Answer = &a
		}
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	return out
}
