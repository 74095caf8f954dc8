package document

import "time"

// Kind 候选人提交的材料类型。
type Kind string

const (
	KindResume    Kind = "resume"
	KindPortfolio Kind = "portfolio"
)

// Valid reports whether k is a supported document kind.
func (k Kind) Valid() bool {
	return k == KindResume || k == KindPortfolio
}

// Document is a candidate-supplied reference used by the question source.
type Document struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Seed provides demo documents for the development owner.
func Seed(ownerID string) []Document {
	now := time.Now().UTC()
	return []Document{
		{
			ID:        "demo-resume",
			OwnerID:   ownerID,
			Kind:      KindResume,
			Title:     "Backend engineer resume",
			Content:   "Five years building Go services: payment gateway, event pipeline on Kafka, on-call lead for a 40-node Postgres fleet.",
			CreatedAt: now,
		},
		{
			ID:        "demo-portfolio",
			OwnerID:   ownerID,
			Kind:      KindPortfolio,
			Title:     "Open source portfolio",
			Content:   "Maintainer of a rate-limiting middleware, contributor to a websocket library, author of a CLI for log triage.",
			CreatedAt: now,
		},
	}
}
