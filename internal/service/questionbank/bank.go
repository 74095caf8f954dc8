package questionbank

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
)

//go:embed default_bank.yaml
var defaultBank []byte

// ErrExhausted is returned when a session asks past the final question.
var ErrExhausted = errors.New("question bank exhausted")

// Bank 题库配置
type Bank struct {
	MaxQuestions int     `yaml:"max_questions"`
	Blocks       []Block `yaml:"blocks"`

	flat []string
}

// Block groups questions by interview phase.
type Block struct {
	ID        int      `yaml:"id"`
	Name      string   `yaml:"name"`
	Title     string   `yaml:"title"`
	Questions []string `yaml:"questions"`
}

// Load reads a bank from a YAML file.
func Load(filename string) (*Bank, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read question bank %s: %w", filename, err)
	}
	return Parse(data)
}

// Default returns the embedded bank.
func Default() *Bank {
	bank, err := Parse(defaultBank)
	if err != nil {
		panic(fmt.Sprintf("embedded question bank: %v", err))
	}
	return bank
}

// Parse decodes and validates a YAML bank.
func Parse(data []byte) (*Bank, error) {
	var bank Bank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	if err := bank.validate(); err != nil {
		return nil, fmt.Errorf("validate question bank: %w", err)
	}
	return &bank, nil
}

func (b *Bank) validate() error {
	if b.MaxQuestions < 0 {
		return fmt.Errorf("max_questions must not be negative")
	}
	if len(b.Blocks) == 0 {
		return fmt.Errorf("at least one block is required")
	}
	b.flat = b.flat[:0]
	for i, block := range b.Blocks {
		expectedID := i + 1
		if block.ID != expectedID {
			return fmt.Errorf("block %d has id %d, expected %d", i, block.ID, expectedID)
		}
		if block.Name == "" {
			return fmt.Errorf("block %d must have a name", block.ID)
		}
		for j, q := range block.Questions {
			q = strings.TrimSpace(q)
			if q == "" {
				return fmt.Errorf("block %d question %d is blank", block.ID, j)
			}
			b.flat = append(b.flat, q)
		}
	}
	if len(b.flat) == 0 {
		return fmt.Errorf("bank has no questions")
	}
	return nil
}

// Limit is the number of questions a session will be asked.
func (b *Bank) Limit() int {
	if b.MaxQuestions > 0 && b.MaxQuestions < len(b.flat) {
		return b.MaxQuestions
	}
	return len(b.flat)
}

// WithMaxQuestions returns a copy capped at n questions; n <= 0 keeps the bank's own cap.
func (b *Bank) WithMaxQuestions(n int) *Bank {
	cp := *b
	cp.flat = append([]string(nil), b.flat...)
	if n > 0 {
		cp.MaxQuestions = n
	}
	return &cp
}

// Source serves bank questions in order, one per turn.
type Source struct {
	bank *Bank
}

// NewSource wraps bank as a question source.
func NewSource(bank *Bank) *Source {
	return &Source{bank: bank}
}

// NextQuestion implements interview.QuestionSource.
func (s *Source) NextQuestion(ctx context.Context, req interview.QuestionRequest) (interview.GeneratedQuestion, error) {
	if err := ctx.Err(); err != nil {
		return interview.GeneratedQuestion{}, err
	}
	index := len(req.Turns)
	limit := s.bank.Limit()
	if index >= limit {
		return interview.GeneratedQuestion{}, fmt.Errorf("%w: turn %d of %d", ErrExhausted, index, limit)
	}
	return interview.GeneratedQuestion{
		Text:   s.bank.flat[index],
		IsLast: index == limit-1,
	}, nil
}
