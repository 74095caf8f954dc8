package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	ivmodel "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// DefaultMaxQuestions caps an interview when no limit is configured.
const DefaultMaxQuestions = 5

// historyLimit keeps the prompt bounded on long interviews.
const historyLimit = 12

// Service 基于 eino 链路生成面试问题与反馈。
type Service struct {
	docs         document.Store
	maxQuestions int

	questionChain compose.Runnable[map[string]any, *schema.Message]
	feedbackChain compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the interviewer service. docs supplies resume content
// for question prompts and may be nil.
func NewService(ctx context.Context, docs document.Store, cfg config.AIConfig, maxQuestions int) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	questionChain, err := compileChain(ctx, chatModel, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile question chain: %w", err)
	}
	feedbackChain, err := compileChain(ctx, chatModel, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile feedback chain: %w", err)
	}

	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}

	return &Service{
		docs:          docs,
		maxQuestions:  maxQuestions,
		questionChain: questionChain,
		feedbackChain: feedbackChain,
	}, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, withHistory bool) (compose.Runnable[map[string]any, *schema.Message], error) {
	messages := []schema.MessagesTemplate{schema.SystemMessage("{system}")}
	if withHistory {
		messages = append(messages, schema.MessagesPlaceholder("history", true))
	}
	messages = append(messages, schema.UserMessage("{query}"))

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, messages...))
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// MaxQuestions reports the per-interview question cap.
func (s *Service) MaxQuestions() int {
	return s.maxQuestions
}

// loadDocuments resolves document ids; missing documents are skipped.
func (s *Service) loadDocuments(ctx context.Context, ids []string) []document.Document {
	if s.docs == nil {
		return nil
	}
	out := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.docs.Get(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("document_id", id).Msg("skip document for prompt")
			continue
		}
		out = append(out, doc)
	}
	return out
}

func buildHistoryMessages(turns []ivmodel.Turn) []*schema.Message {
	messages := ivmodel.Messages(turns)
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case ivmodel.RoleUser:
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				content = noAnswerMarker
			}
			history = append(history, schema.UserMessage(content))
		case ivmodel.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
