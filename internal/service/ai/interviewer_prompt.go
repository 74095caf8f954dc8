package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	ivmodel "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

const noAnswerMarker = "(the candidate gave no answer)"

// documentExcerptLimit bounds how much of each document reaches the prompt.
const documentExcerptLimit = 1500

// buildInterviewerPrompt 构建面试官系统提示词。
func buildInterviewerPrompt(docs []document.Document, index, limit int) string {
	var b strings.Builder
	b.WriteString("You are a senior engineer running a mock behavioural and technical interview.\n")
	b.WriteString("Ask exactly one question per turn. Ground questions in the candidate's documents below ")
	b.WriteString("and follow up on vague or unquantified answers.\n")
	b.WriteString("Never answer for the candidate, never score during the interview, and never number your questions.\n")
	fmt.Fprintf(&b, "\nThis is question %d of %d.", index+1, limit)
	if index == limit-1 {
		b.WriteString(" It is the final question, so make it a closing reflection.")
	}

	b.WriteString("\n\nCandidate documents:\n")
	if len(docs) == 0 {
		b.WriteString("- none provided, ask about their most recent work\n")
	}
	for _, doc := range docs {
		fmt.Fprintf(&b, "- [%s] %s\n", doc.Kind, strings.TrimSpace(doc.Title))
		if excerpt := excerpt(doc.Content, documentExcerptLimit); excerpt != "" {
			b.WriteString("  ")
			b.WriteString(strings.ReplaceAll(excerpt, "\n", "\n  "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func buildQuestionQuery(index int) string {
	if index == 0 {
		return "Open the interview with your first question. Reply with the question text only."
	}
	return "Ask the next question. Reply with the question text only."
}

// buildFeedbackPrompt 构建反馈评估系统提示词，输出固定为 JSON。
func buildFeedbackPrompt() string {
	return strings.Join([]string{
		"You are an interview coach grading a finished mock interview.",
		"Score the candidate from 0 to 100 on specificity, ownership, measurable impact and reasoning.",
		"Unanswered questions count against the score.",
		`Reply with a single JSON object with the keys "score" (integer), "feedback" (a short paragraph of advice) and "highlights" (array of short strings quoting strong moments).`,
		"Do not wrap the JSON in markdown.",
	}, "\n")
}

// buildTranscript renders turns as plain text for the feedback query.
func buildTranscript(session ivmodel.Session) string {
	var b strings.Builder
	if session.StopReason == ivmodel.StopStopped {
		b.WriteString("The candidate ended the interview early.\n\n")
	}
	for _, turn := range session.Turns {
		fmt.Fprintf(&b, "Q%d: %s\n", turn.Index+1, turn.Question.Text)
		switch {
		case !turn.Answered():
			b.WriteString("A: (not answered)\n\n")
		case strings.TrimSpace(turn.Answer.Content) == "":
			fmt.Fprintf(&b, "A (%s): %s\n\n", turn.Answer.Modality, noAnswerMarker)
		default:
			fmt.Fprintf(&b, "A (%s): %s\n\n", turn.Answer.Modality, strings.TrimSpace(turn.Answer.Content))
		}
	}
	return b.String()
}

func excerpt(content string, limit int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}

// cleanQuestion strips list markers and quotes models like to add.
func cleanQuestion(raw string) string {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "\n\n"); i > 0 {
		text = strings.TrimSpace(text[:i])
	}
	for _, prefix := range []string{"Question:", "Q:", "-", "*"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	text = strings.Trim(text, "\"“”")
	return strings.TrimSpace(text)
}
