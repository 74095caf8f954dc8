package feedback

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// signal buckets used by the keyword scorer.
type signal string

const (
	signalOwnership signal = "ownership"
	signalImpact    signal = "impact"
	signalReasoning signal = "reasoning"
)

var signalKeywords = map[signal][]string{
	signalOwnership: {
		"i built", "i designed", "i led", "i wrote", "i owned", "i implemented", "i migrated",
		"我负责", "我设计", "我实现", "我主导",
	},
	signalImpact: {
		"%", "latency", "reduced", "increased", "improved", "saved", "users", "revenue", "throughput",
		"降低", "提升", "节省",
	},
	signalReasoning: {
		"because", "trade-off", "tradeoff", "instead of", "so that", "first", "then", "finally",
		"因为", "所以", "权衡",
	},
}

var signalPraise = map[signal]string{
	signalOwnership: "Speaks clearly about personal ownership of the work.",
	signalImpact:    "Backs answers with measurable impact.",
	signalReasoning: "Explains reasoning and trade-offs instead of only listing facts.",
}

var signalAdvice = map[signal]string{
	signalOwnership: "Say what you personally did, not only what the team shipped.",
	signalImpact:    "Quantify results: numbers, percentages, before and after.",
	signalReasoning: "Walk through why you chose an approach and what you traded off.",
}

// HeuristicCompiler scores a transcript from coverage, depth and keyword
// signals. It is deterministic and needs no external service.
type HeuristicCompiler struct{}

func NewHeuristicCompiler() *HeuristicCompiler {
	return &HeuristicCompiler{}
}

func (h *HeuristicCompiler) Compile(_ context.Context, session model.Session) (model.Feedback, error) {
	if session.AnsweredCount() == 0 {
		return Degenerate(session), nil
	}

	var (
		answered, silent, words int
		hits                    = map[signal]bool{}
	)
	for _, turn := range session.Turns {
		if turn.Answer == nil {
			continue
		}
		answered++
		content := strings.TrimSpace(turn.Answer.Content)
		if content == "" {
			silent++
			continue
		}
		words += countWords(content)
		lower := strings.ToLower(content)
		for sig, keywords := range signalKeywords {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					hits[sig] = true
					break
				}
			}
		}
	}

	coverage := float64(answered-silent) / float64(len(session.Turns))
	avgWords := 0.0
	if answered-silent > 0 {
		avgWords = float64(words) / float64(answered-silent)
	}
	depth := math.Min(avgWords/60.0, 1)

	score := int(math.Round(coverage*40 + depth*30 + float64(len(hits))*10))

	var highlights []string
	var advice []string
	for _, sig := range []signal{signalOwnership, signalImpact, signalReasoning} {
		if hits[sig] {
			highlights = append(highlights, signalPraise[sig])
		} else {
			advice = append(advice, signalAdvice[sig])
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Answered %d of %d question(s)", answered, len(session.Turns))
	if silent > 0 {
		fmt.Fprintf(&b, ", %d without any spoken content", silent)
	}
	fmt.Fprintf(&b, "; average answer length %.0f words.", avgWords)
	if session.StopReason == model.StopStopped {
		b.WriteString(" The interview was stopped early.")
	}
	if depth < 0.5 {
		b.WriteString(" Answers are short; expand with concrete examples.")
	}
	for _, a := range advice {
		b.WriteString(" ")
		b.WriteString(a)
	}

	return model.Feedback{
		InterviewID: session.ID,
		Score:       clampScore(score),
		Feedback:    b.String(),
		Highlights:  highlights,
	}, nil
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			// CJK text has no spaces; count each ideograph.
			n++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}
