package agents

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// IntentPolicy holds the keyword lists the planner classifies against
type IntentPolicy struct {
	Greetings         []string
	GreetingStarters  []string
	GreetingPhrases   []string
	Feedback          []string
	FollowUpPrefixes  []string
	FollowUpMaxTokens int
	ExamKeywords      []string
	ExamGuards        []string
	ResearchKeywords  []string
}

// DefaultIntentPolicy returns the built-in keyword lists
func DefaultIntentPolicy() IntentPolicy {
	return IntentPolicy{
		Greetings: []string{"hi", "hello", "hey", "hai", "yo", "sup",
			"good morning", "good afternoon", "good evening"},
		GreetingStarters: []string{"hi", "hello", "hey", "hai", "yo", "sup"},
		GreetingPhrases: []string{"how are you", "whats up", "how do you do",
			"nice to meet you", "good to see you"},
		Feedback: []string{"thanks", "thank you", "good", "great", "nice",
			"perfect", "ok", "cool", "got it", "understood"},
		FollowUpPrefixes: []string{"what about", "how about", "and", "also",
			"can you explain", "tell me more", "elaborate"},
		FollowUpMaxTokens: 4,
		ExamKeywords: []string{"predict", "exam", "questions", "important questions",
			"previous year", "anna university", "qp", "pattern"},
		ExamGuards: []string{"predict", "question", "exam"},
		ResearchKeywords: []string{"paper", "papers", "research", "survey", "literature",
			"study", "studies", "review", "arxiv", "publication",
			"compare methods", "state of the art", "recent advances"},
	}
}

// IntentPolicyFromConfig overlays non-empty config lists on the defaults
func IntentPolicyFromConfig(cfg config.IntentConfig) IntentPolicy {
	p := DefaultIntentPolicy()
	overlay := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = normalizeList(src)
		}
	}
	overlay(&p.Greetings, cfg.Greetings)
	overlay(&p.GreetingStarters, cfg.GreetingStarters)
	overlay(&p.GreetingPhrases, cfg.GreetingPhrases)
	overlay(&p.Feedback, cfg.Feedback)
	overlay(&p.FollowUpPrefixes, cfg.FollowUpPrefixes)
	overlay(&p.ExamKeywords, cfg.ExamKeywords)
	overlay(&p.ExamGuards, cfg.ExamGuards)
	overlay(&p.ResearchKeywords, cfg.ResearchKeywords)
	if cfg.FollowUpMaxTokens > 0 {
		p.FollowUpMaxTokens = cfg.FollowUpMaxTokens
	}
	return p
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Classification is the planner's verdict for one query
type Classification struct {
	Intent     domain.Intent
	AnswerKind domain.AnswerKind
	Mode       domain.Mode
}

// Classify is a pure function of its inputs; the first matching rule wins.
func (p IntentPolicy) Classify(query string, priorMode domain.Mode, hasHistory bool) Classification {
	if priorMode == "" {
		priorMode = domain.ModeStudent
	}

	lowered := strings.ToLower(strings.TrimSpace(query))
	clean := stripPunctuation(lowered)
	tokens := strings.Fields(clean)

	// Punctuation-only queries skip the conversational checks but keep the
	// prior mode.
	if len(tokens) > 0 {
		if c, ok := p.classifyConversational(clean, tokens, priorMode, hasHistory); ok {
			return c
		}
	}

	if containsAnySubstring(lowered, p.ExamKeywords) && containsAnySubstring(lowered, p.ExamGuards) {
		return Classification{Intent: domain.IntentExamPrediction, AnswerKind: domain.AnswerOracle, Mode: priorMode}
	}

	if priorMode == domain.ModeResearch || containsAnySubstring(lowered, p.ResearchKeywords) {
		return Classification{Intent: domain.IntentNewQuery, AnswerKind: domain.AnswerResearch, Mode: domain.ModeResearch}
	}

	return Classification{Intent: domain.IntentNewQuery, AnswerKind: domain.AnswerAcademic, Mode: domain.ModeStudent}
}

// classifyConversational matches greetings, feedback and follow-ups
func (p IntentPolicy) classifyConversational(clean string, tokens []string, priorMode domain.Mode, hasHistory bool) (Classification, bool) {
	if contains(p.Greetings, clean) || contains(p.GreetingStarters, tokens[0]) || containsAnySubstring(clean, p.GreetingPhrases) {
		return Classification{Intent: domain.IntentGreeting, AnswerKind: domain.AnswerGeneral, Mode: priorMode}, true
	}

	if contains(p.Feedback, clean) {
		return Classification{Intent: domain.IntentFeedback, AnswerKind: domain.AnswerGeneral, Mode: priorMode}, true
	}

	if hasHistory && (hasWordPrefix(clean, p.FollowUpPrefixes) || len(tokens) <= p.FollowUpMaxTokens) {
		kind := domain.AnswerAcademic
		if priorMode == domain.ModeResearch {
			kind = domain.AnswerResearch
		}
		return Classification{Intent: domain.IntentFollowUp, AnswerKind: kind, Mode: priorMode}, true
	}
	return Classification{}, false
}

// stripPunctuation drops every rune that is not a letter, digit, underscore or space
func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAnySubstring(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// hasWordPrefix matches prefixes on a word boundary: "and" matches "and then" but not "android"
func hasWordPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if s == p || strings.HasPrefix(s, p+" ") {
			return true
		}
	}
	return false
}

// Planner is the first stage of every turn
type Planner struct {
	policy IntentPolicy
	logger observability.Logger
}

// NewPlanner creates a planner with the given policy
func NewPlanner(policy IntentPolicy) *Planner {
	return &Planner{
		policy: policy,
		logger: observability.NewStructuredLogger("planner"),
	}
}

// Name implements Stage
func (p *Planner) Name() string { return "Planner" }

// Run classifies the query and records the routing decision
func (p *Planner) Run(ctx context.Context, st *state.PipelineState) Outcome {
	timer := startStage(p.Name())

	c := p.policy.Classify(st.Query(), st.Mode(), st.HasHistory())
	st.SetClassification(c.Intent, c.AnswerKind, c.Mode)

	p.logger.Debug(ctx, "Classified query", map[string]interface{}{
		"intent": string(c.Intent),
		"mode":   string(c.Mode),
		"kind":   string(c.AnswerKind),
	})

	return Outcome{Log: timer.log(domain.StageCompleted,
		fmt.Sprintf("Intent: %s, Mode: %s", c.Intent, c.Mode),
		fmt.Sprintf("Intent: %s (%s)", c.Intent, c.AnswerKind),
		domain.StageDetails{Intent: c.Intent, Mode: c.Mode, AnswerKind: c.AnswerKind},
	)}
}
