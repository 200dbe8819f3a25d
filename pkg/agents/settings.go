package agents

import (
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/config"
)

// Settings carries the numeric policy shared by the stages
type Settings struct {
	Fast     config.Budget
	Analysis config.Budget
	Critic   config.Budget
	Answer   config.Budget

	RetrievalK          int
	MinDocumentChars    int
	MinLiteratureChars  int
	PassageCap          int
	ContextCap          int
	FollowUpPrefixChars int
	AnalystTurns        int
	ScribeTurns         int
	ScribePassageChars  int
	GroundingThreshold  float64
	CriticContextChars  int
	ProviderTimeout     time.Duration
	MaxResults          int
}

// DefaultSettings returns the built-in policy
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// SettingsFromConfig extracts stage settings from the application config
func SettingsFromConfig(cfg *config.Config) Settings {
	p := cfg.Pipeline
	return Settings{
		Fast:                cfg.Generation.Fast,
		Analysis:            cfg.Generation.Analysis,
		Critic:              cfg.Generation.Critic,
		Answer:              cfg.Generation.Answer,
		RetrievalK:          p.RetrievalK,
		MinDocumentChars:    p.MinDocumentChars,
		MinLiteratureChars:  p.MinLiteratureChars,
		PassageCap:          p.PassageCap,
		ContextCap:          p.ContextCap,
		FollowUpPrefixChars: p.FollowUpPrefixChars,
		AnalystTurns:        p.AnalystTurns,
		ScribeTurns:         p.ScribeTurns,
		ScribePassageChars:  p.ScribePassageChars,
		GroundingThreshold:  float64(p.GroundingThreshold),
		CriticContextChars:  p.CriticContextChars,
		ProviderTimeout:     cfg.GetDuration(p.ProviderTimeout, 30*time.Second),
		MaxResults:          p.MaxResults,
	}
}
