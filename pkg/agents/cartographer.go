package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
)

// Cartographer turns an answer into flashcards and a one-level mind map.
// It runs on demand, outside the turn graph.
type Cartographer struct {
	generator domain.Generator
	settings  Settings
	logger    observability.Logger
}

// NewCartographer creates a cartographer
func NewCartographer(generator domain.Generator, settings Settings) (*Cartographer, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &Cartographer{
		generator: generator,
		settings:  settings,
		logger:    observability.NewStructuredLogger("cartographer"),
	}, nil
}

// Name returns the stage name used in logs
func (c *Cartographer) Name() string { return "Cartographer" }

// Map builds a study guide from content
func (c *Cartographer) Map(ctx context.Context, content string) (domain.StudyGuide, domain.StageLog, error) {
	timer := startStage(c.Name())

	if strings.TrimSpace(content) == "" {
		err := errors.New("content is required")
		return domain.StudyGuide{}, *timer.log(domain.StageError, "Nothing to map", "",
			domain.StageDetails{Error: err.Error()}), err
	}

	prompt := fmt.Sprintf(cartographerPrompt, truncate(content, c.settings.ContextCap))
	out, err := c.generator.Generate(ctx, prompt, c.settings.Fast.Temperature, c.settings.Fast.MaxTokens)
	if err == nil {
		var guide domain.StudyGuide
		guide, err = parseStudyGuide(out)
		if err == nil {
			return guide, *timer.log(domain.StageCompleted,
				fmt.Sprintf("Mapped %d concepts and %d branches", len(guide.Cards), len(guide.MindMap.Nodes)),
				guide.MindMap.Center,
				domain.StageDetails{StudyGuide: &guide}), nil
		}
	}

	c.logger.Error(ctx, "Failed to build study guide", err)
	return domain.StudyGuide{}, *timer.log(domain.StageError,
		fmt.Sprintf("Failed to generate visualizations: %v", err), "",
		domain.StageDetails{Error: err.Error()}), err
}

func parseStudyGuide(out string) (domain.StudyGuide, error) {
	raw := strings.TrimSpace(out)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if obj, ok := extractJSON(raw); ok {
		raw = obj
	}

	var guide domain.StudyGuide
	if err := json.Unmarshal([]byte(raw), &guide); err != nil {
		return domain.StudyGuide{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if guide.Cards == nil {
		guide.Cards = []domain.StudyCard{}
	}
	if guide.MindMap.Center == "" {
		guide.MindMap.Center = "Topic"
	}
	if guide.MindMap.Nodes == nil {
		guide.MindMap.Nodes = []domain.MindMapNode{}
	}
	return guide, nil
}
