package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// ErrNoQuery is returned when a turn has no query text
var ErrNoQuery = errors.New("query is required")

// maxSteps bounds one traversal. The longest route visits five stages.
const maxSteps = 16

// StageSet holds one implementation per graph node
type StageSet struct {
	Planner             agents.Stage
	DocumentRetriever   agents.Stage
	LiteratureRetriever agents.Stage
	Oracle              agents.Stage
	Analyst             agents.Stage
	Scribe              agents.Stage
	Critic              agents.Stage
}

func (s StageSet) byID() map[StageID]agents.Stage {
	return map[StageID]agents.Stage{
		StagePlanner:             s.Planner,
		StageDocumentRetriever:   s.DocumentRetriever,
		StageLiteratureRetriever: s.LiteratureRetriever,
		StageOracle:              s.Oracle,
		StageAnalyst:             s.Analyst,
		StageScribe:              s.Scribe,
		StageCritic:              s.Critic,
	}
}

// Dependencies are the collaborators the default stages are built from
type Dependencies struct {
	Generator  domain.Generator
	Store      domain.VectorStore
	Literature agents.LiteratureProviders
	Settings   agents.Settings
	Policy     agents.IntentPolicy
	Telemetry  *observability.Telemetry
	Metrics    *observability.Metrics
}

// BuildStages wires the default stage implementations
func BuildStages(deps Dependencies) (StageSet, error) {
	retriever, err := agents.NewDocumentRetriever(deps.Store, deps.Settings)
	if err != nil {
		return StageSet{}, fmt.Errorf("document retriever: %w", err)
	}
	oracle, err := agents.NewOracle(deps.Literature.Web, deps.Generator, deps.Settings)
	if err != nil {
		return StageSet{}, fmt.Errorf("oracle: %w", err)
	}
	analyst, err := agents.NewAnalyst(deps.Generator, deps.Settings)
	if err != nil {
		return StageSet{}, fmt.Errorf("analyst: %w", err)
	}
	scribe, err := agents.NewScribe(deps.Generator, deps.Settings)
	if err != nil {
		return StageSet{}, fmt.Errorf("scribe: %w", err)
	}
	critic, err := agents.NewCritic(deps.Generator, deps.Settings)
	if err != nil {
		return StageSet{}, fmt.Errorf("critic: %w", err)
	}

	return StageSet{
		Planner:             agents.NewPlanner(deps.Policy),
		DocumentRetriever:   retriever,
		LiteratureRetriever: agents.NewLiteratureRetriever(deps.Literature, deps.Settings).Instrument(deps.Telemetry, deps.Metrics),
		Oracle:              oracle,
		Analyst:             analyst,
		Scribe:              scribe,
		Critic:              critic,
	}, nil
}

// StudyGraph runs one turn through the fixed stage graph
type StudyGraph struct {
	stages    map[StageID]agents.Stage
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    observability.Logger
}

// NewStudyGraph creates a graph over stages. Every stage is required.
func NewStudyGraph(stages StageSet) (*StudyGraph, error) {
	byID := stages.byID()
	for id := StagePlanner; id < StageEnd; id++ {
		if byID[id] == nil {
			return nil, fmt.Errorf("stage %s is required", id)
		}
	}
	return &StudyGraph{
		stages: byID,
		logger: observability.NewStructuredLogger("study_graph"),
	}, nil
}

// NewStudyGraphWithTelemetry creates a graph that traces and meters every stage
func NewStudyGraphWithTelemetry(stages StageSet, telemetry *observability.Telemetry, metrics *observability.Metrics) (*StudyGraph, error) {
	g, err := NewStudyGraph(stages)
	if err != nil {
		return nil, err
	}

	if telemetry != nil {
		g.telemetry = telemetry
		if metrics == nil {
			metrics, err = observability.NewMetrics(telemetry.Meter())
			if err != nil {
				return nil, fmt.Errorf("failed to create metrics: %w", err)
			}
		}
	}
	g.metrics = metrics
	return g, nil
}

// ProcessTurn classifies, retrieves, answers and validates one query.
// Stage failures are absorbed; the returned state always carries an answer
// unless the context was cancelled.
func (g *StudyGraph) ProcessTurn(ctx context.Context, in state.TurnInput) (*state.PipelineState, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrNoQuery
	}
	st := state.NewPipelineState(in)

	if g.telemetry != nil {
		var span trace.Span
		ctx, span = g.telemetry.StartTurn(ctx, st.TurnID(), string(st.Mode()), st.Query())
		defer span.End()
	}
	if g.metrics != nil {
		g.metrics.RecordTurnStart(ctx, string(st.Mode()))
		defer func(start time.Time) {
			g.metrics.RecordTurnComplete(ctx, time.Since(start), string(st.Intent()))
		}(time.Now())
	}

	current := StagePlanner
	for steps := 0; current != StageEnd; steps++ {
		if steps == maxSteps {
			g.logger.Warn(ctx, "Step limit reached, ending turn", map[string]interface{}{
				"turn_id": st.TurnID(),
				"stage":   current.String(),
			})
			break
		}
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("turn cancelled before %s: %w", current, err)
		}

		g.applyPolicy(ctx, current, g.runStage(ctx, current, st))
		current = next(current, st)
	}

	g.logger.Info(ctx, "Turn complete", map[string]interface{}{
		"turn_id": st.TurnID(),
		"intent":  string(st.Intent()),
		"mode":    string(st.Mode()),
		"stages":  len(st.StageLogs()),
	})
	return st, nil
}

func (g *StudyGraph) runStage(ctx context.Context, id StageID, st *state.PipelineState) agents.Outcome {
	stage := g.stages[id]
	start := time.Now()

	var out agents.Outcome
	run := func(ctx context.Context) error {
		out = safeRun(ctx, stage, st)
		return out.Err
	}
	if g.telemetry != nil {
		_ = g.telemetry.InstrumentStage(ctx, id.String(), string(st.Mode()), run)
	} else {
		_ = run(ctx)
	}

	if out.Log != nil {
		st.AppendLog(*out.Log)
	}
	if g.metrics != nil {
		g.metrics.RecordStage(ctx, id.String(), string(out.Status()), time.Since(start))
	}
	return out
}

// safeRun turns a stage panic into an error outcome that still logs the stage
func safeRun(ctx context.Context, stage agents.Stage, st *state.PipelineState) (out agents.Outcome) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("stage %s panicked: %v", stage.Name(), rec)
			out = agents.Outcome{
				Log: &domain.StageLog{
					Agent:     stage.Name(),
					Status:    domain.StageError,
					ElapsedMS: time.Since(start).Milliseconds(),
					Rationale: "Stage failed unexpectedly",
					Details:   domain.StageDetails{Error: err.Error()},
				},
				Err: err,
			}
		}
	}()
	return stage.Run(ctx, st)
}

// applyPolicy decides what a stage failure means for the turn. Every stage
// leaves a usable state behind, so failures are logged and the turn goes on.
func (g *StudyGraph) applyPolicy(ctx context.Context, id StageID, out agents.Outcome) {
	if out.Err == nil {
		return
	}
	attrs := map[string]interface{}{"stage": id.String()}

	switch id {
	case StageDocumentRetriever, StageLiteratureRetriever:
		if errors.Is(out.Err, agents.ErrMissingNamespace) {
			g.logger.Warn(ctx, "No document bound to the session, continuing without sources", attrs)
			return
		}
		attrs["error"] = out.Err.Error()
		g.logger.Warn(ctx, "Retrieval failed, continuing without sources", attrs)
	case StageCritic:
		attrs["error"] = out.Err.Error()
		g.logger.Warn(ctx, "Validation failed, answer delivered unvalidated", attrs)
	default:
		g.logger.Error(ctx, "Stage failed, using fallback output", out.Err, attrs)
	}
}
