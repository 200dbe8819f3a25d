package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

var subjectCodePattern = regexp.MustCompile(`[A-Za-z]{2,4}\s?\d{3,5}`)

// ExtractSubjectCode pulls a course code such as "CS3491" out of query,
// falling back to the trimmed query.
func ExtractSubjectCode(query string) string {
	if code := subjectCodePattern.FindString(query); code != "" {
		return strings.ToUpper(code)
	}
	return strings.TrimSpace(query)
}

// Oracle predicts likely exam questions for a subject from past papers found on the web
type Oracle struct {
	web       domain.SearchProvider
	generator domain.Generator
	settings  Settings
	logger    observability.Logger
}

// NewOracle creates an oracle over the web provider
func NewOracle(web domain.SearchProvider, generator domain.Generator, settings Settings) (*Oracle, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &Oracle{
		web:       web,
		generator: generator,
		settings:  settings,
		logger:    observability.NewStructuredLogger("oracle"),
	}, nil
}

// Name implements Stage
func (o *Oracle) Name() string { return "Oracle" }

func oracleQueries(code string) [2]string {
	return [2]string{
		fmt.Sprintf("Anna University %s question papers 2020 2021 2022 2023 2024 regulation R2021 R2017", code),
		fmt.Sprintf("Engtree %s important questions last 5 years frequency regulation", code),
	}
}

// oracleFailure is the deterministic answer when no exam data could be gathered
func oracleFailure(code string) string {
	return fmt.Sprintf("Could not retrieve exam data for %s. Verification failed.", code)
}

// Predict runs both web queries concurrently and synthesizes one report.
// The returned text is always usable; err reports why it is the fallback.
func (o *Oracle) Predict(ctx context.Context, subjectCode string) (string, error) {
	answer, _, err := o.predict(ctx, subjectCode)
	return answer, err
}

func (o *Oracle) predict(ctx context.Context, subjectCode string) (string, int, error) {
	if o.web == nil {
		return oracleFailure(subjectCode), 0, errProviderNotConfigured
	}

	queries := oracleQueries(subjectCode)
	var results [2]providerResult

	var g errgroup.Group
	for i := range queries {
		i := i
		g.Go(func() error {
			results[i] = o.search(ctx, queries[i])
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	found := 0
	var lastErr error
	for _, res := range results {
		if res.err != nil {
			lastErr = res.err
		}
		for _, item := range res.items {
			found++
			fmt.Fprintf(&b, "Title: %s\nURL: %s\nContent: %s\n\n", item.Title, item.URL, firstNonEmpty(item.Content, item.Summary))
		}
	}
	if found == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no search results for %s", subjectCode)
		}
		return oracleFailure(subjectCode), 0, lastErr
	}

	prompt := fmt.Sprintf(oraclePrompt, subjectCode, strings.TrimSpace(b.String()))
	answer, err := o.generator.Generate(ctx, prompt, o.settings.Fast.Temperature, o.settings.Fast.MaxTokens)
	if err != nil {
		return oracleFailure(subjectCode), found, err
	}
	if strings.TrimSpace(answer) == "" {
		return oracleFailure(subjectCode), found, fmt.Errorf("empty prediction for %s", subjectCode)
	}
	return answer, found, nil
}

func (o *Oracle) search(ctx context.Context, query string) (res providerResult) {
	res.name = o.web.Name()
	defer func() {
		if rec := recover(); rec != nil {
			res.items = nil
			res.err = fmt.Errorf("provider %s panicked: %v", res.name, rec)
		}
	}()

	if o.settings.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.ProviderTimeout)
		defer cancel()
	}
	res.items, res.err = o.web.Search(ctx, query, o.settings.MaxResults)
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Run implements Stage
func (o *Oracle) Run(ctx context.Context, st *state.PipelineState) Outcome {
	timer := startStage(o.Name())
	code := ExtractSubjectCode(st.Query())

	answer, found, err := o.predict(ctx, code)
	st.SetDraft(answer)

	if err != nil {
		o.logger.Error(ctx, "Exam prediction failed", err, map[string]interface{}{"subject": code})
		return Outcome{Err: err, Log: timer.log(domain.StageError,
			fmt.Sprintf("Search failed: %v", err),
			answer,
			domain.StageDetails{SubjectCode: code, Error: err.Error()},
		)}
	}
	return Outcome{Log: timer.log(domain.StageCompleted,
		fmt.Sprintf("Predicted exam pattern for %s using %d search results", code, found),
		answer,
		domain.StageDetails{SubjectCode: code, PassageCount: found},
	)}
}
