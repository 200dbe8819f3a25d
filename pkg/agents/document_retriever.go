package agents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// RetrievalNote describes how a document retrieval was carried out
type RetrievalNote struct {
	SearchQuery string
	Returned    int
	Bypassed    bool
}

// DocumentRetriever fetches passages of the uploaded document for student queries
type DocumentRetriever struct {
	store    domain.VectorStore
	settings Settings
	logger   observability.Logger
}

// NewDocumentRetriever creates a retriever over store
func NewDocumentRetriever(store domain.VectorStore, settings Settings) (*DocumentRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	return &DocumentRetriever{
		store:    store,
		settings: settings,
		logger:   observability.NewStructuredLogger("document_retriever"),
	}, nil
}

// Name implements Stage
func (r *DocumentRetriever) Name() string { return "Document Retriever" }

// Retrieve searches namespace for query. A follow-up with no namespace but a
// prior assistant turn bypasses the store and relies on conversation memory.
func (r *DocumentRetriever) Retrieve(ctx context.Context, query, namespace string, intent domain.Intent, lastTurnContent string) ([]domain.SourcePassage, RetrievalNote, error) {
	followUp := intent == domain.IntentFollowUp && lastTurnContent != ""

	if namespace == "" {
		if followUp {
			return nil, RetrievalNote{Bypassed: true}, nil
		}
		return nil, RetrievalNote{}, ErrMissingNamespace
	}

	searchQuery := query
	if followUp {
		searchQuery = truncate(lastTurnContent, r.settings.FollowUpPrefixChars) + " " + query
	}
	note := RetrievalNote{SearchQuery: searchQuery}

	if r.settings.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.ProviderTimeout)
		defer cancel()
	}

	hits, err := r.store.SimilaritySearch(ctx, namespace, searchQuery, r.settings.RetrievalK)
	if err != nil {
		return nil, note, fmt.Errorf("failed to search namespace %q: %w", namespace, err)
	}
	note.Returned = len(hits)

	passages := make([]domain.SourcePassage, 0, len(hits))
	for _, hit := range hits {
		if len(strings.TrimSpace(hit.Text)) <= r.settings.MinDocumentChars {
			continue
		}
		passages = append(passages, domain.SourcePassage{
			Content: hit.Text,
			Origin:  domain.OriginDocument,
			Page:    pageOf(hit.Metadata),
		})
	}
	return passages, note, nil
}

// Run implements Stage
func (r *DocumentRetriever) Run(ctx context.Context, st *state.PipelineState) Outcome {
	if st.Intent().IsSmallTalk() {
		return Outcome{}
	}
	timer := startStage(r.Name())

	lastTurn := ""
	if st.HasHistory() {
		lastTurn = st.LastAssistantTurn()
	}

	passages, note, err := r.Retrieve(ctx, st.Query(), st.Namespace(), st.Intent(), lastTurn)
	if err != nil {
		st.SetPassages(nil)
		r.logger.Warn(ctx, "Document retrieval failed", map[string]interface{}{
			"namespace": st.Namespace(),
			"error":     err.Error(),
		})

		if errors.Is(err, ErrMissingNamespace) {
			return Outcome{Err: err, Log: timer.log(domain.StageError,
				"No namespace set: no document has been uploaded",
				"No document uploaded. Please upload a PDF first.",
				domain.StageDetails{Reason: "missing_namespace", Error: err.Error()},
			)}
		}
		return Outcome{Err: err, Log: timer.log(domain.StageError,
			fmt.Sprintf("Failed to retrieve from the vector store: %v", err),
			"Retrieval failed",
			domain.StageDetails{SearchQuery: truncate(note.SearchQuery, 200), Error: err.Error()},
		)}
	}

	if note.Bypassed {
		return Outcome{Log: timer.log(domain.StageCompleted,
			"bypass_retrieval: relying on conversation memory",
			"Skipped document search (using chat history)",
			domain.StageDetails{Reason: "bypass_retrieval"},
		)}
	}

	st.SetPassages(passages)
	return Outcome{Log: timer.log(domain.StageCompleted,
		fmt.Sprintf("Searched namespace %q with query: %q", st.Namespace(), truncate(note.SearchQuery, 100)),
		fmt.Sprintf("Found %d relevant chunks (%d returned)", len(passages), note.Returned),
		domain.StageDetails{SearchQuery: truncate(note.SearchQuery, 200), PassageCount: len(passages)},
	)}
}

func pageOf(meta map[string]string) *int {
	raw, ok := meta["page"]
	if !ok {
		return nil
	}
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &page
}
