package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
)

// minChunkChars drops chunks too short to carry meaning
const minChunkChars = 50

// IngestResult describes a processed upload
type IngestResult struct {
	Namespace string  `json:"namespace"`
	Pages     int     `json:"pages"`
	Chunks    int     `json:"chunks"`
	Filename  string  `json:"filename"`
	SizeMB    float64 `json:"size_mb"`
}

// Ingestor extracts, chunks and indexes documents into a namespace
type Ingestor struct {
	extractor Extractor
	chunker   *Chunker
	store     domain.VectorStore
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewIngestor creates an Ingestor. metrics may be nil.
func NewIngestor(extractor Extractor, chunker *Chunker, store domain.VectorStore, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{
		extractor: extractor,
		chunker:   chunker,
		store:     store,
		metrics:   metrics,
		logger:    observability.NewStructuredLogger("ingest"),
	}
}

// Ingest indexes data under namespace, generating a fresh namespace when it
// is empty. Unreadable uploads fail with an error matching ErrUnreadableDocument.
func (in *Ingestor) Ingest(ctx context.Context, namespace, filename string, data []byte) (*IngestResult, error) {
	if namespace == "" {
		namespace = uuid.NewString()
	}

	pages, err := in.extractor.Extract(ctx, filename, data)
	if err != nil {
		if errors.Is(err, ErrUnreadableDocument) {
			in.logger.Warn(ctx, "document unreadable", map[string]interface{}{
				"filename": filename,
				"error":    err.Error(),
			})
		}
		return nil, err
	}

	var texts []string
	var metas []map[string]string
	for _, chunk := range in.chunker.Split(filename, pages) {
		if len(strings.TrimSpace(chunk.Text)) <= minChunkChars {
			continue
		}
		texts = append(texts, chunk.Text)
		metas = append(metas, map[string]string{
			"page":   strconv.Itoa(chunk.Page),
			"source": chunk.Source,
		})
	}
	if len(texts) == 0 {
		return nil, ErrUnreadableDocument
	}

	if err := in.store.EnsureNamespace(ctx, namespace); err != nil {
		return nil, fmt.Errorf("preparing namespace: %w", err)
	}
	if err := in.store.Upsert(ctx, namespace, texts, metas); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", filename, err)
	}

	if in.metrics != nil {
		in.metrics.RecordIngestion(ctx, len(texts))
	}
	in.logger.Info(ctx, "document ingested", map[string]interface{}{
		"namespace": namespace,
		"filename":  filename,
		"pages":     len(pages),
		"chunks":    len(texts),
	})

	return &IngestResult{
		Namespace: namespace,
		Pages:     len(pages),
		Chunks:    len(texts),
		Filename:  filename,
		SizeMB:    math.Round(float64(len(data))/(1024*1024)*100) / 100,
	}, nil
}
