// Package ingest turns uploaded documents into embedded chunks.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ncolesummers/open-study-agent/pkg/config"
)

// ErrUnreadableDocument means no extractor produced usable text
var ErrUnreadableDocument = errors.New("failed to extract text from the document")

// errUnsupported tells a ChainExtractor to try the next extractor
var errUnsupported = errors.New("unsupported document type")

// PageText is the text of one page, numbered from 1
type PageText struct {
	Page int
	Text string
}

// Extractor pulls page text out of a document
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) ([]PageText, error)
}

// RunFunc runs an external command with stdin and stdout attached
type RunFunc func(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error

func runCommand(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// splitPages splits pdftotext output on form feeds
func splitPages(out string) []PageText {
	raw := strings.Split(out, "\f")
	pages := make([]PageText, 0, len(raw))
	for i, text := range raw {
		pages = append(pages, PageText{Page: i + 1, Text: text})
	}
	return pages
}

// PdftotextExtractor pipes PDFs through poppler's pdftotext
type PdftotextExtractor struct {
	Path string
	Run  RunFunc
}

// NewPdftotextExtractor creates an extractor for the pdftotext binary at path
func NewPdftotextExtractor(path string) *PdftotextExtractor {
	if path == "" {
		path = "pdftotext"
	}
	return &PdftotextExtractor{Path: path, Run: runCommand}
}

// Extract returns one PageText per PDF page
func (p *PdftotextExtractor) Extract(ctx context.Context, filename string, data []byte) ([]PageText, error) {
	if !isPDF(data) {
		return nil, errUnsupported
	}
	var out bytes.Buffer
	if err := p.Run(ctx, p.Path, []string{"-layout", "-enc", "UTF-8", "-", "-"}, bytes.NewReader(data), &out); err != nil {
		return nil, fmt.Errorf("extracting %s: %w", filename, err)
	}
	return splitPages(out.String()), nil
}

// OCRExtractor runs ocrmypdf to add a text layer to scanned PDFs, then reads
// it back with pdftotext.
type OCRExtractor struct {
	Path      string
	Pdftotext *PdftotextExtractor
	Run       RunFunc
}

// NewOCRExtractor creates an OCR extractor for the ocrmypdf binary at path
func NewOCRExtractor(path string, pdftotext *PdftotextExtractor) *OCRExtractor {
	return &OCRExtractor{Path: path, Pdftotext: pdftotext, Run: runCommand}
}

// Extract OCRs the PDF and returns its pages
func (o *OCRExtractor) Extract(ctx context.Context, filename string, data []byte) ([]PageText, error) {
	if !isPDF(data) {
		return nil, errUnsupported
	}
	var ocred bytes.Buffer
	if err := o.Run(ctx, o.Path, []string{"--force-ocr", "--quiet", "-", "-"}, bytes.NewReader(data), &ocred); err != nil {
		return nil, fmt.Errorf("ocr %s: %w", filename, err)
	}
	return o.Pdftotext.Extract(ctx, filename, ocred.Bytes())
}

// PlainTextExtractor reads .txt and .md uploads as a single page
type PlainTextExtractor struct{}

// Extract returns the whole file as page 1
func (PlainTextExtractor) Extract(_ context.Context, filename string, data []byte) ([]PageText, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return []PageText{{Page: 1, Text: string(data)}}, nil
	}
	return nil, errUnsupported
}

// ChainExtractor tries each extractor in turn and keeps the first one that
// yields a page with at least MinPageChars characters.
type ChainExtractor struct {
	Extractors   []Extractor
	MinPageChars int
}

// Extract returns the usable pages, or ErrUnreadableDocument
func (c *ChainExtractor) Extract(ctx context.Context, filename string, data []byte) ([]PageText, error) {
	var errs []error
	for _, ex := range c.Extractors {
		pages, err := ex.Extract(ctx, filename, data)
		if err != nil {
			if !errors.Is(err, errUnsupported) {
				errs = append(errs, err)
			}
			continue
		}
		kept := make([]PageText, 0, len(pages))
		for _, p := range pages {
			if len(strings.TrimSpace(p.Text)) >= c.MinPageChars {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			return kept, nil
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, errors.Join(errs...))
	}
	return nil, ErrUnreadableDocument
}

// NewExtractor builds the default chain: plain text, pdftotext, then OCR when configured
func NewExtractor(cfg config.IngestConfig) *ChainExtractor {
	pdf := NewPdftotextExtractor(cfg.PdftotextPath)
	chain := []Extractor{PlainTextExtractor{}, pdf}
	if cfg.OCRPath != "" {
		chain = append(chain, NewOCRExtractor(cfg.OCRPath, pdf))
	}
	return &ChainExtractor{Extractors: chain, MinPageChars: cfg.MinPageChars}
}
