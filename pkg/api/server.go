// Package api serves the study pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/export"
	"github.com/ncolesummers/open-study-agent/pkg/ingest"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
	"github.com/ncolesummers/open-study-agent/pkg/workflow"
)

const (
	// Version is reported by the status endpoint
	Version = "0.1.0"

	maxChatSources     = 5
	maxChatSourceChars = 500
)

// TurnRunner runs chat turns
type TurnRunner interface {
	Ask(ctx context.Context, sessionID, query string, mode domain.Mode, namespace string) (*state.PipelineState, error)
	Turn(ctx context.Context, in state.TurnInput) (*state.PipelineState, error)
}

// DocumentIngester indexes uploads
type DocumentIngester interface {
	Ingest(ctx context.Context, namespace, filename string, data []byte) (*ingest.IngestResult, error)
}

// Exporter renders Q&A documents
type Exporter interface {
	Export(ctx context.Context, req export.Request) ([]byte, string, error)
}

// StudyMapper builds study guides
type StudyMapper interface {
	Map(ctx context.Context, content string) (domain.StudyGuide, domain.StageLog, error)
}

// ExamPredictor predicts exam questions for a subject code
type ExamPredictor interface {
	Predict(ctx context.Context, subjectCode string) (string, error)
}

// Deps are the collaborators behind the endpoints. Cartographer and Oracle
// are optional; their endpoints answer 503 without them.
type Deps struct {
	Turns        TurnRunner
	Store        domain.VectorStore
	Ingestor     DocumentIngester
	Exporter     Exporter
	Cartographer StudyMapper
	Oracle       ExamPredictor
	Telemetry    *observability.Telemetry
}

// Server is the HTTP front end
type Server struct {
	cfg            config.APIConfig
	deps           Deps
	requestTimeout time.Duration
	maxUpload      int64
	mux            *http.ServeMux
	logger         observability.Logger
	now            func() time.Time
}

// NewServer creates a server and registers its routes
func NewServer(cfg config.APIConfig, deps Deps) (*Server, error) {
	if deps.Turns == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if deps.Exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}

	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil || timeout <= 0 {
		timeout = 3 * time.Minute
	}
	maxUploadMB := cfg.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}

	s := &Server{
		cfg:            cfg,
		deps:           deps,
		requestTimeout: timeout,
		maxUpload:      int64(maxUploadMB) << 20,
		mux:            http.NewServeMux(),
		logger:         observability.NewStructuredLogger("api"),
		now:            time.Now,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/export", s.handleExport)
	s.mux.HandleFunc("DELETE /api/namespace", s.handleDeleteNamespace)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
	s.mux.HandleFunc("POST /api/study-cards", s.handleStudyCards)
	s.mux.HandleFunc("POST /api/exam-oracle", s.handleExamOracle)
	if s.deps.Telemetry != nil {
		s.mux.Handle("GET /metrics", s.deps.Telemetry.MetricsHandler())
	}
}

// ServeHTTP applies CORS and the request timeout, then dispatches
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

// ListenAndServe serves on the configured host and port until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "API server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.CORS.AllowedOrigins) == 0 {
		return
	}
	allowed := ""
	for _, o := range s.cfg.CORS.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = o
			break
		}
	}
	if allowed == "" {
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		h.Add("Vary", "Origin")
	}
	if len(s.cfg.CORS.AllowedMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(s.cfg.CORS.AllowedMethods, ", "))
	}
	if len(s.cfg.CORS.AllowedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(s.cfg.CORS.AllowedHeaders, ", "))
	}
	if s.cfg.CORS.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(s.cfg.CORS.MaxAge))
	}
}

// ChatRequest is the body of POST /api/chat. SessionID selects server-side
// history; without it ChatHistory is used as given.
type ChatRequest struct {
	Query       string                    `json:"query"`
	Mode        domain.Mode               `json:"mode"`
	Namespace   string                    `json:"namespace"`
	SessionID   string                    `json:"session_id"`
	ChatHistory []domain.ConversationTurn `json:"chat_history"`
}

// ChatSource is one retrieved passage in a chat response
type ChatSource struct {
	Content string        `json:"content"`
	Source  domain.Origin `json:"source"`
	Page    *int          `json:"page"`
	URL     *string       `json:"url"`
}

// ChatResponse is the body returned by POST /api/chat
type ChatResponse struct {
	Answer         string                    `json:"answer"`
	Mode           domain.Mode               `json:"mode"`
	Intent         domain.Intent             `json:"intent"`
	GroundingScore *float64                  `json:"grounding_score"`
	CriticStatus   domain.GroundingStatus    `json:"critic_status,omitempty"`
	CriticReason   string                    `json:"critic_reason,omitempty"`
	PapersMetadata []domain.CitationMetadata `json:"papers_metadata"`
	Sources        []ChatSource              `json:"retrieved_sources"`
	AgentLogs      []domain.StageLog         `json:"agent_logs"`
	ElapsedSeconds float64                   `json:"elapsed_time"`
	SessionID      string                    `json:"session_id,omitempty"`
	TurnID         string                    `json:"turn_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	mode := req.Mode
	switch mode {
	case "":
		mode = domain.ModeStudent
	case domain.ModeStudent, domain.ModeResearch:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	start := s.now()
	var (
		st  *state.PipelineState
		err error
	)
	if req.SessionID != "" {
		st, err = s.deps.Turns.Ask(r.Context(), req.SessionID, req.Query, mode, req.Namespace)
	} else {
		st, err = s.deps.Turns.Turn(r.Context(), state.TurnInput{
			Query:     req.Query,
			Mode:      mode,
			Namespace: req.Namespace,
			History:   req.ChatHistory,
		})
	}
	if err != nil {
		s.fail(r.Context(), w, "Chat turn failed", err)
		return
	}

	snap := st.Snapshot()
	answer := snap.AnswerText()
	if answer == "" {
		answer = "No answer generated."
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Answer:         answer,
		Mode:           snap.Mode,
		Intent:         snap.Intent,
		GroundingScore: snap.GroundingScore,
		CriticStatus:   snap.GroundingStatus,
		CriticReason:   snap.GroundingReason,
		PapersMetadata: snap.Citations,
		Sources:        chatSources(snap.Passages),
		AgentLogs:      snap.StageLogs,
		ElapsedSeconds: float64(s.now().Sub(start).Milliseconds()) / 1000,
		SessionID:      req.SessionID,
		TurnID:         snap.TurnID,
	})
}

func chatSources(passages []domain.SourcePassage) []ChatSource {
	if len(passages) > maxChatSources {
		passages = passages[:maxChatSources]
	}
	out := make([]ChatSource, 0, len(passages))
	for _, p := range passages {
		src := ChatSource{
			Content: clipRunes(p.Content, maxChatSourceChars),
			Source:  p.Origin,
			Page:    p.Page,
		}
		if p.URL != "" {
			url := p.URL
			src.URL = &url
		}
		out = append(out, src)
	}
	return out
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds the %d MB limit", s.maxUpload>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	result, err := s.deps.Ingestor.Ingest(r.Context(), r.FormValue("namespace"), header.Filename, data)
	if err != nil {
		s.fail(r.Context(), w, "Upload failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Document processed successfully",
		"namespace": result.Namespace,
		"pages":     result.Pages,
		"chunks":    result.Chunks,
		"filename":  result.Filename,
		"size_mb":   result.SizeMB,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string          `json:"question"`
		Answer   string          `json:"answer"`
		Sources  []export.Source `json:"sources"`
		Format   string          `json:"format"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "question and answer are required")
		return
	}
	var format export.Format
	if req.Format != "" {
		f, err := export.ParseFormat(req.Format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	doc, filename, err := s.deps.Exporter.Export(r.Context(), export.Request{
		Question: req.Question,
		Answer:   req.Answer,
		Sources:  req.Sources,
		Format:   format,
	})
	if err != nil {
		s.fail(r.Context(), w, "Export failed", err)
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if strings.HasSuffix(filename, ".html") {
		contentType = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" && r.ContentLength != 0 {
		var req struct {
			Namespace string `json:"namespace"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		namespace = req.Namespace
	}

	if namespace != "" {
		if err := s.deps.Store.DeleteNamespace(r.Context(), namespace); err != nil {
			s.fail(r.Context(), w, "Namespace delete failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Namespace cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "online",
		"service":   "OSA - Open Study Agent",
		"version":   Version,
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workflow.Stages())
}

func (s *Server) handleStudyCards(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cartographer == nil {
		writeError(w, http.StatusServiceUnavailable, "study cards are not configured")
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "No content provided")
		return
	}

	guide, _, err := s.deps.Cartographer.Map(r.Context(), req.Content)
	if err != nil {
		s.fail(r.Context(), w, "Study guide failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cards":    guide.Cards,
		"mind_map": guide.MindMap,
	})
}

func (s *Server) handleExamOracle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Oracle == nil {
		writeError(w, http.StatusServiceUnavailable, "exam oracle is not configured")
		return
	}
	var req struct {
		SubjectCode string `json:"subject_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := agents.ExtractSubjectCode(req.SubjectCode)
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(req.SubjectCode))
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "No subject code provided")
		return
	}

	prediction, err := s.deps.Oracle.Predict(r.Context(), code)
	resp := map[string]interface{}{
		"subject_code": code,
		"prediction":   prediction,
	}
	if err != nil {
		// The fallback text is still a valid answer.
		s.logger.Warn(r.Context(), "Exam prediction fell back", map[string]interface{}{
			"subject_code": code,
			"error":        err.Error(),
		})
		resp["error"] = "exam data could not be verified"
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps err to a status code and writes a JSON error without internals
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnreadableDocument):
		writeError(w, http.StatusUnprocessableEntity, ingest.ErrUnreadableDocument.Error())
		return
	case errors.Is(err, workflow.ErrNoQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(ctx, message, map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	s.logger.Error(ctx, message, err)
	writeError(w, http.StatusInternalServerError, message)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
