package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	URLs    []string    `json:"urls,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Pipeline is the part of the pipeline the server drives.
type Pipeline interface {
	Ingest(ctx context.Context, urls []string, opts ...pipeline.IngestOption) (*pipeline.IngestResult, error)
	Query(ctx context.Context, question string, opts ...types.AnswerOption) (*models.QueryResult, error)
	Info(ctx context.Context) (*models.IndexInfo, error)
}

type Config struct {
	Addr      string
	Streaming bool
	Logger    *slog.Logger
}

type WSServer struct {
	config   Config
	pipeline Pipeline
	logger   *slog.Logger
}

type ingestRequest struct {
	URLs []string `json:"urls"`
}

type queryRequest struct {
	Question string `json:"question"`
}

type urlFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Documents int          `json:"documents"`
	Segments  int          `json:"segments"`
	Sources   []string     `json:"sources"`
	Failures  []urlFailure `json:"failures,omitempty"`
	BuildID   string       `json:"build_id"`
}

type queryResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	NoContent bool     `json:"no_content,omitempty"`
}

type infoResponse struct {
	Dimension int       `json:"dimension"`
	Model     string    `json:"model"`
	BuildID   string    `json:"build_id"`
	BuiltAt   time.Time `json:"built_at"`
	Count     int       `json:"count"`
	Sources   []string  `json:"sources"`
}

type errorResponse struct {
	Error    string       `json:"error"`
	Kind     string       `json:"kind"`
	Failures []urlFailure `json:"failures,omitempty"`
}

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

var stageMessages = map[pipeline.Stage]string{
	pipeline.StageLoading:   "Data Loading...Started...",
	pipeline.StageSplitting: "Text Splitter...Started...",
	pipeline.StageEmbedding: "Embedding Vector Started Building...",
	pipeline.StageSaving:    "Saving index...",
}

func NewWSServer(config Config, p Pipeline) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WSServer{
		config:   config,
		pipeline: p,
		logger:   logger,
	}
}

// Handler returns the routes served by the server.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/info", s.handleInfo)

	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.config.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *WSServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), req.URLs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIngestResponse(result))
}

func (s *WSServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := s.pipeline.Query(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toQueryResponse(result))
}

func (s *WSServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.pipeline.Info(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, infoResponse{
		Dimension: info.Dimension,
		Model:     info.Model,
		BuildID:   info.BuildID,
		BuiltAt:   info.BuiltAt,
		Count:     info.Count,
		Sources:   nonNil(info.Sources),
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", Kind: "request"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "request"})
		return false
	}
	return true
}

func (s *WSServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{
		Error:    pipeline.UserMessage(err),
		Kind:     pipeline.KindOf(err).String(),
		Failures: toURLFailures(pipeline.FailuresOf(err)),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNoURLs),
		errors.Is(err, types.ErrTooManyURLs),
		errors.Is(err, types.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNoDocuments),
		errors.Is(err, types.ErrNoSegments):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, types.ErrEmbedding),
		errors.Is(err, types.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
}

func (c *wsConn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("error sending message", "error", err)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	c := &wsConn{conn: conn, logger: s.logger}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("error reading message", "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.send(Message{Type: "error", Content: "invalid message"})
			continue
		}

		// Messages are handled in arrival order
		s.handleMessage(r.Context(), c, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *wsConn, msg Message) {
	switch msg.Type {
	case "ingest":
		urls := append(msg.URLs, urlRegex.FindAllString(msg.Content, -1)...)
		s.ingest(ctx, c, urls)
	case "query":
		s.query(ctx, c, msg.Content)
	case "", "chat":
		// Free text: URLs are ingested, any remaining text is asked
		urls := urlRegex.FindAllString(msg.Content, -1)
		question := strings.TrimSpace(urlRegex.ReplaceAllString(msg.Content, ""))
		if len(urls) > 0 {
			if !s.ingest(ctx, c, urls) || question == "" {
				return
			}
		}
		s.query(ctx, c, question)
	default:
		c.send(Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *WSServer) ingest(ctx context.Context, c *wsConn, urls []string) bool {
	for _, u := range urls {
		c.send(Message{Type: "status", Content: fmt.Sprintf("Processing URL: %s", u)})
	}

	result, err := s.pipeline.Ingest(ctx, urls, pipeline.WithProgress(func(stage pipeline.Stage) {
		c.send(Message{Type: "status", Content: stageMessages[stage]})
	}))
	if err != nil {
		c.send(errorMessage(err))
		return false
	}

	c.send(Message{
		Type:    "ingested",
		Content: fmt.Sprintf("Indexed %d segments from %d documents", result.Segments, result.Documents),
		Data:    toIngestResponse(result),
	})
	return true
}

func (s *WSServer) query(ctx context.Context, c *wsConn, question string) {
	var opts []types.AnswerOption
	if s.config.Streaming {
		opts = append(opts, types.WithOnChunk(func(chunk string) {
			c.send(Message{Type: "stream", Content: chunk})
		}))
	}

	result, err := s.pipeline.Query(ctx, question, opts...)
	if err != nil {
		c.send(errorMessage(err))
		return
	}

	c.send(Message{
		Type:    "answer",
		Content: result.Answer,
		Data:    toQueryResponse(result),
	})
}

func errorMessage(err error) Message {
	return Message{
		Type:    "error",
		Content: pipeline.UserMessage(err),
		Data: errorResponse{
			Error:    pipeline.UserMessage(err),
			Kind:     pipeline.KindOf(err).String(),
			Failures: toURLFailures(pipeline.FailuresOf(err)),
		},
	}
}

func toIngestResponse(result *pipeline.IngestResult) ingestResponse {
	resp := ingestResponse{
		Documents: result.Documents,
		Segments:  result.Segments,
		Sources:   nonNil(result.Sources),
		BuildID:   result.BuildID,
	}
	resp.Failures = toURLFailures(result.Failures)
	return resp
}

func toURLFailures(failures []models.URLFailure) []urlFailure {
	var out []urlFailure
	for _, f := range failures {
		out = append(out, urlFailure{URL: f.URL, Error: f.Err.Error()})
	}
	return out
}

func toQueryResponse(result *models.QueryResult) queryResponse {
	return queryResponse{
		Answer:    result.Answer,
		Sources:   nonNil(result.Sources),
		NoContent: result.NoContent,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
