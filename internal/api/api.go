package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/locator"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/render"
	"github.com/hitsz-openauto/hoa-pr/internal/session"
	"github.com/hitsz-openauto/hoa-pr/internal/store"
)

// maxBody caps request bodies; a readme.toml is a few tens of KB.
const maxBody = 1 << 20

// Server provides the REST and WebSocket handlers.
type Server struct {
	engine  *session.Engine
	store   store.Store
	locator *locator.Locator
	budget  int
}

// NewServer creates a new API server. The locator may be nil, and a
// non-positive budget selects session.DefaultBudget.
func NewServer(e *session.Engine, s store.Store, l *locator.Locator, budget int) *Server {
	if l == nil {
		l = locator.New()
	}
	if budget <= 0 {
		budget = session.DefaultBudget
	}
	return &Server{engine: e, store: s, locator: l, budget: budget}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/messages", s.postMessage)
	mux.HandleFunc("GET /api/v1/ws", s.serveWS)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{user}", s.getSession)

	mux.HandleFunc("POST /api/v1/render", s.renderDocument)
	mux.HandleFunc("POST /api/v1/locate", s.locate)

	mux.HandleFunc("GET /api/v1/courses", s.listCourses)
	mux.HandleFunc("GET /api/v1/nicknames", s.listNicknames)
	mux.HandleFunc("GET /api/v1/submissions", s.listSubmissions)
	mux.HandleFunc("GET /api/v1/prs", s.listTrackedPRs)

	return requestID(corsMiddleware(mux))
}

// requestID tags every request with an X-Request-Id, honouring one sent by
// the caller, and logs it with the outcome.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request", "request_id", id, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// --- Conversation ---

// messageResponse is a session.Reply with its error flattened to text.
type messageResponse struct {
	session.Reply
	Error string `json:"error,omitempty"`
}

func toResponse(reply session.Reply) messageResponse {
	resp := messageResponse{Reply: reply}
	if reply.Err != nil {
		resp.Error = reply.Err.Error()
	}
	return resp
}

func validMessage(msg session.Message) string {
	if strings.TrimSpace(msg.User) == "" {
		return "user is required"
	}
	if strings.TrimSpace(msg.Text) == "" {
		return "text is required"
	}
	return ""
}

// postMessage runs one conversational turn. Turn-level failures are part of
// the reply, so the status is 200 whenever the turn ran.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg session.Message
	if !decode(w, r, &msg) {
		return
	}
	if problem := validMessage(msg); problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}
	reply := s.engine.Handle(r.Context(), msg)
	writeJSON(w, http.StatusOK, toResponse(reply))
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Sessions())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	key := session.Key{User: r.PathValue("user"), Scope: r.URL.Query().Get("scope")}
	sess, ok := s.engine.Session(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no live session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Summary())
}

// --- Documents ---

type documentRequest struct {
	TOML   string `json:"toml"`
	Budget int    `json:"budget,omitempty"`
	Query  string `json:"query,omitempty"`
}

func (s *Server) parse(w http.ResponseWriter, r *http.Request) (document.Document, documentRequest, bool) {
	var req documentRequest
	if !decode(w, r, &req) {
		return nil, req, false
	}
	doc, err := document.Parse(req.TOML)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return nil, req, false
	}
	return doc, req, true
}

func (s *Server) renderDocument(w http.ResponseWriter, r *http.Request) {
	doc, req, ok := s.parse(w, r)
	if !ok {
		return
	}
	budget := req.Budget
	if budget <= 0 {
		budget = s.budget
	}
	segments := slices.Collect(render.Render(doc, budget))
	writeJSON(w, http.StatusOK, map[string]any{
		"repo_type": doc.RepoType(),
		"revision":  document.Revision(doc),
		"segments":  segments,
	})
}

func (s *Server) locate(w http.ResponseWriter, r *http.Request) {
	doc, req, ok := s.parse(w, r)
	if !ok {
		return
	}
	res, err := s.locator.Locate(doc, req.Query)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no matching paragraph")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Catalog & history ---

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.store.ListCourses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) listNicknames(w http.ResponseWriter, r *http.Request) {
	nicks, err := s.store.ListNicknames(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nicks)
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SubmissionListFilter{
		RepoName: q.Get("repo"),
		UserID:   q.Get("user"),
		Outcome:  models.SubmissionOutcome(q.Get("outcome")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	subs, err := s.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) listTrackedPRs(w http.ResponseWriter, r *http.Request) {
	prs, err := s.store.ListTrackedPRs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prs)
}
