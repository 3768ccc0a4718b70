package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"legalflow/internal/attachments"
	"legalflow/internal/logging"
	"legalflow/internal/search"
	"legalflow/internal/workflow"
)

const (
	actorHeader     = "X-Actor-NIK"
	maxJSONBody     = 1 << 20
	maxMultipartMem = 32 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limits     *actorLimits
	log        zerolog.Logger
}

// NewHTTPServer builds the API server. rps <= 0 disables rate limiting.
func NewHTTPServer(service *Service, corsOrigin string, rps float64, burst int) *HTTPServer {
	var limits *actorLimits
	if rps > 0 {
		limits = newActorLimits(rate.Limit(rps), burst)
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, limits: limits, log: logging.Component("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(s.rateLimit)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		api.Get("/ready", s.handleReady)

		api.Group(func(authed chi.Router) {
			authed.Use(s.requireActor)

			authed.Post("/documents", s.handleCreateDocument)
			authed.Route("/documents/{ownerID}", func(doc chi.Router) {
				doc.Get("/", s.handleGetDocument)
				doc.Post("/submit", s.handleSubmit)
				doc.Post("/decide", s.handleDecide)
				doc.Post("/withdraw", s.handleWithdraw)
				doc.Get("/comments", s.handleListComments)
				doc.Post("/comments", s.handleAddComment)
				doc.Get("/discussion", s.handleDiscussionState)
				doc.Post("/discussion/close", s.handleCloseDiscussion)
				doc.Post("/agreements", s.handleCreateAgreement)
				doc.Get("/approvers", s.handleApprovers(workflow.OwnerDocument))
				doc.Get("/can-act", s.handleCanAct(workflow.OwnerDocument))
				doc.Get("/history", s.handleHistory(workflow.OwnerDocument))
			})
			authed.Route("/agreements/{ownerID}", func(ag chi.Router) {
				ag.Get("/", s.handleGetAgreement)
				ag.Post("/submit", s.handleSubmitAgreement)
				ag.Post("/decide", s.handleDecideAgreement)
				ag.Get("/approvers", s.handleApprovers(workflow.OwnerAgreement))
				ag.Get("/can-act", s.handleCanAct(workflow.OwnerAgreement))
				ag.Get("/history", s.handleHistory(workflow.OwnerAgreement))
			})
			authed.Get("/inbox", s.handleInbox)
			authed.Get("/search", s.handleSearch)
		})
	})
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetDocument(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Submit(r.Context(), chi.URLParam(r, "ownerID"), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleDecide(w http.ResponseWriter, r *http.Request) {
	var body DecideInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.Decision = workflow.Decision(strings.ToUpper(strings.TrimSpace(string(body.Decision))))
	result, err := s.service.Decide(r.Context(), chi.URLParam(r, "ownerID"), body, actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Withdraw(r.Context(), chi.URLParam(r, "ownerID"), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Comments(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	input, closeFiles, err := readCommentInput(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	defer closeFiles()
	comment, err := s.service.AddComment(r.Context(), chi.URLParam(r, "ownerID"), actorFrom(r), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// readCommentInput accepts either a JSON body or a multipart form with a
// "body" field and any number of "attachments" files.
func readCommentInput(w http.ResponseWriter, r *http.Request) (CommentInput, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var input CommentInput
		if err := decodeBody(r, &input); err != nil {
			return CommentInput{}, noop, err
		}
		return input, noop, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, attachments.MaxUploadBytes*10+maxJSONBody)
	if err := r.ParseMultipartForm(maxMultipartMem); err != nil {
		return CommentInput{}, noop, fmt.Errorf("invalid multipart body")
	}
	input := CommentInput{Body: r.FormValue("body")}
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}
	for _, header := range r.MultipartForm.File["attachments"] {
		f, err := header.Open()
		if err != nil {
			closeAll()
			return CommentInput{}, noop, fmt.Errorf("read attachment %s", header.Filename)
		}
		opened = append(opened, f)
		input.Attachments = append(input.Attachments, attachments.Upload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        f,
		})
	}
	return input, closeAll, nil
}

func (s *HTTPServer) handleDiscussionState(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.DiscussionState(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCloseDiscussion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CloseDiscussion(r.Context(), chi.URLParam(r, "ownerID"), actorFrom(r), body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	var body CreateAgreementInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	agreement, err := s.service.CreateAgreement(r.Context(), chi.URLParam(r, "ownerID"), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agreement)
}

func (s *HTTPServer) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	agreement, err := s.service.GetAgreement(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (s *HTTPServer) handleSubmitAgreement(w http.ResponseWriter, r *http.Request) {
	agreement, err := s.service.SubmitAgreement(r.Context(), chi.URLParam(r, "ownerID"), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (s *HTTPServer) handleDecideAgreement(w http.ResponseWriter, r *http.Request) {
	var body DecideInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.Decision = workflow.Decision(strings.ToUpper(strings.TrimSpace(string(body.Decision))))
	result, err := s.service.DecideAgreement(r.Context(), chi.URLParam(r, "ownerID"), body, actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleApprovers(ownerType workflow.OwnerType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.service.CurrentApprovers(r.Context(), ownerType, chi.URLParam(r, "ownerID"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *HTTPServer) handleCanAct(ownerType workflow.OwnerType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, err := s.service.CanAct(r.Context(), ownerType, chi.URLParam(r, "ownerID"), actorFrom(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"canAct": allowed})
	}
}

func (s *HTTPServer) handleHistory(ownerType workflow.OwnerType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.service.History(r.Context(), ownerType, chi.URLParam(r, "ownerID"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (s *HTTPServer) handleInbox(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Inbox(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := search.Query{
		Text:             strings.TrimSpace(values.Get("q")),
		FilterType:       search.ResultType(strings.ToLower(strings.TrimSpace(values.Get("type")))),
		FilterDivision:   values.Get("division"),
		FilterDocumentID: values.Get("documentId"),
	}
	switch q.FilterType {
	case "", search.ResultDocument, search.ResultComment:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "type must be document or comment", nil)
		return
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer", nil)
			return
		}
		q.Limit = n
	}
	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a non-negative integer", nil)
			return
		}
		q.Offset = n
	}
	if q.Text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), actorFrom(r), q))
}

type actorKey struct{}

// requireActor resolves the X-Actor-NIK header against the directory. The
// gateway in front of the API authenticates the user and sets the header.
func (s *HTTPServer) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nik := strings.TrimSpace(r.Header.Get(actorHeader))
		if nik == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		actor, err := s.service.ActorFor(r.Context(), nik)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) workflow.Actor {
	actor, _ := r.Context().Value(actorKey{}).(workflow.Actor)
	return actor
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		reqLog := s.log.With().Str("request_id", requestID).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = logging.WithContext(ctx, reqLog)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// actorLimits keeps one token bucket per caller, keyed by actor NIK or by
// client IP for anonymous requests. Idle buckets are swept every few minutes.
type actorLimits struct {
	limit   rate.Limit
	burst   int
	entries sync.Map // key -> *limitEntry
	sweep   sync.Once
}

type limitEntry struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	last    time.Time
}

func newActorLimits(limit rate.Limit, burst int) *actorLimits {
	if burst < 1 {
		burst = 1
	}
	return &actorLimits{limit: limit, burst: burst}
}

func (l *actorLimits) allow(key string) bool {
	v, _ := l.entries.LoadOrStore(key, &limitEntry{limiter: rate.NewLimiter(l.limit, l.burst)})
	entry := v.(*limitEntry)
	entry.mu.Lock()
	entry.last = time.Now()
	entry.mu.Unlock()
	l.sweep.Do(func() { go l.sweepIdle() })
	return entry.limiter.Allow()
}

func (l *actorLimits) sweepIdle() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		now := time.Now()
		l.entries.Range(func(key, val any) bool {
			entry := val.(*limitEntry)
			entry.mu.Lock()
			idle := now.Sub(entry.last) > 30*time.Minute
			entry.mu.Unlock()
			if idle {
				l.entries.Delete(key)
			}
			return true
		})
	}
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limits == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := strings.TrimSpace(r.Header.Get(actorHeader))
		if key == "" {
			key = "ip:" + remoteIP(r)
		}
		if !s.limits.allow(key) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func randomRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	if corsOrigin == "" {
		return
	}
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-NIK, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
