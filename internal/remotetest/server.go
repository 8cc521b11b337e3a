// Package remotetest 提供远程错误日志 API 的进程内实现，供测试与本地调试使用。
//
// 路由:
//
//	POST /api/logs?logId={logId}                              - 记录错误，返回条目 ID
//	GET  /api/logs/{id}&logId={logId}                         - 读取单条错误
//	GET  /api/logs?logId={logId}&pageindex={n}&pagesize={m}   - 分页读取错误（从新到旧）
//
// 每个 logId 对应一个独立的 errorlog.MemoryErrorLog。
package remotetest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/errorlog"
	"github.com/oriys/relog/internal/telemetry"
)

// Request 是服务器收到的一次请求的记录。
type Request struct {
	Method      string
	URI         string
	ContentType string
	RequestID   string
	TraceID     string
	Body        string
}

// Entry 是 API 返回的错误条目。
type Entry struct {
	ID       string `json:"Id"`
	ErrorXML string `json:"ErrorXml"`
}

// Server 是远程错误日志 API 的测试实现。
type Server struct {
	*httptest.Server

	logger *logrus.Logger

	mu       sync.Mutex
	logs     map[string]*errorlog.MemoryErrorLog
	requests []Request
	failures []int
}

// NewServer 启动服务器。调用方负责 Close。
func NewServer(logger *logrus.Logger) *Server {
	s := newServer(logger)
	s.Server = httptest.NewServer(s.Handler())
	return s
}

func newServer(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Server{
		logger: logger,
		logs:   make(map[string]*errorlog.MemoryErrorLog),
	}
}

// Handler 返回 API 路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.HTTPMiddleware("relog-remotetest"))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.Route("/api/logs", func(r chi.Router) {
		r.Post("/", s.logError)
		r.Get("/", s.getErrors)
		r.Get("/{idAndLog}", s.getError)
	})

	return r
}

// Log 返回 logID 对应的内存错误日志，不存在时创建。
func (s *Server) Log(logID string) *errorlog.MemoryErrorLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[logID]
	if !ok {
		l = errorlog.NewMemory(errorlog.MaxMemorySize)
		s.logs[logID] = l
	}
	return l
}

// Requests 返回已收到请求的副本（按到达顺序）。
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// FailNext 让接下来的请求依次以给定状态码失败。
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:      r.Method,
			URI:         r.RequestURI,
			ContentType: r.Header.Get("Content-Type"),
			RequestID:   r.Header.Get("X-Request-ID"),
			TraceID:     telemetry.TraceIDFromContext(r.Context()),
			Body:        string(body),
		})
		status := 0
		if len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logError(w http.ResponseWriter, r *http.Request) {
	logID := r.URL.Query().Get("logId")
	if logID == "" {
		http.Error(w, "logId is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// 请求体为 "=<url 编码的错误 XML>"，即键为空的表单字段
	form, err := url.ParseQuery(string(body))
	if err != nil || !strings.HasPrefix(string(body), "=") {
		http.Error(w, "body must be =<url-encoded error xml>", http.StatusBadRequest)
		return
	}
	e, err := domain.DecodeErrorXMLString(form.Get(""))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.Log(logID).Log(r.Context(), e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	telemetry.EntryWithTraceContext(r.Context(), s.logger.WithFields(logrus.Fields{
		"log_id":   logID,
		"entry_id": id,
		"type":     e.Type,
	})).Debug("Error received")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, id)
}

func (s *Server) getError(w http.ResponseWriter, r *http.Request) {
	// 路径形如 /api/logs/{id}&logId={logId}
	raw := chi.URLParam(r, "idAndLog")
	rawID, rawLogID, ok := strings.Cut(raw, "&logId=")
	if !ok || rawLogID == "" {
		http.Error(w, "logId is required", http.StatusBadRequest)
		return
	}
	id, err := url.PathUnescape(rawID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logID, err := url.QueryUnescape(rawLogID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.Log(logID).GetError(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrEntryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dto, err := toEntry(entry)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) getErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logID := q.Get("logId")
	if logID == "" {
		http.Error(w, "logId is required", http.StatusBadRequest)
		return
	}
	pageIndex, err1 := strconv.Atoi(q.Get("pageindex"))
	pageSize, err2 := strconv.Atoi(q.Get("pagesize"))
	if err1 != nil || err2 != nil {
		http.Error(w, "pageindex and pagesize must be integers", http.StatusBadRequest)
		return
	}

	var entries []*domain.ErrorLogEntry
	if _, err := s.Log(logID).GetErrors(r.Context(), pageIndex, pageSize, &entries); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		dto, err := toEntry(entry)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		page = append(page, dto)
	}
	writeJSON(w, http.StatusOK, page)
}

func toEntry(entry *domain.ErrorLogEntry) (Entry, error) {
	data, err := domain.EncodeErrorXML(entry.Error)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ID: entry.ID, ErrorXML: string(data)}, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
