package remotetest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/relog/internal/domain"
)

func postError(t *testing.T, s *Server, logID string, e *domain.Error) *http.Response {
	t.Helper()
	data, err := domain.EncodeErrorXML(e)
	require.NoError(t, err)

	resp, err := http.Post(s.URL+"/api/logs?logId="+url.QueryEscape(logID),
		"application/x-www-form-urlencoded",
		strings.NewReader("="+url.QueryEscape(string(data))))
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServer_LogAndRead(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	e := &domain.Error{Type: "System.Exception", Message: "boom", Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	resp := postError(t, s, "log-1", e)
	id := readBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, id)
	require.NotEmpty(t, id)

	resp, err := http.Get(s.URL + "/api/logs/" + id + "&logId=log-1")
	require.NoError(t, err)
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(body), &entry))
	assert.Equal(t, id, entry.ID)
	got, err := domain.DecodeErrorXMLString(entry.ErrorXML)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	resp, err = http.Get(s.URL + "/api/logs?logId=log-1&pageindex=0&pagesize=10")
	require.NoError(t, err)
	body = readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var page []Entry
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	require.Len(t, page, 1)
	assert.Equal(t, id, page[0].ID)
}

func TestServer_HugePageIsEmpty(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	resp := postError(t, s, "log-1", &domain.Error{Type: "System.Exception", Message: "boom"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, readBody(t, resp))

	resp, err := http.Get(s.URL + "/api/logs?logId=log-1&pageindex=4611686018427387904&pagesize=2")
	require.NoError(t, err)
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, "[]", body)
}

func TestServer_LogsAreIsolated(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	resp := postError(t, s, "a", &domain.Error{Type: "System.Exception"})
	id := readBody(t, resp)

	resp, err := http.Get(s.URL + "/api/logs/" + id + "&logId=b")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(s.URL + "/api/logs?logId=b&pageindex=0&pagesize=10")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", readBody(t, resp))
}

func TestServer_BadRequests(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "post without logId", method: http.MethodPost, path: "/api/logs", body: "=x"},
		{name: "post without leading =", method: http.MethodPost, path: "/api/logs?logId=a", body: "xml=%3Cerror%2F%3E"},
		{name: "post invalid xml", method: http.MethodPost, path: "/api/logs?logId=a", body: "=%3Cerror"},
		{name: "get without logId", method: http.MethodGet, path: "/api/logs/1", body: ""},
		{name: "list without paging", method: http.MethodGet, path: "/api/logs?logId=a", body: ""},
		{name: "list negative page", method: http.MethodGet, path: "/api/logs?logId=a&pageindex=-1&pagesize=1", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, s.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			readBody(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_RecordsRequestsAndFailures(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	s.FailNext(http.StatusServiceUnavailable)
	resp := postError(t, s, "a", &domain.Error{Type: "System.Exception"})
	readBody(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = postError(t, s, "a", &domain.Error{Type: "System.Exception"})
	readBody(t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/logs?logId=a", r.URI)
		assert.Equal(t, "application/x-www-form-urlencoded", r.ContentType)
		assert.True(t, strings.HasPrefix(r.Body, "="))
	}

	total, err := s.Log("a").GetErrors(context.Background(), 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
