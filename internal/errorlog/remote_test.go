package errorlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oriys/relog/internal/config"
	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/errorlog"
	"github.com/oriys/relog/internal/metrics"
	"github.com/oriys/relog/internal/webclient"
)

type ApplicationException struct {
	msg string
}

func (e *ApplicationException) Error() string { return e.msg }

type remoteFixture struct {
	log     *errorlog.RemoteErrorLog
	factory *MockFactory
	client  *MockClient
	logID   string
	metrics *metrics.Metrics
}

func newRemoteFixture(t *testing.T, settings map[string]string) *remoteFixture {
	t.Helper()

	logID := uuid.New().String()
	if settings == nil {
		settings = map[string]string{}
	}
	if _, ok := settings[config.KeyLogID]; !ok {
		settings[config.KeyLogID] = logID
	}
	logID = settings[config.KeyLogID]

	client := NewMockClient()
	factory := &MockFactory{}
	factory.On("Create").Return(client)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	log, err := errorlog.NewRemoteFromSettings(settings, factory,
		errorlog.WithLogger(logger),
		errorlog.WithMetrics(m),
	)
	require.NoError(t, err)

	return &remoteFixture{log: log, factory: factory, client: client, logID: logID, metrics: m}
}

func sampleErrorXML(t *testing.T, typ, message string) string {
	t.Helper()
	data, err := domain.EncodeErrorXML(&domain.Error{
		ApplicationName: "/LM/W3SVC/1/ROOT",
		HostName:        "WEB01",
		Type:            typ,
		Message:         message,
		Source:          "Sample",
		Detail:          typ + ": " + message,
		Time:            time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		StatusCode:      500,
	})
	require.NoError(t, err)
	return string(data)
}

func entryJSON(t *testing.T, id, errorXML string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"Id": id, "ErrorXml": errorXML})
	require.NoError(t, err)
	return string(data)
}

func urlUnescape(s string) (string, error) {
	return url.QueryUnescape(s)
}

func TestRemoteErrorLog_Name(t *testing.T) {
	f := newRemoteFixture(t, nil)
	assert.Equal(t, "Remote Error Log", f.log.Name())
	assert.Equal(t, f.logID, f.log.LogID())
	assert.Equal(t, f.logID, errorlog.LogIdentity(f.log))
}

func TestNewRemoteFromSettings_MissingLogID(t *testing.T) {
	_, err := errorlog.NewRemoteFromSettings(map[string]string{config.KeyURL: "http://example.com"}, &MockFactory{})
	assert.ErrorIs(t, err, domain.ErrMissingLogID)
}

func TestRemoteErrorLog_Log(t *testing.T) {
	f := newRemoteFixture(t, nil)
	id := strconv.Itoa(rand.Intn(1_000_000))

	var actualURI, actualData string
	f.client.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			actualURI = args.String(1)
			actualData = args.String(2)
		}).
		Return(id, nil).Once()

	e := domain.NewError(&ApplicationException{msg: "something broke"})
	result, err := f.log.Log(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, id, result)
	assert.Equal(t, errorlog.FormContentType, f.client.Header().Get(webclient.HeaderContentType))
	assert.True(t, strings.HasSuffix(actualURI, "api/logs?logId="+f.logID), actualURI)
	assert.True(t, strings.HasPrefix(actualData, "="), actualData)
	assert.Contains(t, actualData, "ApplicationException")

	f.client.AssertExpectations(t)
	f.factory.AssertNumberOfCalls(t, "Create", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("log", metrics.StatusSuccess)))
}

// elmahErrorXML 是远程 API 返回的典型错误文档，时间带 7 位小数
const elmahErrorXML = `<error host="localhost" type="System.ApplicationException" message="Error in the application." detail="System.ApplicationException: Error in the application." time="2013-07-13T06:16:03.9957581Z" />`

func TestRemoteErrorLog_FixedLogID(t *testing.T) {
	t.Run("log", func(t *testing.T) {
		f := newRemoteFixture(t, map[string]string{config.KeyLogID: "abc"})

		var actualURI, actualData string
		f.client.On("Post", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				actualURI = args.String(1)
				actualData = args.String(2)
			}).
			Return("42", nil).Once()

		id, err := f.log.Log(context.Background(), domain.NewError(&ApplicationException{msg: "Error in the application."}))
		require.NoError(t, err)

		assert.Equal(t, "42", id)
		assert.Equal(t, errorlog.FormContentType, f.client.Header().Get(webclient.HeaderContentType))
		assert.True(t, strings.HasSuffix(actualURI, "api/logs?logId=abc"), actualURI)
		assert.True(t, strings.HasPrefix(actualData, "="), actualData)
		assert.Contains(t, actualData, "ApplicationException")
	})

	t.Run("get error", func(t *testing.T) {
		f := newRemoteFixture(t, map[string]string{config.KeyLogID: "abc"})

		var actualURI string
		f.client.On("Get", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { actualURI = args.String(1) }).
			Return(entryJSON(t, "42", elmahErrorXML), nil).Once()

		entry, err := f.log.GetError(context.Background(), "42")
		require.NoError(t, err)

		assert.True(t, strings.HasSuffix(actualURI, "api/logs/42&logId=abc"), actualURI)
		assert.Equal(t, "42", entry.ID)
		assert.Equal(t, "localhost", entry.Error.HostName)
		assert.Equal(t, "System.ApplicationException", entry.Error.Type)
		assert.Equal(t, "Error in the application.", entry.Error.Message)
		assert.Equal(t, "System.ApplicationException: Error in the application.", entry.Error.Detail)
		assert.Equal(t, time.Date(2013, 7, 13, 6, 16, 3, 995758100, time.UTC), entry.Error.Time)
	})
}

func TestRemoteErrorLog_Log_BodyIsEncodedErrorXML(t *testing.T) {
	f := newRemoteFixture(t, map[string]string{config.KeyURL: "https://errors.example.com/base/"})

	var actualURI, actualData string
	f.client.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			actualURI = args.String(1)
			actualData = args.String(2)
		}).
		Return("42", nil)

	e := &domain.Error{
		Type:    "System.ApplicationException",
		Message: "a & b < c",
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Form:    domain.NameValues{{Name: "q", Value: "x=y"}},
	}
	_, err := f.log.Log(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, "https://errors.example.com/base/api/logs?logId="+f.logID, actualURI)

	decoded, err := urlUnescape(strings.TrimPrefix(actualData, "="))
	require.NoError(t, err)
	got, err := domain.DecodeErrorXMLString(decoded)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestRemoteErrorLog_Log_StampsApplicationName(t *testing.T) {
	f := newRemoteFixture(t, map[string]string{config.KeyApplicationName: "checkout"})

	var actualData string
	f.client.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { actualData = args.String(2) }).
		Return("1", nil)

	e := &domain.Error{Type: "System.ApplicationException", Time: time.Now().UTC()}
	_, err := f.log.Log(context.Background(), e)
	require.NoError(t, err)

	decoded, err := urlUnescape(strings.TrimPrefix(actualData, "="))
	require.NoError(t, err)
	got, err := domain.DecodeErrorXMLString(decoded)
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.ApplicationName)
	assert.Empty(t, e.ApplicationName, "caller's error must not be modified")
}

func TestRemoteErrorLog_Log_KeepsExistingApplicationName(t *testing.T) {
	f := newRemoteFixture(t, map[string]string{config.KeyApplicationName: "checkout"})

	var actualData string
	f.client.On("Post", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { actualData = args.String(2) }).
		Return("1", nil)

	_, err := f.log.Log(context.Background(), &domain.Error{ApplicationName: "billing", Time: time.Now().UTC()})
	require.NoError(t, err)
	assert.Contains(t, actualData, "billing")
	assert.NotContains(t, actualData, "checkout")
}

func TestRemoteErrorLog_Log_TransportErrorUnchanged(t *testing.T) {
	f := newRemoteFixture(t, nil)
	transportErr := &webclient.StatusError{Method: "POST", URI: "x", StatusCode: 503, Body: "unavailable"}
	f.client.On("Post", mock.Anything, mock.Anything, mock.Anything).Return("", transportErr)

	id, err := f.log.Log(context.Background(), domain.NewError(errors.New("boom")))
	assert.Empty(t, id)
	assert.Same(t, transportErr, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("log", metrics.StatusError)))
}

func TestRemoteErrorLog_Log_NilError(t *testing.T) {
	f := newRemoteFixture(t, nil)

	_, err := f.log.Log(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidErrorXML)
	f.factory.AssertNotCalled(t, "Create")
}

func TestRemoteErrorLog_GetError(t *testing.T) {
	f := newRemoteFixture(t, nil)
	id := strconv.Itoa(rand.Intn(1_000_000))
	body := entryJSON(t, id, sampleErrorXML(t, "System.ApplicationException", "Something failed"))

	var actualURI string
	f.client.On("Get", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { actualURI = args.String(1) }).
		Return(body, nil).Once()

	entry, err := f.log.GetError(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(actualURI, fmt.Sprintf("api/logs/%s&logId=%s", id, f.logID)), actualURI)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, "System.ApplicationException", entry.Error.Type)
	assert.Equal(t, "Something failed", entry.Error.Message)
	assert.Equal(t, 500, entry.Error.StatusCode)
	f.client.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EntriesFetched.WithLabelValues("get_error")))
}

func TestRemoteErrorLog_GetError_InvalidID(t *testing.T) {
	f := newRemoteFixture(t, nil)

	_, err := f.log.GetError(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidEntryID)
	f.factory.AssertNotCalled(t, "Create")
}

func TestRemoteErrorLog_GetError_MalformedResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "not json",
			body:    func(t *testing.T) string { return "<html>oops</html>" },
			wantErr: domain.ErrMalformedResponse,
		},
		{
			name:    "json array instead of object",
			body:    func(t *testing.T) string { return "[]" },
			wantErr: domain.ErrMalformedResponse,
		},
		{
			name:    "invalid error xml",
			body:    func(t *testing.T) string { return entryJSON(t, "7", "<error") },
			wantErr: domain.ErrInvalidErrorXML,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRemoteFixture(t, nil)
			f.client.On("Get", mock.Anything, mock.Anything).Return(tt.body(t), nil)

			entry, err := f.log.GetError(context.Background(), "7")
			assert.Nil(t, entry)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRemoteErrorLog_GetError_TransportErrorUnchanged(t *testing.T) {
	f := newRemoteFixture(t, nil)
	transportErr := errors.New("connection refused")
	f.client.On("Get", mock.Anything, mock.Anything).Return("", transportErr)

	_, err := f.log.GetError(context.Background(), "1")
	assert.Same(t, transportErr, err)
}

func TestRemoteErrorLog_GetErrors(t *testing.T) {
	f := newRemoteFixture(t, nil)
	pageIndex := rand.Intn(100)
	pageSize := rand.Intn(100) + 1

	errorXML := sampleErrorXML(t, "System.ApplicationException", "Something failed")
	body := "[" + strings.Join([]string{
		entryJSON(t, "1", errorXML),
		entryJSON(t, "2", errorXML),
		entryJSON(t, "3", errorXML),
	}, ",") + "]"

	var actualURI string
	f.client.On("Get", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { actualURI = args.String(1) }).
		Return(body, nil).Once()

	var entries []*domain.ErrorLogEntry
	count, err := f.log.GetErrors(context.Background(), pageIndex, pageSize, &entries)
	require.NoError(t, err)

	want := fmt.Sprintf("api/logs?logId=%s&pageindex=%d&pagesize=%d", f.logID, pageIndex, pageSize)
	assert.True(t, strings.HasSuffix(actualURI, want), actualURI)
	assert.Equal(t, 3, count)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, strconv.Itoa(i+1), entry.ID)
		assert.Equal(t, "System.ApplicationException", entry.Error.Type)
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.EntriesFetched.WithLabelValues("get_errors")))
}

func TestRemoteErrorLog_GetErrors_AppendsToExisting(t *testing.T) {
	f := newRemoteFixture(t, nil)
	errorXML := sampleErrorXML(t, "System.InvalidOperationException", "bad state")
	f.client.On("Get", mock.Anything, mock.Anything).Return("["+entryJSON(t, "b", errorXML)+"]", nil)

	existing := domain.NewErrorLogEntry("a", &domain.Error{})
	entries := []*domain.ErrorLogEntry{existing}

	count, err := f.log.GetErrors(context.Background(), 0, 10, &entries)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, entries, 2)
	assert.Same(t, existing, entries[0])
	assert.Equal(t, "b", entries[1].ID)
}

func TestRemoteErrorLog_GetErrors_EmptyPage(t *testing.T) {
	f := newRemoteFixture(t, nil)
	f.client.On("Get", mock.Anything, mock.Anything).Return("[]", nil)

	var entries []*domain.ErrorLogEntry
	count, err := f.log.GetErrors(context.Background(), 0, 0, &entries)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, entries)
}

func TestRemoteErrorLog_GetErrors_NoPartialResults(t *testing.T) {
	f := newRemoteFixture(t, nil)
	body := "[" + entryJSON(t, "1", sampleErrorXML(t, "System.Exception", "ok")) + "," + entryJSON(t, "2", "not xml") + "]"
	f.client.On("Get", mock.Anything, mock.Anything).Return(body, nil)

	var entries []*domain.ErrorLogEntry
	count, err := f.log.GetErrors(context.Background(), 0, 10, &entries)
	assert.ErrorIs(t, err, domain.ErrInvalidErrorXML)
	assert.Zero(t, count)
	assert.Empty(t, entries)
}

func TestRemoteErrorLog_GetErrors_MalformedJSON(t *testing.T) {
	f := newRemoteFixture(t, nil)
	f.client.On("Get", mock.Anything, mock.Anything).Return(`{"Id":"1"}`, nil)

	var entries []*domain.ErrorLogEntry
	_, err := f.log.GetErrors(context.Background(), 0, 10, &entries)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Empty(t, entries)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("get_errors", metrics.StatusError)))
}

func TestRemoteErrorLog_GetErrors_InvalidPage(t *testing.T) {
	f := newRemoteFixture(t, nil)

	_, err := f.log.GetErrors(context.Background(), -1, 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPage)
	_, err = f.log.GetErrors(context.Background(), 0, -1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPage)
	f.factory.AssertNotCalled(t, "Create")
}

func TestRemoteErrorLog_NewClientPerOperation(t *testing.T) {
	f := newRemoteFixture(t, nil)
	f.client.On("Get", mock.Anything, mock.Anything).Return("[]", nil)

	for i := 0; i < 3; i++ {
		_, err := f.log.GetErrors(context.Background(), i, 5, nil)
		require.NoError(t, err)
	}
	f.factory.AssertNumberOfCalls(t, "Create", 3)
}
