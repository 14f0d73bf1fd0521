package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriterJSONDebug(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	var buf bytes.Buffer
	l := SetupWriter(&buf)
	l.Debug("probe", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"probe"`)
	assert.Same(t, l, L())
}

func TestSetupWriterLevelFilters(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")
	var buf bytes.Buffer
	l := SetupWriter(&buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestClientLogsUpstreamWithoutQuery(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	l := SetupWriter(&buf)
	resp, err := Client(l, time.Second).Get(srv.URL + "/meta?key=secret")
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	assert.Contains(t, out, "http_upstream")
	assert.Contains(t, out, "status=418")
	assert.True(t, strings.Contains(out, "path=/meta"))
	assert.NotContains(t, out, "secret")
}
