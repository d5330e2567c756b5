package gzippedhttp

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipString(t *testing.T, input string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(input))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func echoHandler(contentType string, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	})
}

func TestUngzipRequest(t *testing.T) {
	handler := UngzipRequest(echoHandler("text/plain", http.StatusOK))

	request := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(gzipString(t, `{"a":1}`)))
	request.Header.Set("Content-Encoding", "gzip")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, `{"a":1}`, recorder.Body.String())
}

func TestUngzipRequestRejectsGarbage(t *testing.T) {
	handler := UngzipRequest(echoHandler("text/plain", http.StatusOK))

	request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	request.Header.Set("Content-Encoding", "gzip")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGzipResponse(t *testing.T) {
	testCases := []struct {
		name         string
		contentType  string
		status       int
		wantEncoding string
	}{
		{name: "json ok", contentType: "application/json", status: http.StatusOK, wantEncoding: "gzip"},
		{name: "error status", contentType: "application/json", status: http.StatusBadRequest},
		{name: "metrics text format", contentType: "application/octet-stream", status: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := GzipResponse(echoHandler(tc.contentType, tc.status))

			request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok":true}`))
			request.Header.Set("Accept-Encoding", "gzip, deflate")
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			assert.Equal(t, tc.status, recorder.Code)
			assert.Equal(t, tc.wantEncoding, recorder.Header().Get("Content-Encoding"))

			body := recorder.Body.Bytes()
			if tc.wantEncoding == "gzip" {
				zr, err := gzip.NewReader(bytes.NewReader(body))
				require.NoError(t, err)
				body, err = io.ReadAll(zr)
				require.NoError(t, err)
			}
			assert.Equal(t, `{"ok":true}`, string(body))
		})
	}
}
