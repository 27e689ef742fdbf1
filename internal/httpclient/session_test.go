package httpclient

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_DefaultHeaders(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusOK))

	httphelpers.WithServer(handler, func(server *httptest.Server) {
		res := NewSession().Get(context.Background(), server.URL+"/api/core/db/info/", 0)
		require.NoError(t, res.Err)

		info := <-requests
		assert.Equal(t, "application/json", info.Request.Header.Get("Accept"))
		assert.Equal(t, "application/json", info.Request.Header.Get("Content-Type"))
		assert.Equal(t, "/api/core/db/info/", info.Request.URL.Path)
	})
}

func TestSession_WithHeader(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusOK))

	httphelpers.WithServer(handler, func(server *httptest.Server) {
		s := NewSession(WithHeader("User-Agent", "wildcheck/dev"), WithHeader("Accept", "*/*"))
		require.NoError(t, s.Get(context.Background(), server.URL, 0).Err)

		info := <-requests
		assert.Equal(t, "wildcheck/dev", info.Request.Header.Get("User-Agent"))
		assert.Equal(t, "*/*", info.Request.Header.Get("Accept"), "options override defaults")
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSession_WithTransport(t *testing.T) {
	failing := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: lookup wbia: no such host")
	})

	res := NewSession(WithTransport(failing)).Get(context.Background(), "http://wbia:5000/api/core/db/info/", 0)

	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Zero(t, res.StatusCode)
	assert.Contains(t, res.Err.Error(), "no such host")

	var seen string
	stub := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.URL.Host
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"status":"green"}`)),
			Request:    r,
		}, nil
	})
	res = NewSession(WithTransport(stub)).Get(context.Background(), "http://opensearch:9200/", 0)
	require.NoError(t, res.Err)
	assert.Equal(t, "opensearch:9200", seen)
	assert.Equal(t, map[string]any{"status": "green"}, res.JSON)
}

func TestSession_DecodesJSON(t *testing.T) {
	body := map[string]any{"gid": 7}
	httphelpers.WithServer(httphelpers.HandlerWithJSONResponse(body, nil), func(server *httptest.Server) {
		res := NewSession().Get(context.Background(), server.URL, time.Second)

		require.False(t, res.Failed())
		assert.Equal(t, http.StatusOK, res.StatusCode)
		obj, ok := res.JSON.(map[string]any)
		require.True(t, ok, "expected JSON object, got %T", res.JSON)
		assert.Equal(t, float64(7), obj["gid"])
	})
}

func TestSession_NonJSONBodyDecodesToNil(t *testing.T) {
	handler := httphelpers.HandlerWithResponse(http.StatusOK, nil, []byte("<html>Wildbook</html>"))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		res := NewSession().Get(context.Background(), server.URL, time.Second)

		require.NoError(t, res.Err)
		assert.Nil(t, res.JSON)
		assert.Equal(t, "<html>Wildbook</html>", res.Text())
	})
}

func TestSession_TransportFailureIsRecorded(t *testing.T) {
	// grab a free port and close it so the connection is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res := NewSession().Get(context.Background(), "http://"+addr+"/", time.Second)

	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Zero(t, res.StatusCode)
	assert.Nil(t, res.JSON)
	assert.Contains(t, res.Err.Error(), "sending request")
}

func TestSession_TimeoutIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	res := NewSession(WithTimeout(5 * time.Second)).Get(context.Background(), server.URL, 50*time.Millisecond)

	assert.True(t, res.Failed())
	assert.Zero(t, res.StatusCode)
}

func TestSession_PostJSONEncodesNull(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithJSONResponse(map[string]any{"matches": []any{}}, nil))

	httphelpers.WithServer(handler, func(server *httptest.Server) {
		payload := map[string]any{"qaid_list": []int{3}, "daid_list": nil}
		res := NewSession().PostJSON(context.Background(), server.URL, payload, time.Second)
		require.NoError(t, res.Err)

		info := <-requests
		assert.Equal(t, http.MethodPost, info.Request.Method)
		assert.JSONEq(t, `{"qaid_list":[3],"daid_list":null}`, string(info.Body))
	})
}

func TestSession_MultipartUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zebra.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0644))

	var (
		gotField    string
		gotFilename string
		gotType     string
		gotContent  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(part)
		gotField = part.FormName()
		gotFilename = part.FileName()
		gotType = part.Header.Get("Content-Type")
		gotContent = string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"gid": 42}`))
	}))
	defer server.Close()

	res := NewSession().Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Files:  []File{{Field: "image", Filename: "zebra.jpg", Path: path, ContentType: "image/jpeg"}},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image", gotField)
	assert.Equal(t, "zebra.jpg", gotFilename)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "jpeg-bytes", gotContent)
}

func TestSession_MissingUploadFile(t *testing.T) {
	res := NewSession().Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "http://127.0.0.1:1/",
		Files:  []File{{Field: "image", Filename: "nope.jpg", Path: filepath.Join(t.TempDir(), "nope.jpg")}},
	})

	assert.True(t, res.Failed())
	assert.Contains(t, res.Err.Error(), "encoding request")
}
