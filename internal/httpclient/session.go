// Package httpclient wraps the HTTP session shared by every step.
// Transport and decode failures never escape as errors: they are recorded
// on the returned Result so assertion steps can report them.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"
)

const defaultTimeout = 30 * time.Second

// Session wraps an http.Client with default headers and a timeout policy
type Session struct {
	client  *http.Client
	headers http.Header
	timeout time.Duration
}

type Option func(*Session)

// WithTimeout sets the timeout used when a request does not carry its own
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithHeader(key, value string) Option {
	return func(s *Session) { s.headers.Set(key, value) }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(s *Session) { s.client.Transport = rt }
}

// NewSession creates a session sending JSON Accept and Content-Type headers
// on every request.
func NewSession(opts ...Option) *Session {
	s := &Session{
		client:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		headers: make(http.Header),
		timeout: defaultTimeout,
	}
	s.headers.Set("Accept", "application/json")
	s.headers.Set("Content-Type", "application/json")

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// File is a multipart form file attached to a request
type File struct {
	Field       string
	Filename    string
	Path        string
	ContentType string
}

type Request struct {
	Method  string
	URL     string
	JSON    any
	Files   []File
	Timeout time.Duration
}

// Result is the outcome of a request. Err is set for transport failures, in
// which case StatusCode is zero and no body is present.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// JSON is the decoded body, nil when the body is not JSON
	JSON     any
	Duration time.Duration
	Err      error
}

// Failed reports whether the request never produced an HTTP response
func (r *Result) Failed() bool { return r.Err != nil }

func (r *Result) Text() string { return string(r.Body) }

func (s *Session) Get(ctx context.Context, url string, timeout time.Duration) *Result {
	return s.Do(ctx, Request{Method: http.MethodGet, URL: url, Timeout: timeout})
}

func (s *Session) PostJSON(ctx context.Context, url string, payload any, timeout time.Duration) *Result {
	return s.Do(ctx, Request{Method: http.MethodPost, URL: url, JSON: payload, Timeout: timeout})
}

// Do sends the request and never returns a nil Result
func (s *Session) Do(ctx context.Context, req Request) *Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := encodeBody(req)
	if err != nil {
		return &Result{Err: fmt.Errorf("encoding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return &Result{Err: fmt.Errorf("creating request: %w", err)}
	}

	for k, v := range s.headers {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return &Result{Err: fmt.Errorf("sending request: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{Err: fmt.Errorf("reading response: %w", err), Duration: time.Since(start)}
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		JSON:       decodeJSON(data),
		Duration:   time.Since(start),
	}
}

// Close releases pooled connections
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

func encodeBody(req Request) (io.Reader, string, error) {
	if len(req.Files) > 0 {
		return encodeMultipart(req.Files)
	}
	if req.JSON == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(req.JSON)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

func encodeMultipart(files []File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", f.Path, err)
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeJSON(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
