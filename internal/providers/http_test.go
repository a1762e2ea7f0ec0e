package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDoRequest_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Request-ID"); got != "req-1" {
			t.Errorf("X-Request-ID = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"hello"`) {
			t.Errorf("payload = %s", body)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ctx := WithRequestID(context.Background(), "req-1")
	body, err := DoRequest(ctx, srv.Client(), srv.URL, map[string]string{"msg": "hello"},
		map[string]string{"Authorization": "Bearer k"})
	if err != nil {
		t.Fatalf("DoRequest: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
}

func TestDoRequest_statusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	_, err := DoRequest(context.Background(), srv.Client(), srv.URL, map[string]string{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *StatusError", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", se.StatusCode)
	}
	if se.RetryAfterSecs != 30 {
		t.Errorf("RetryAfterSecs = %d, want 30", se.RetryAfterSecs)
	}
	if !strings.Contains(se.Body, "slow down") {
		t.Errorf("Body = %q", se.Body)
	}
}

func TestDoStreamRequest_returnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte("data: {}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	body, err := DoStreamRequest(context.Background(), srv.Client(), srv.URL, map[string]string{}, nil)
	if err != nil {
		t.Fatalf("DoStreamRequest: %v", err)
	}
	defer body.Close()

	all, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(all), "[DONE]") {
		t.Errorf("stream = %q", all)
	}
}

func TestDoStreamRequest_errorDrainsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	_, err := DoStreamRequest(context.Background(), srv.Client(), srv.URL, map[string]string{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *StatusError", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Body != "overloaded" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestStatusError_retryable(t *testing.T) {
	cases := []struct {
		code   int
		expect bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		se := &StatusError{StatusCode: tc.code}
		if got := se.Retryable(); got != tc.expect {
			t.Errorf("Retryable(%d) = %v, want %v", tc.code, got, tc.expect)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	se := &StatusError{}
	se.ParseRetryAfter("")
	if se.RetryAfterSecs != 0 {
		t.Error("empty header should be ignored")
	}
	se.ParseRetryAfter("not-a-number")
	if se.RetryAfterSecs != 0 {
		t.Error("malformed header should be ignored")
	}
	se.ParseRetryAfter("12")
	if se.RetryAfterSecs != 12 {
		t.Errorf("RetryAfterSecs = %d, want 12", se.RetryAfterSecs)
	}
}

func TestRequestID_context(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("empty context GetRequestID = %q", got)
	}
	ctx := WithRequestID(context.Background(), "abc")
	if got := GetRequestID(ctx); got != "abc" {
		t.Errorf("GetRequestID = %q, want abc", got)
	}
}
