package transport

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWithAuth_SetsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token-xyz" {
			t.Errorf("expected Authorization 'Bearer test-token-xyz', got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: WithAuth("test-token-xyz", http.DefaultTransport)}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Fatal("original request must not be mutated")
	}
}

func TestWithLogging_RedactsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: WithLogging(logger, http.DefaultTransport)}

	url := strings.Replace(srv.URL, "http://", "http://user:secret@", 1)
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	out := logs.String()
	if !strings.Contains(out, "status=204") {
		t.Fatalf("expected status in log, got %q", out)
	}
	if strings.Contains(out, "secret") {
		t.Fatalf("password leaked into log: %q", out)
	}
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		code      int
		header    string
		wantErr   bool
		retry     bool
		wantDelay time.Duration
	}{
		{code: http.StatusOK},
		{code: http.StatusAccepted},
		{code: http.StatusUnauthorized, wantErr: true},
		{code: http.StatusForbidden, wantErr: true},
		{code: http.StatusNotFound, wantErr: true},
		{code: http.StatusTooManyRequests, header: "7", wantErr: true, retry: true, wantDelay: 7 * time.Second},
		{code: http.StatusTooManyRequests, header: "soon", wantErr: true, retry: true},
		{code: http.StatusInternalServerError, wantErr: true, retry: true},
		{code: http.StatusServiceUnavailable, wantErr: true, retry: true},
	}

	for _, tt := range tests {
		resp := &http.Response{
			StatusCode: tt.code,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("body")),
		}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}

		err := checkResponse(resp)
		if (err != nil) != tt.wantErr {
			t.Fatalf("HTTP %d: unexpected error %v", tt.code, err)
		}
		if err == nil {
			continue
		}
		if retryable(err) != tt.retry {
			t.Fatalf("HTTP %d: retryable = %v, want %v", tt.code, retryable(err), tt.retry)
		}
		var se *statusError
		if !errors.As(err, &se) {
			t.Fatalf("HTTP %d: expected *statusError, got %T", tt.code, err)
		}
		if se.retryAfter != tt.wantDelay {
			t.Fatalf("HTTP %d: retryAfter = %s, want %s", tt.code, se.retryAfter, tt.wantDelay)
		}
	}
}

func TestRetryable_NetworkErrors(t *testing.T) {
	if !retryable(&networkError{err: errors.New("connection refused")}) {
		t.Fatal("network errors must be retried")
	}
	if retryable(errors.New("create request: bad url")) {
		t.Fatal("plain errors must not be retried")
	}
}
