package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	dto "github.com/prometheus/client_model/go"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/observability"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

func testReport() *model.CycleReport {
	return &model.CycleReport{
		CycleID:     "cycle-001",
		ClusterName: "prod",
		Provider:    "gcp",
		TotalNodes:  20,
		Goal:        18,
		Plan:        model.Plan{ToBlock: []string{"node-3", "node-9"}},
		PlanApplied: true,
		Blocked:     []string{"node-3", "node-9"},
	}
}

func newTestClient(url string, maxRetries int, metrics *observability.Metrics) *Client {
	c := NewClient(Options{
		URL:            url,
		Token:          "report-token",
		MaxRetries:     maxRetries,
		RequestTimeout: 5 * time.Second,
		Version:        "v1.2.3",
	}, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestClient_Send_CompressedJSON(t *testing.T) {
	var (
		body    []byte
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	report := testReport()
	if err := newTestClient(srv.URL, 0, nil).Send(context.Background(), report); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := headers.Get("Content-Encoding"); got != "zstd" {
		t.Fatalf("expected Content-Encoding zstd, got %q", got)
	}
	if got := headers.Get("Authorization"); got != "Bearer report-token" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if got := headers.Get("X-Cycle-ID"); got != "cycle-001" {
		t.Fatalf("expected X-Cycle-ID cycle-001, got %q", got)
	}
	if got := headers.Get("User-Agent"); got != "pool-autoscaler/v1.2.3" {
		t.Fatalf("unexpected User-Agent %q", got)
	}

	dec, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create zstd decoder: %v", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("failed to decompress body: %v", err)
	}

	var got model.CycleReport
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if got.Goal != 18 || len(got.Blocked) != 2 || got.ClusterName != "prod" {
		t.Fatalf("unexpected report round trip: %+v", got)
	}
}

func TestClient_Send_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := observability.NewMetrics()
	if err := newTestClient(srv.URL, 3, metrics).Send(context.Background(), testReport()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	pb := &dto.Metric{}
	if err := metrics.TransportRetries.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 retries recorded, got %v", got)
	}
}

func TestClient_Send_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, 2, nil).Send(context.Background(), testReport())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !apperrors.HasCode(err, apperrors.ErrReportFailed) {
		t.Fatalf("expected REPORT_FAILED, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestClient_Send_AuthFailureNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest} {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(code)
		}))

		err := newTestClient(srv.URL, 3, nil).Send(context.Background(), testReport())
		srv.Close()

		if err == nil {
			t.Fatalf("HTTP %d: expected an error", code)
		}
		if got := attempts.Load(); got != 1 {
			t.Fatalf("HTTP %d: expected 1 attempt, got %d", code, got)
		}
	}
}

func TestClient_Send_HonoursRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	if err := newTestClient(srv.URL, 1, nil).Send(context.Background(), testReport()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("expected to wait for Retry-After, returned after %s", elapsed)
	}
}

func TestClient_Send_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5, nil)
	c.backoff = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, testReport())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestClient_Send_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := observability.NewMetrics()
	if err := newTestClient(srv.URL, 0, metrics).Send(context.Background(), testReport()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	pb := &dto.Metric{}
	if err := metrics.ReportSendTotal.WithLabelValues("success").Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 successful send, got %v", got)
	}

	pb = &dto.Metric{}
	if err := metrics.CompressionRatio.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if ratio := pb.GetGauge().GetValue(); ratio <= 0 {
		t.Fatalf("expected a positive compression ratio, got %v", ratio)
	}
}

func TestExponentialBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if got := exponentialBackoff(attempt); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, w, got)
		}
	}
}
