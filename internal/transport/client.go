// Package transport delivers cycle reports to an HTTP collector.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
	"github.com/kubeadapt/pool-autoscaler/internal/observability"
	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// Options configure a Client.
type Options struct {
	URL            string
	Token          string
	MaxRetries     int
	RequestTimeout time.Duration
	Version        string
}

// Client posts CycleReports as zstd-compressed JSON. Retry happens at the
// Send level so every attempt carries a fresh body reader.
type Client struct {
	httpClient *http.Client
	opts       Options
	metrics    *observability.Metrics
	logger     *slog.Logger

	backoff func(attempt int) time.Duration
}

// NewClient creates a Client with auth and logging middleware applied.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	var rt http.RoundTripper = WithLogging(logger, base)
	if opts.Token != "" {
		rt = WithAuth(opts.Token, rt)
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.RequestTimeout, Transport: rt},
		opts:       opts,
		metrics:    metrics,
		logger:     logger,
		backoff:    exponentialBackoff,
	}
}

// Send delivers report, retrying transient failures up to MaxRetries times.
// The returned error carries REPORT_FAILED.
func (c *Client) Send(ctx context.Context, report *model.CycleReport) error {
	start := time.Now()

	body, err := c.encode(report)
	if err != nil {
		c.observeSend(start, err)
		return apperrors.New(apperrors.ErrReportFailed, "transport", "encode report", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.TransportRetries.Inc()
			}
			delay := c.backoff(attempt - 1)
			var se *statusError
			if stderrors.As(lastErr, &se) && se.retryAfter > 0 {
				delay = se.retryAfter
			}
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = c.post(ctx, report, body)
		if lastErr == nil || !retryable(lastErr) {
			break
		}
		c.logger.Debug("report delivery attempt failed", "attempt", attempt+1, "error", lastErr)
	}

	c.observeSend(start, lastErr)
	if lastErr != nil {
		return apperrors.New(apperrors.ErrReportFailed, "transport", "send cycle report", lastErr)
	}
	return nil
}

// encode marshals report to JSON and compresses it, recording the sizes.
func (c *Client) encode(report *model.CycleReport) ([]byte, error) {
	start := time.Now()

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	raw := NewCountingWriter(zw)
	if err := json.NewEncoder(raw).Encode(report); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode json: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush zstd: %w", err)
	}

	if c.metrics != nil && raw.Count() > 0 {
		c.metrics.CompressionDuration.Observe(time.Since(start).Seconds())
		c.metrics.ReportSizeBytes.Observe(float64(raw.Count()))
		c.metrics.CompressionRatio.Set(float64(buf.Len()) / float64(raw.Count()))
	}
	return buf.Bytes(), nil
}

func (c *Client) post(ctx context.Context, report *model.CycleReport, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("User-Agent", "pool-autoscaler/"+c.opts.Version)
	req.Header.Set("X-Cluster-Name", report.ClusterName)
	req.Header.Set("X-Cycle-ID", report.CycleID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &networkError{err: err}
	}
	return checkResponse(resp)
}

func (c *Client) observeSend(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ReportSendDuration.Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.ReportSendTotal.WithLabelValues(status).Inc()
}

// exponentialBackoff returns 1s * 2^attempt.
func exponentialBackoff(attempt int) time.Duration {
	return time.Second << attempt
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
