package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mklimuk/fanmon"
	"go.uber.org/multierr"
)

// Sink ships a batch somewhere.
type Sink interface {
	Send(ctx context.Context, b *Batch) error
}

var _ Sink = &HTTPSink{}

// HTTPSink posts the batch body as a JSON array.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

func (s *HTTPSink) Send(ctx context.Context, b *Batch) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b.Bytes()))
	if err != nil {
		return fmt.Errorf("could not create request: %w: %w", fanmon.ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telemetry post returned %d: %w", resp.StatusCode, fanmon.ErrRequestFailed)
	}
	return nil
}

func classifyTransportError(err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("telemetry post: %w: %w", fanmon.ErrNetworkTimeout, err)
	}
	return fmt.Errorf("telemetry post: %w: %w", fanmon.ErrConnectionFailed, err)
}

var _ Sink = MultiSink{}

// MultiSink sends to every sink and aggregates the failures.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, b *Batch) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Send(ctx, b))
	}
	return err
}

var _ Sink = &LogSink{}

// LogSink prints each record, one per line. Used by the read command and
// when no endpoint is configured.
type LogSink struct {
	w      io.Writer
	logger *slog.Logger
}

// NewLogSink writes JSON lines to w when it is not nil, otherwise logs records at debug level.
func NewLogSink(w io.Writer, logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{w: w, logger: logger}
}

func (s *LogSink) Send(ctx context.Context, b *Batch) error {
	for _, r := range b.Records() {
		if s.w == nil {
			s.logger.Debug("record", "measurement", r.Measurement, "tags", r.Tags, "fields", r.Fields)
			continue
		}
		line := append(AppendRecord(nil, r), '\n')
		if _, err := s.w.Write(line); err != nil {
			return err
		}
	}
	return nil
}
