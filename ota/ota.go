// Package ota checks the update endpoint for newer firmware.
package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mklimuk/fanmon"
)

// Request is the body posted to the update endpoint.
type Request struct {
	ID      string `json:"ID"`
	Version string `json:"ver"`
}

// Checker asks the endpoint whether an update exists for this device.
type Checker struct {
	url       string
	req       Request
	client    *http.Client
	log       *slog.Logger
	available atomic.Bool
	// OnAvailable is called when a check first reports an update.
	OnAvailable func()
}

func NewChecker(url, chipID, version string, client *http.Client, logger *slog.Logger) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		url:    url,
		req:    Request{ID: chipID, Version: version},
		client: client,
		log:    logger.With("component", "ota"),
	}
}

// Check posts the device id and version. A trimmed body of "true" or
// "True" means an update is available.
func (c *Checker) Check(ctx context.Context) (bool, error) {
	body, err := json.Marshal(c.req)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("could not create request: %w: %w", fanmon.ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			return false, fmt.Errorf("firmware check: %w: %w", fanmon.ErrNetworkTimeout, err)
		}
		return false, fmt.Errorf("firmware check: %w: %w", fanmon.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Errorf("firmware check: %w: %w", fanmon.ErrRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("firmware check returned %d: %w", resp.StatusCode, fanmon.ErrRequestFailed)
	}
	switch strings.TrimSpace(string(data)) {
	case "true", "True":
		return true, nil
	}
	return false, nil
}

// Run is the periodic task. Failures are logged and retried on the next
// interval.
func (c *Checker) Run(ctx context.Context) error {
	c.log.Info("checking for firmware update", "version", c.req.Version)
	ok, err := c.Check(ctx)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Info("firmware is up to date")
		return nil
	}
	c.log.Warn("firmware update available", "version", c.req.Version)
	if !c.available.Swap(true) && c.OnAvailable != nil {
		c.OnAvailable()
	}
	return nil
}

func (c *Checker) Available() bool {
	return c.available.Load()
}

// Download fetches and applies the update.
// TODO: fetch the binary from the update endpoint and replace the running
// executable once the collector serves images.
func (c *Checker) Download(context.Context) error {
	return fmt.Errorf("firmware download: %w", fanmon.ErrNotImplemented)
}
