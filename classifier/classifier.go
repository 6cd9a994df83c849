// Package classifier calls the external text-classification service that
// assigns an initial priority to new reports. Classification is advisory:
// every failure mode degrades to medium priority and is never surfaced to
// the caller.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// FallbackPriority is assigned whenever the service is unreachable, slow
// or returns anything unrecognized.
const FallbackPriority = 2

const defaultTimeout = 5 * time.Second

type request struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type response struct {
	PriorityLabel string `json:"priorityLabel"`
}

// Client is a bounded-timeout HTTP client for the classification service.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a classifier client. timeout <= 0 selects the default 5s
// bound; logger may be nil.
func New(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Classify maps the report text to a priority in {1,2,3}. The HIGH,
// MEDIUM, LOW vocabulary maps to 3, 2, 1; unknown labels and every
// transport failure return the fallback.
func (c *Client) Classify(ctx context.Context, title, description, category string) int {
	if c.url == "" {
		return FallbackPriority
	}

	body, err := json.Marshal(request{Title: title, Description: description, Category: category})
	if err != nil {
		return FallbackPriority
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return FallbackPriority
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("priority classification unavailable", "error", err)
		return FallbackPriority
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("priority classification rejected", "status", resp.StatusCode)
		return FallbackPriority
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("priority classification unreadable", "error", err)
		return FallbackPriority
	}

	return PriorityFromLabel(out.PriorityLabel)
}

// PriorityFromLabel maps the external vocabulary to the numeric scale.
// The mapping is fixed and exhaustive; anything else is medium.
func PriorityFromLabel(label string) int {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "HIGH":
		return 3
	case "MEDIUM":
		return 2
	case "LOW":
		return 1
	default:
		return FallbackPriority
	}
}
