package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/services"
)

// Call is one call descriptor as the live-calls endpoint returns it.
type Call struct {
	GroupID  int64   `json:"groupId"`
	Ts       int64   `json:"ts"`
	FeedID   int64   `json:"feedId"`
	SystemID int64   `json:"sid"`
	Source   string  `json:"src"`
	Freq     float64 `json:"freq"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	URL      string  `json:"url"`
}

// UID derives the natural call identifier from the descriptor.
func (c Call) UID() string {
	return fmt.Sprintf("%d-%d", c.GroupID, c.Ts)
}

// LiveCallsResponse is the payload of one poll: calls ordered by position,
// plus the cursor to resume from next time.
type LiveCallsResponse struct {
	Calls   []Call `json:"calls"`
	LastPos int64  `json:"lastPos"`
}

// Client polls the upstream calls API and fetches call audio.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	lookback time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient builds a feed client from config. The token source is injected
// so tests can substitute a fixed token.
func NewClient(cfg *config.Config, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  cfg.Feed.BaseURL,
		http:     &http.Client{Timeout: time.Duration(cfg.Feed.RequestTimeout) * time.Second},
		tokens:   tokens,
		lookback: time.Duration(cfg.Feed.LookbackWindow) * time.Second,
		logger:   logging.NewComponentLogger(logger, "feed"),
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (c *Client) WithClock(now func() time.Time) {
	if c != nil && now != nil {
		c.now = now
	}
}

// LiveCalls polls one playlist from the given cursor position. A zero
// position asks the server for its default recent window. A stale cursor is
// clamped to the lookback window so a long outage cannot trigger an
// unbounded backfill.
func (c *Client) LiveCalls(ctx context.Context, playlistUUID string, lastPos int64) (*LiveCallsResponse, error) {
	endpoint := c.baseURL + "/calls/v1/live/"
	params := url.Values{}
	params.Set("playlist_uuid", playlistUUID)
	if lastPos > 0 {
		floor := c.now().Add(-c.lookback).Unix()
		if lastPos < floor {
			c.logger.Warn("cursor older than lookback window, clamping",
				logging.String(logging.FieldFeed, playlistUUID),
				logging.Int64("last_pos", lastPos),
				logging.Int64("floor", floor),
			)
			lastPos = floor
		}
		params.Set("pos", strconv.FormatInt(lastPos, 10))
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out LiveCallsResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("bad JSON: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "poll live calls", playlistUUID, err)
	}
	return &out, nil
}

// FetchAudio downloads a call's source audio from the URL the feed handed
// out. Media URLs are pre-signed, so no bearer token is attached.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	var data []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("HTTP %d", resp.StatusCode))
		}
		data, err = io.ReadAll(resp.Body)
		return err
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "fetch audio", audioURL, err)
	}
	return data, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.http.Timeout
	return backoff.WithContext(bo, ctx)
}
