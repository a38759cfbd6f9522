package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"callpipe/internal/feed"
	"callpipe/internal/logging"
	"callpipe/internal/store"
)

// FeedClient is the slice of the feed API the collector needs.
type FeedClient interface {
	LiveCalls(ctx context.Context, playlistUUID string, lastPos int64) (*feed.LiveCallsResponse, error)
}

// Collector polls every synced feed and records new calls.
type Collector struct {
	store  *store.Store
	client FeedClient
	logger *slog.Logger
}

// NewCollector wires a collector over the store and feed client.
func NewCollector(st *store.Store, client FeedClient, logger *slog.Logger) *Collector {
	return &Collector{
		store:  st,
		client: client,
		logger: logging.NewComponentLogger(logger, "ingest"),
	}
}

// CycleResult summarizes one collect cycle across all feeds.
type CycleResult struct {
	Feeds      int
	NewCalls   int
	Duplicates int
	Failures   int
}

// Run executes one poll cycle. A failing feed is logged and skipped; it
// never halts the other feeds.
func (c *Collector) Run(ctx context.Context) (CycleResult, error) {
	feeds, err := c.store.ListFeeds(ctx, true)
	if err != nil {
		return CycleResult{}, err
	}
	if len(feeds) == 0 {
		c.logger.Warn("no synced feeds registered")
		return CycleResult{}, nil
	}

	result := CycleResult{Feeds: len(feeds)}
	for _, f := range feeds {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		inserted, duplicates, err := c.pollFeed(ctx, f)
		if err != nil {
			result.Failures++
			c.logger.Error("feed poll failed",
				logging.String(logging.FieldFeed, f.ID),
				logging.Error(err),
			)
			continue
		}
		result.NewCalls += inserted
		result.Duplicates += duplicates
	}
	return result, nil
}

func (c *Collector) pollFeed(ctx context.Context, f *store.Feed) (int, int, error) {
	pollID, err := c.store.StartPoll(ctx, f.ID)
	if err != nil {
		return 0, 0, err
	}

	resp, err := c.client.LiveCalls(ctx, f.ID, f.LastPos)
	if err != nil {
		c.finishPoll(ctx, pollID, false, 0, err.Error())
		return 0, 0, err
	}

	inserted := 0
	duplicates := 0
	for _, call := range resp.Calls {
		ok, err := c.store.InsertCall(ctx, descriptorToRecord(f.ID, call))
		if err != nil {
			c.finishPoll(ctx, pollID, false, inserted, err.Error())
			return inserted, duplicates, err
		}
		if ok {
			inserted++
		} else {
			duplicates++
		}
	}

	// The cursor only moves after every call in the batch is durable, so a
	// crash mid-batch re-reads rather than drops calls.
	if resp.LastPos > 0 {
		if err := c.store.AdvanceFeedPosition(ctx, f.ID, resp.LastPos); err != nil {
			c.finishPoll(ctx, pollID, false, inserted, err.Error())
			return inserted, duplicates, err
		}
	}

	note := fmt.Sprintf("%d new, %d duplicate, lastPos=%d", inserted, duplicates, resp.LastPos)
	c.finishPoll(ctx, pollID, true, inserted, note)

	c.logger.Info("feed polled",
		logging.String(logging.FieldFeed, f.ID),
		logging.Int("new_calls", inserted),
		logging.Int("duplicates", duplicates),
		logging.Int64("last_pos", resp.LastPos),
	)
	return inserted, duplicates, nil
}

func (c *Collector) finishPoll(ctx context.Context, pollID int64, success bool, newCalls int, note string) {
	if err := c.store.FinishPoll(ctx, pollID, success, newCalls, note); err != nil {
		c.logger.Warn("poll log update failed", logging.Error(err))
	}
}

// descriptorToRecord maps a wire call descriptor onto a pending CallRecord.
func descriptorToRecord(feedID string, call feed.Call) *store.CallRecord {
	return &store.CallRecord{
		CallUID:   call.UID(),
		FeedID:    feedID,
		SystemID:  call.SystemID,
		GroupID:   strconv.FormatInt(call.GroupID, 10),
		SourceID:  call.Source,
		Frequency: call.Freq,
		Ts:        call.Ts,
		Duration:  call.Duration,
		AudioURL:  call.URL,
		Codec:     codecFromURL(call.URL),
	}
}

func codecFromURL(audioURL string) string {
	// Query and fragment go first, otherwise a dot inside them leaks into
	// the extension.
	if i := strings.IndexAny(audioURL, "?#"); i >= 0 {
		audioURL = audioURL[:i]
	}
	ext := strings.TrimPrefix(path.Ext(audioURL), ".")
	if ext == "" {
		return "m4a"
	}
	return strings.ToLower(ext)
}
