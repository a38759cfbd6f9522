package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/feed"
	"callpipe/internal/logging"
	"callpipe/internal/services"
	"callpipe/internal/testsupport"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

func newTestClient(t *testing.T, handler http.Handler) (*feed.Client, *config.Config) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Feed.BaseURL = server.URL
	return feed.NewClient(cfg, staticTokens("tok-123"), logging.NewNop()), cfg
}

func TestLiveCallsSendsCursorAndToken(t *testing.T) {
	var gotAuth, gotUUID, gotPos string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUUID = r.URL.Query().Get("playlist_uuid")
		gotPos = r.URL.Query().Get("pos")
		json.NewEncoder(w).Encode(feed.LiveCallsResponse{
			Calls: []feed.Call{
				{GroupID: 1201, Ts: 1767120000, Duration: 12.5, URL: "https://audio/1201.m4a"},
			},
			LastPos: 1767120000,
		})
	}))

	pos := time.Now().Add(-time.Minute).Unix()
	resp, err := client.LiveCalls(context.Background(), "pl-uuid", pos)
	if err != nil {
		t.Fatalf("LiveCalls: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotUUID != "pl-uuid" {
		t.Fatalf("playlist_uuid = %q", gotUUID)
	}
	if gotPos != strconv.FormatInt(pos, 10) {
		t.Fatalf("pos = %q, want %d", gotPos, pos)
	}
	if len(resp.Calls) != 1 || resp.LastPos != 1767120000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := resp.Calls[0].UID(); got != "1201-1767120000" {
		t.Fatalf("UID = %q", got)
	}
}

func TestLiveCallsOmitsPosForFreshCursor(t *testing.T) {
	var hasPos bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasPos = r.URL.Query().Has("pos")
		json.NewEncoder(w).Encode(feed.LiveCallsResponse{})
	}))

	if _, err := client.LiveCalls(context.Background(), "pl-uuid", 0); err != nil {
		t.Fatalf("LiveCalls: %v", err)
	}
	if hasPos {
		t.Fatal("zero cursor must omit pos so the server returns its default window")
	}
}

func TestLiveCallsClampsStaleCursor(t *testing.T) {
	var gotPos string
	client, cfg := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPos = r.URL.Query().Get("pos")
		json.NewEncoder(w).Encode(feed.LiveCallsResponse{})
	}))

	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	client.WithClock(func() time.Time { return now })

	// A cursor from a week ago must be clamped to the lookback floor.
	if _, err := client.LiveCalls(context.Background(), "pl-uuid", now.Add(-7*24*time.Hour).Unix()); err != nil {
		t.Fatalf("LiveCalls: %v", err)
	}
	floor := now.Add(-time.Duration(cfg.Feed.LookbackWindow) * time.Second).Unix()
	if gotPos != strconv.FormatInt(floor, 10) {
		t.Fatalf("pos = %q, want clamped floor %d", gotPos, floor)
	}
}

func TestLiveCallsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(feed.LiveCallsResponse{LastPos: 42})
	}))

	resp, err := client.LiveCalls(context.Background(), "pl-uuid", 0)
	if err != nil {
		t.Fatalf("LiveCalls: %v", err)
	}
	if resp.LastPos != 42 {
		t.Fatalf("LastPos = %d", resp.LastPos)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected a retry after 502, got %d requests", calls.Load())
	}
}

func TestLiveCallsDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad playlist", http.StatusNotFound)
	}))

	_, err := client.LiveCalls(context.Background(), "pl-uuid", 0)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d requests", calls.Load())
	}
}

func TestFetchAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("m4a bytes"))
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Feed.BaseURL = server.URL
	client := feed.NewClient(cfg, staticTokens("tok"), logging.NewNop())

	data, err := client.FetchAudio(context.Background(), server.URL+"/call.m4a")
	if err != nil {
		t.Fatalf("FetchAudio: %v", err)
	}
	if string(data) != "m4a bytes" {
		t.Fatalf("got %q", data)
	}
}
