package ingest_test

import (
	"context"
	"errors"
	"testing"

	"callpipe/internal/feed"
	"callpipe/internal/ingest"
	"callpipe/internal/logging"
	"callpipe/internal/store"
	"callpipe/internal/testsupport"
)

type fakeFeedClient struct {
	responses map[string]*feed.LiveCallsResponse
	errs      map[string]error
	polls     []string
}

func (f *fakeFeedClient) LiveCalls(_ context.Context, playlistUUID string, lastPos int64) (*feed.LiveCallsResponse, error) {
	f.polls = append(f.polls, playlistUUID)
	if err := f.errs[playlistUUID]; err != nil {
		return nil, err
	}
	resp := f.responses[playlistUUID]
	if resp == nil {
		resp = &feed.LiveCallsResponse{}
	}
	return resp, nil
}

func TestCollectorInsertsCallsAndAdvancesCursor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")

	client := &fakeFeedClient{responses: map[string]*feed.LiveCallsResponse{
		"pl-1": {
			Calls: []feed.Call{
				{GroupID: 1201, Ts: 1767120000, SystemID: 7, Source: "radio-9", Freq: 851.0125, Duration: 9.5, URL: "https://audio/a.m4a"},
				{GroupID: 1201, Ts: 1767120031, Duration: 4.0, URL: "https://audio/b.m4a"},
			},
			LastPos: 1767120031,
		},
	}}
	collector := ingest.NewCollector(st, client, logging.NewNop())

	result, err := collector.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NewCalls != 2 || result.Duplicates != 0 || result.Failures != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	call, err := st.GetCall(context.Background(), "1201-1767120000")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Status != store.CallPending || call.FeedID != "pl-1" || call.Codec != "m4a" {
		t.Fatalf("unexpected record: %+v", call)
	}

	f, err := st.GetFeed(context.Background(), "pl-1")
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if f.LastPos != 1767120031 {
		t.Fatalf("cursor = %d, want 1767120031", f.LastPos)
	}
}

func TestCollectorSecondCycleSeesDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")

	client := &fakeFeedClient{responses: map[string]*feed.LiveCallsResponse{
		"pl-1": {
			Calls:   []feed.Call{{GroupID: 1201, Ts: 1767120000, URL: "https://audio/a.m4a"}},
			LastPos: 1767120000,
		},
	}}
	collector := ingest.NewCollector(st, client, logging.NewNop())

	if _, err := collector.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	result, err := collector.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.NewCalls != 0 || result.Duplicates != 1 {
		t.Fatalf("replayed batch should be all duplicates: %+v", result)
	}
}

func TestCollectorIsolatesFeedFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-bad", "broken")
	testsupport.NewFeed(t, st, "pl-good", "working")

	client := &fakeFeedClient{
		responses: map[string]*feed.LiveCallsResponse{
			"pl-good": {
				Calls:   []feed.Call{{GroupID: 9, Ts: 100, URL: "https://audio/c.m4a"}},
				LastPos: 100,
			},
		},
		errs: map[string]error{"pl-bad": errors.New("upstream down")},
	}
	collector := ingest.NewCollector(st, client, logging.NewNop())

	result, err := collector.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failures != 1 || result.NewCalls != 1 {
		t.Fatalf("one feed should fail, the other ingest: %+v", result)
	}
	if len(client.polls) != 2 {
		t.Fatalf("both feeds must be polled, got %v", client.polls)
	}

	// The poll log records both outcomes.
	entries, err := st.RecentPolls(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentPolls: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 poll log entries, got %d", len(entries))
	}
	okCount := 0
	for _, e := range entries {
		if e.Success {
			okCount++
		}
	}
	if okCount != 1 {
		t.Fatalf("expected exactly one successful poll, got %d", okCount)
	}
}

func TestCollectorWithoutFeedsIsNoOp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	collector := ingest.NewCollector(st, &fakeFeedClient{}, logging.NewNop())
	result, err := collector.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Feeds != 0 || result.NewCalls != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCollectorDerivesCodecFromAudioURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")

	client := &fakeFeedClient{responses: map[string]*feed.LiveCallsResponse{
		"pl-1": {
			Calls: []feed.Call{
				{GroupID: 1201, Ts: 1767120100, Duration: 5, URL: "https://audio/a.m4a?v=1.2"},
				{GroupID: 1201, Ts: 1767120101, Duration: 5, URL: "https://audio/b.MP3#t=4.5"},
				{GroupID: 1201, Ts: 1767120102, Duration: 5, URL: "https://audio/stream?id=9.1"},
			},
			LastPos: 1767120102,
		},
	}}
	collector := ingest.NewCollector(st, client, logging.NewNop())
	if _, err := collector.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]string{
		"1201-1767120100": "m4a",
		"1201-1767120101": "mp3",
		"1201-1767120102": "m4a",
	}
	for uid, codec := range want {
		call, err := st.GetCall(context.Background(), uid)
		if err != nil {
			t.Fatalf("GetCall(%s): %v", uid, err)
		}
		if call.Codec != codec {
			t.Errorf("call %s codec = %q, want %q", uid, call.Codec, codec)
		}
	}
}
