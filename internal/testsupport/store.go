package testsupport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewFeed registers a test feed on the store.
func NewFeed(t testing.TB, st *store.Store, id, name string) *store.Feed {
	t.Helper()

	feed := &store.Feed{ID: id, Name: name, Sync: true}
	if err := st.UpsertFeed(context.Background(), feed); err != nil {
		t.Fatalf("store.UpsertFeed: %v", err)
	}
	return feed
}

// callTsSeq spaces out the ts of helper-created calls so they do not
// collide on the calls table's UNIQUE (group_id, ts) natural key when a
// test inserts several calls within the same second.
var callTsSeq atomic.Int64

// NewCall inserts a pending call for tests, keyed off the provided UID.
func NewCall(t testing.TB, st *store.Store, feedID, callUID string) *store.CallRecord {
	t.Helper()

	call := &store.CallRecord{
		CallUID:  callUID,
		FeedID:   feedID,
		GroupID:  "1201",
		SourceID: "radio-42",
		Ts:       time.Now().UTC().Unix() + callTsSeq.Add(1),
		Duration: 12.5,
		AudioURL: "https://calls.example.com/" + callUID + ".m4a",
		Codec:    "m4a",
	}
	inserted, err := st.InsertCall(context.Background(), call)
	if err != nil {
		t.Fatalf("store.InsertCall: %v", err)
	}
	if !inserted {
		t.Fatalf("call %s already present", callUID)
	}
	return call
}

// NewCompletedCall inserts a call and drives it to the completed status so
// dispatcher and worker tests can claim it.
func NewCompletedCall(t testing.TB, st *store.Store, feedID, callUID string) *store.CallRecord {
	t.Helper()

	NewCall(t, st, feedID, callUID)
	claimed, err := st.ClaimPendingCalls(context.Background(), 10)
	if err != nil {
		t.Fatalf("store.ClaimPendingCalls: %v", err)
	}
	found := false
	for _, c := range claimed {
		if c.CallUID == callUID {
			found = true
		}
	}
	if !found {
		t.Fatalf("call %s not claimed", callUID)
	}
	err = st.MarkCallCompleted(context.Background(), callUID, store.EnhancementResult{
		QualityScore:     62.0,
		SNRDb:            2.4,
		Tier:             "TIER2",
		ConversionTimeMS: 840,
		S3Bucket:         "test-bucket",
		S3Key:            "calls/" + callUID + ".wav",
	})
	if err != nil {
		t.Fatalf("store.MarkCallCompleted: %v", err)
	}
	refreshed, err := st.GetCall(context.Background(), callUID)
	if err != nil {
		t.Fatalf("store.GetCall: %v", err)
	}
	return refreshed
}
