package search_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"callpipe/internal/logging"
	"callpipe/internal/search"
	"callpipe/internal/services"
	"callpipe/internal/testsupport"
)

func TestIndexPostsDocument(t *testing.T) {
	var gotPath, gotAuth string
	var gotDocs []search.Document
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotDocs); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithSearch(server.URL, "transcripts"))
	cfg.Search.APIKey = "meili-key"
	indexer := search.NewIndexer(cfg, logging.NewNop())

	err := indexer.Index(context.Background(), search.Document{
		ID:         "1201-100",
		CallUID:    "1201-100",
		Text:       "engine four responding",
		Language:   "en",
		FeedID:     "pl-1",
		Timestamp:  1767120000,
		Confidence: 0.91,
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if gotPath != "/indexes/transcripts/documents" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer meili-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if len(gotDocs) != 1 || gotDocs[0].CallUID != "1201-100" || gotDocs[0].IndexedAt == "" {
		t.Fatalf("unexpected documents: %+v", gotDocs)
	}
}

func TestIndexRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithSearch(server.URL, "transcripts"))
	indexer := search.NewIndexer(cfg, logging.NewNop())

	if err := indexer.Index(context.Background(), search.Document{ID: "x", CallUID: "x"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected retry, got %d calls", calls.Load())
	}
}

func TestIndexFailureIsIndexingKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid document", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithSearch(server.URL, "transcripts"))
	indexer := search.NewIndexer(cfg, logging.NewNop())

	err := indexer.Index(context.Background(), search.Document{ID: "x", CallUID: "x"})
	if !errors.Is(err, services.ErrIndexing) {
		t.Fatalf("expected indexing error kind, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("indexing failures must not consume pipeline retries")
	}
	if !services.NonFatal(err) {
		t.Fatal("indexing failures must be non-fatal")
	}
}

func TestIndexDisabledIsNoOp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	indexer := search.NewIndexer(cfg, logging.NewNop())

	if indexer.Enabled() {
		t.Fatal("search should default to disabled")
	}
	if err := indexer.Index(context.Background(), search.Document{ID: "x"}); err != nil {
		t.Fatalf("disabled indexer must accept and drop documents: %v", err)
	}
}
