package objectstore_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"callpipe/internal/logging"
	"callpipe/internal/objectstore"
	"callpipe/internal/services"
	"callpipe/internal/store"
	"callpipe/internal/testsupport"
)

func testCall() *store.CallRecord {
	return &store.CallRecord{
		CallUID:  "9f1c2a",
		FeedID:   "6d27a3c4-9b1e-4f70-8a55-1c2d3e4f5a6b",
		GroupID:  "1201",
		Ts:       time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC).Unix(),
		Duration: 12.5,
		Codec:    "m4a",
	}
}

func newTestWriter(t *testing.T) (*objectstore.Writer, *testsupport.FakeS3) {
	t.Helper()
	fake := testsupport.NewFakeS3()
	writer := objectstore.NewWriter(fake, testsupport.NewConfig(t), logging.NewNop())
	return writer, fake
}

func TestKeyIsHierarchical(t *testing.T) {
	writer, _ := newTestWriter(t)

	ts := time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC)
	got := writer.Key("feed-uuid", ts, "abc123")
	want := "calls/playlist_id=feed-uuid/2026/03/07/call_abc123.wav"
	if got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestUploadStoresObjectWithMetadata(t *testing.T) {
	writer, fake := newTestWriter(t)

	bucket, key, err := writer.Upload(context.Background(), testCall(), []byte("wav bytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if bucket != "test-bucket" {
		t.Fatalf("bucket = %q", bucket)
	}
	if !strings.HasPrefix(key, "calls/playlist_id=6d27a3c4") || !strings.HasSuffix(key, "call_9f1c2a.wav") {
		t.Fatalf("unexpected key %q", key)
	}
	if string(fake.Objects[key]) != "wav bytes" {
		t.Fatalf("stored payload = %q", fake.Objects[key])
	}

	meta := fake.Metadata[key]
	if meta["talkgroup"] != "1201" || meta["codec"] != "m4a" || meta["duration"] != "12.500" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	if meta["content-md5"] == "" {
		t.Fatal("checksum metadata missing")
	}
}

func TestUploadSameBytesIsNoOp(t *testing.T) {
	writer, fake := newTestWriter(t)
	call := testCall()
	payload := []byte("identical payload")

	_, key1, err := writer.Upload(context.Background(), call, payload)
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	_, key2, err := writer.Upload(context.Background(), call, payload)
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if key1 != key2 {
		t.Fatalf("keys differ: %q vs %q", key1, key2)
	}
	if fake.PutCalls != 1 {
		t.Fatalf("expected a single PutObject, got %d", fake.PutCalls)
	}
}

func TestUploadDifferentBytesIsRejected(t *testing.T) {
	writer, fake := newTestWriter(t)
	call := testCall()

	if _, _, err := writer.Upload(context.Background(), call, []byte("original")); err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	_, _, err := writer.Upload(context.Background(), call, []byte("tampered"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for differing bytes, got %v", err)
	}
	if fake.PutCalls != 1 {
		t.Fatalf("rejected upload must not overwrite, got %d puts", fake.PutCalls)
	}
}

func TestUploadHeadFailureIsTransient(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.HeadErr = errors.New("network timeout")

	_, _, err := writer.Upload(context.Background(), testCall(), []byte("payload"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatalf("head failure should be retryable: %v", err)
	}
}

func TestFetchRoundTrip(t *testing.T) {
	writer, _ := newTestWriter(t)
	call := testCall()

	_, key, err := writer.Upload(context.Background(), call, []byte("stored audio"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	body, err := writer.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "stored audio" {
		t.Fatalf("got %q", data)
	}
}

func TestFetchMissingKeyIsNotFound(t *testing.T) {
	writer, _ := newTestWriter(t)

	_, err := writer.Fetch(context.Background(), "calls/nope.wav")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
