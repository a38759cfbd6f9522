package main

import (
	"context"
	"testing"
)

const testPlaylistUUID = "6d27a3c4-91f0-4a8e-b21d-5f6c7e8d9a0b"

func TestFeedsAddAndList(t *testing.T) {
	configPath := writeTestConfig(t)
	st := openTestStore(t, configPath)

	out, err := runCLI(t, configPath, "feeds", "add", testPlaylistUUID, "--name", "downtown")
	if err != nil {
		t.Fatalf("feeds add: %v", err)
	}
	requireContains(t, out, "Registered feed "+testPlaylistUUID)

	feed, err := st.GetFeed(context.Background(), testPlaylistUUID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if feed.Name != "downtown" || !feed.Sync {
		t.Fatalf("unexpected feed: %+v", feed)
	}

	out, err = runCLI(t, configPath, "feeds", "list")
	if err != nil {
		t.Fatalf("feeds list: %v", err)
	}
	requireContains(t, out, testPlaylistUUID)
	requireContains(t, out, "enabled")
}

func TestFeedsAddRejectsMalformedUUID(t *testing.T) {
	configPath := writeTestConfig(t)
	openTestStore(t, configPath)

	if _, err := runCLI(t, configPath, "feeds", "add", "not-a-uuid"); err == nil {
		t.Fatal("malformed playlist id must be rejected")
	}
}

func TestFeedsDisableAndEnable(t *testing.T) {
	configPath := writeTestConfig(t)
	st := openTestStore(t, configPath)

	if _, err := runCLI(t, configPath, "feeds", "add", testPlaylistUUID); err != nil {
		t.Fatalf("feeds add: %v", err)
	}
	if _, err := runCLI(t, configPath, "feeds", "disable", testPlaylistUUID); err != nil {
		t.Fatalf("feeds disable: %v", err)
	}

	feed, err := st.GetFeed(context.Background(), testPlaylistUUID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if feed.Sync {
		t.Fatal("feed should be paused after disable")
	}

	if _, err := runCLI(t, configPath, "feeds", "enable", testPlaylistUUID); err != nil {
		t.Fatalf("feeds enable: %v", err)
	}
	feed, err = st.GetFeed(context.Background(), testPlaylistUUID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if !feed.Sync {
		t.Fatal("feed should poll again after enable")
	}
}
