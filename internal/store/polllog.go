package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StartPoll opens a poll audit record for a feed and returns its ID.
func (s *Store) StartPoll(ctx context.Context, feedID string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		"INSERT INTO poll_log (feed_id, started_at) VALUES (?, ?)",
		feedID, formatTime(nowUTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("start poll for %s: %w", feedID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start poll for %s: last insert id: %w", feedID, err)
	}
	return id, nil
}

// FinishPoll closes a poll audit record with its outcome.
func (s *Store) FinishPoll(ctx context.Context, pollID int64, success bool, newCalls int, note string) error {
	_, err := s.execWithRetry(ctx,
		"UPDATE poll_log SET finished_at = ?, success = ?, new_calls = ?, note = ? WHERE id = ?",
		formatTime(nowUTC()), boolToInt(success), newCalls, nullableString(note), pollID,
	)
	if err != nil {
		return fmt.Errorf("finish poll %d: %w", pollID, err)
	}
	return nil
}

// RecentPolls returns the latest poll audit entries, newest first.
func (s *Store) RecentPolls(ctx context.Context, limit int) ([]*PollLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_id, started_at, finished_at, success, new_calls, note
		FROM poll_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	var entries []*PollLogEntry
	for rows.Next() {
		var (
			entry       PollLogEntry
			startedRaw  string
			finishedRaw sql.NullString
			success     int
			note        sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.FeedID, &startedRaw, &finishedRaw, &success, &entry.NewCalls, &note); err != nil {
			return nil, fmt.Errorf("scan poll entry: %w", err)
		}
		if started, err := parseTimeString(startedRaw); err == nil {
			entry.StartedAt = started
		}
		entry.FinishedAt = timePtrFromNull(finishedRaw)
		entry.Success = success != 0
		entry.Note = note.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// PrunePollLog removes audit entries older than the cutoff.
func (s *Store) PrunePollLog(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		"DELETE FROM poll_log WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune poll log: %w", err)
	}
	return res.RowsAffected()
}
