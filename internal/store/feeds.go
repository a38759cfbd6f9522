package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callpipe/internal/services"
)

const feedColumns = "id, name, sync, last_pos, created_at, updated_at"

// UpsertFeed registers a feed or updates its name and sync flag. The stored
// position cursor is preserved across upserts.
func (s *Store) UpsertFeed(ctx context.Context, feed *Feed) error {
	if feed == nil || feed.ID == "" {
		return errors.New("feed requires an id")
	}
	now := formatTime(nowUTC())
	_, err := s.execWithRetry(ctx, `
		INSERT INTO feeds (id, name, sync, last_pos, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sync = excluded.sync,
			updated_at = excluded.updated_at`,
		feed.ID, feed.Name, boolToInt(feed.Sync), feed.LastPos, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert feed %s: %w", feed.ID, err)
	}
	return nil
}

// GetFeed fetches a feed by ID.
func (s *Store) GetFeed(ctx context.Context, id string) (*Feed, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feeds WHERE id = ?", id)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get feed", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %s: %w", id, err)
	}
	return feed, nil
}

// ListFeeds returns feeds ordered by name. When syncOnly is set, feeds with
// polling disabled are skipped.
func (s *Store) ListFeeds(ctx context.Context, syncOnly bool) ([]*Feed, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + feedColumns + " FROM feeds"
	if syncOnly {
		query += " WHERE sync = 1"
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// AdvanceFeedPosition durably moves the feed's poll cursor forward. The
// guard keeps a slow concurrent poll from rewinding a newer position.
func (s *Store) AdvanceFeedPosition(ctx context.Context, id string, pos int64) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE feeds SET last_pos = ?, updated_at = ? WHERE id = ? AND last_pos < ?",
		pos, formatTime(nowUTC()), id, pos,
	)
	if err != nil {
		return fmt.Errorf("advance feed %s: %w", id, err)
	}
	// Zero rows is fine: the cursor was already at or past pos.
	_, err = res.RowsAffected()
	return err
}

func scanFeed(scanner interface{ Scan(dest ...any) error }) (*Feed, error) {
	var (
		id         string
		name       string
		sync       int
		lastPos    int64
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &name, &sync, &lastPos, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	feed := &Feed{ID: id, Name: name, Sync: sync != 0, LastPos: lastPos}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		feed.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		feed.UpdatedAt = updated
	}
	return feed, nil
}
