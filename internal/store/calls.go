package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callpipe/internal/services"
)

const callColumns = "call_uid, feed_id, system_id, group_id, source_id, frequency, ts, duration, audio_url, codec, status, picked_at, quality_score, snr_db, tier, conversion_time_ms, s3_bucket, s3_key, error_message, last_attempt, created_at, updated_at"

// InsertCall records a newly observed call. Calls are keyed by their upstream
// UID and by the (group_id, ts) natural key; re-observing a call on a later
// poll is a silent no-op. Returns true when a new row was inserted.
func (s *Store) InsertCall(ctx context.Context, call *CallRecord) (bool, error) {
	if call == nil {
		return false, errors.New("nil call")
	}
	if call.CallUID == "" || call.FeedID == "" || call.GroupID == "" {
		return false, errors.New("call requires call_uid, feed_id, and group_id")
	}
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		INSERT OR IGNORE INTO calls (
			call_uid, feed_id, system_id, group_id, source_id, frequency,
			ts, duration, audio_url, codec, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallUID, call.FeedID, call.SystemID, call.GroupID,
		nullableString(call.SourceID), call.Frequency,
		call.Ts, call.Duration, nullableString(call.AudioURL),
		nullableString(call.Codec), string(CallPending), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert call %s: %w", call.CallUID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert call %s: rows affected: %w", call.CallUID, err)
	}
	return affected == 1, nil
}

// GetCall fetches a call by UID.
func (s *Store) GetCall(ctx context.Context, callUID string) (*CallRecord, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+callColumns+" FROM calls WHERE call_uid = ?", callUID)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get call", callUID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", callUID, err)
	}
	return call, nil
}

// ClaimPendingCalls atomically moves up to limit pending calls into the
// processing status and returns them oldest-first. The shared picked_at
// marker scopes the follow-up read to exactly this claim.
func (s *Store) ClaimPendingCalls(ctx context.Context, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	marker := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE calls SET status = ?, picked_at = ?, updated_at = ?
		WHERE call_uid IN (
			SELECT call_uid FROM calls WHERE status = ? ORDER BY created_at, call_uid LIMIT ?
		)`,
		string(CallProcessing), marker, marker, string(CallPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending calls: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim pending calls: rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+callColumns+" FROM calls WHERE status = ? AND picked_at = ? ORDER BY created_at, call_uid",
		string(CallProcessing), marker,
	)
	if err != nil {
		return nil, fmt.Errorf("load claimed calls: %w", err)
	}
	defer rows.Close()
	return scanCalls(rows)
}

// ReclaimStuckProcessing returns calls whose enhancement claim has gone stale
// to the pending status so a later cycle can retry them. Covers crashes
// between claim and completion.
func (s *Store) ReclaimStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `
		UPDATE calls SET status = ?, picked_at = NULL, updated_at = ?
		WHERE status = ? AND picked_at < ?`,
		string(CallPending), formatTime(nowUTC()), string(CallProcessing), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck calls: %w", err)
	}
	return res.RowsAffected()
}

// MarkCallCompleted records a successful enhancement pass.
func (s *Store) MarkCallCompleted(ctx context.Context, callUID string, result EnhancementResult) error {
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE calls SET
			status = ?, picked_at = NULL,
			quality_score = ?, snr_db = ?, tier = ?, conversion_time_ms = ?,
			s3_bucket = ?, s3_key = ?, error_message = NULL,
			last_attempt = ?, updated_at = ?
		WHERE call_uid = ?`,
		string(CallCompleted),
		result.QualityScore, result.SNRDb, result.Tier, result.ConversionTimeMS,
		result.S3Bucket, result.S3Key, now, now, callUID,
	)
	if err != nil {
		return fmt.Errorf("complete call %s: %w", callUID, err)
	}
	return requireRow(res, "complete call", callUID)
}

// ReleaseCallForRetry returns a failed call to pending so a later cycle can
// retry, recording the failure message and attempt time.
func (s *Store) ReleaseCallForRetry(ctx context.Context, callUID, message string) error {
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE calls SET status = ?, picked_at = NULL, error_message = ?, last_attempt = ?, updated_at = ?
		WHERE call_uid = ?`,
		string(CallPending), nullableString(message), now, now, callUID,
	)
	if err != nil {
		return fmt.Errorf("release call %s: %w", callUID, err)
	}
	return requireRow(res, "release call", callUID)
}

// MarkCallFailed parks a call in the terminal failed status.
func (s *Store) MarkCallFailed(ctx context.Context, callUID, message string) error {
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE calls SET status = ?, picked_at = NULL, error_message = ?, last_attempt = ?, updated_at = ?
		WHERE call_uid = ?`,
		string(CallFailed), nullableString(message), now, now, callUID,
	)
	if err != nil {
		return fmt.Errorf("fail call %s: %w", callUID, err)
	}
	return requireRow(res, "fail call", callUID)
}

// SetConversionTime records how long the enhancement subprocess ran. Written
// for every attempt, including failed ones.
func (s *Store) SetConversionTime(ctx context.Context, callUID string, elapsedMS int64) error {
	_, err := s.execWithRetry(ctx,
		"UPDATE calls SET conversion_time_ms = ?, updated_at = ? WHERE call_uid = ?",
		elapsedMS, formatTime(nowUTC()), callUID,
	)
	if err != nil {
		return fmt.Errorf("record conversion time for %s: %w", callUID, err)
	}
	return nil
}

// ListCallsByStatus returns recent calls filtered by status; an empty status
// returns calls of every status.
func (s *Store) ListCallsByStatus(ctx context.Context, status CallStatus, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx = ensureContext(ctx)

	query := "SELECT " + callColumns + " FROM calls"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, call_uid LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()
	return scanCalls(rows)
}

// CallCounts returns the number of calls per status.
func (s *Store) CallCounts(ctx context.Context) (map[CallStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM calls GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}
	defer rows.Close()

	counts := make(map[CallStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan call count: %w", err)
		}
		counts[CallStatus(status)] = count
	}
	return counts, rows.Err()
}

// DeleteCallsByStatus removes calls in the given status together with their
// processing state and transcripts. An empty status removes every call.
func (s *Store) DeleteCallsByStatus(ctx context.Context, status CallStatus) (int64, error) {
	ctx = ensureContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	filter := " WHERE status = ?"
	var args []any
	if status != "" {
		args = append(args, string(status))
	} else {
		filter = ""
	}

	sub := "SELECT call_uid FROM calls" + filter
	if _, err := tx.ExecContext(ctx, "DELETE FROM transcripts WHERE call_uid IN ("+sub+")", args...); err != nil {
		return 0, fmt.Errorf("delete transcripts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM processing_state WHERE call_uid IN ("+sub+")", args...); err != nil {
		return 0, fmt.Errorf("delete processing state: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM calls"+filter, args...)
	if err != nil {
		return 0, fmt.Errorf("delete calls: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete calls: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return deleted, nil
}

func requireRow(res sql.Result, operation, callUID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", operation, callUID, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", operation, callUID, nil)
	}
	return nil
}

func scanCalls(rows *sql.Rows) ([]*CallRecord, error) {
	var calls []*CallRecord
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func scanCall(scanner interface{ Scan(dest ...any) error }) (*CallRecord, error) {
	var (
		callUID        string
		feedID         string
		systemID       sql.NullInt64
		groupID        string
		sourceID       sql.NullString
		frequency      sql.NullFloat64
		ts             int64
		duration       float64
		audioURL       sql.NullString
		codec          sql.NullString
		statusStr      string
		pickedRaw      sql.NullString
		qualityScore   sql.NullFloat64
		snrDb          sql.NullFloat64
		tier           sql.NullString
		conversionMS   sql.NullInt64
		s3Bucket       sql.NullString
		s3Key          sql.NullString
		errorMessage   sql.NullString
		lastAttemptRaw sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&callUID, &feedID, &systemID, &groupID, &sourceID, &frequency,
		&ts, &duration, &audioURL, &codec, &statusStr, &pickedRaw,
		&qualityScore, &snrDb, &tier, &conversionMS, &s3Bucket, &s3Key,
		&errorMessage, &lastAttemptRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	call := &CallRecord{
		CallUID:          callUID,
		FeedID:           feedID,
		SystemID:         systemID.Int64,
		GroupID:          groupID,
		SourceID:         sourceID.String,
		Frequency:        frequency.Float64,
		Ts:               ts,
		Duration:         duration,
		AudioURL:         audioURL.String,
		Codec:            codec.String,
		Status:           CallStatus(statusStr),
		PickedAt:         timePtrFromNull(pickedRaw),
		QualityScore:     floatPtrFromNull(qualityScore),
		SNRDb:            floatPtrFromNull(snrDb),
		Tier:             tier.String,
		ConversionTimeMS: intPtrFromNull(conversionMS),
		S3Bucket:         s3Bucket.String,
		S3Key:            s3Key.String,
		ErrorMessage:     errorMessage.String,
		LastAttempt:      timePtrFromNull(lastAttemptRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		call.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		call.UpdatedAt = updated
	}
	return call, nil
}
