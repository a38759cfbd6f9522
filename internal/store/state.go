package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callpipe/internal/services"
)

const stateColumns = "call_uid, status, retry_count, max_retries, last_error, claimed_at, created_at, updated_at"

// EligibleForTranscription returns UIDs of completed calls the dispatcher may
// claim, oldest first. A call is eligible when no stage has claimed it yet,
// or a prior attempt rolled back with retries remaining, or its claim went
// stale before the worker finished.
func (s *Store) EligibleForTranscription(ctx context.Context, limit int, oldestTs int64, staleCutoff time.Time) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.call_uid
		FROM calls c
		LEFT JOIN processing_state ps ON ps.call_uid = c.call_uid
		WHERE c.status = ?
		  AND c.ts >= ?
		  AND (
			ps.call_uid IS NULL
			OR (
				ps.retry_count < ps.max_retries
				AND (
					ps.status IS NULL
					OR (ps.status IN (?, ?, ?) AND (ps.claimed_at IS NULL OR ps.claimed_at < ?))
				)
			)
		  )
		ORDER BY c.ts, c.call_uid
		LIMIT ?`,
		string(CallCompleted), oldestTs,
		string(StageQueued), string(StageDownloaded), string(StageTranscribed),
		formatTime(staleCutoff), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select eligible calls: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan eligible call: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// ClaimForTranscription takes exclusive ownership of a call for the
// transcription ladder. The conditional upsert grants the claim to exactly
// one caller; losing callers see zero affected rows and move on.
func (s *Store) ClaimForTranscription(ctx context.Context, callUID string, maxRetries int, staleCutoff time.Time) (bool, error) {
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		INSERT INTO processing_state (call_uid, status, retry_count, max_retries, claimed_at, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(call_uid) DO UPDATE SET
			status = excluded.status,
			claimed_at = excluded.claimed_at,
			updated_at = excluded.updated_at
		WHERE processing_state.retry_count < processing_state.max_retries
		  AND (
			processing_state.status IS NULL
			OR (processing_state.status IN (?, ?, ?)
				AND (processing_state.claimed_at IS NULL OR processing_state.claimed_at < ?))
		  )`,
		callUID, string(StageQueued), maxRetries, now, now, now,
		string(StageQueued), string(StageDownloaded), string(StageTranscribed),
		formatTime(staleCutoff),
	)
	if err != nil {
		return false, fmt.Errorf("claim call %s: %w", callUID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim call %s: rows affected: %w", callUID, err)
	}
	return affected == 1, nil
}

// MarkDownloaded advances a queued claim after the audio fetch succeeds.
func (s *Store) MarkDownloaded(ctx context.Context, callUID string) error {
	return s.advanceStage(ctx, callUID, StageDownloaded, StageQueued)
}

// MarkTranscribed advances a claim after the transcript is stored.
func (s *Store) MarkTranscribed(ctx context.Context, callUID string) error {
	return s.advanceStage(ctx, callUID, StageTranscribed, StageQueued, StageDownloaded)
}

// MarkIndexed moves a claim to its terminal success status and releases it.
func (s *Store) MarkIndexed(ctx context.Context, callUID string) error {
	return s.advanceStage(ctx, callUID, StageIndexed, StageQueued, StageDownloaded, StageTranscribed)
}

func (s *Store) advanceStage(ctx context.Context, callUID string, to StageStatus, from ...StageStatus) error {
	args := []any{string(to), formatTime(nowUTC()), callUID}
	for _, f := range from {
		args = append(args, string(f))
	}
	claimed := ", claimed_at = NULL"
	if !to.Terminal() {
		claimed = ""
	}
	res, err := s.execWithRetry(ctx,
		"UPDATE processing_state SET status = ?, updated_at = ?"+claimed+
			" WHERE call_uid = ? AND status IN ("+makePlaceholders(len(from))+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("advance %s to %s: %w", callUID, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance %s to %s: rows affected: %w", callUID, to, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "advance stage",
			fmt.Sprintf("%s not in a status that can reach %s", callUID, to), nil)
	}
	return nil
}

// RecordStageFailure books a failed transcription attempt: the retry counter
// increments, the error is recorded, and the status rolls back to the given
// stable status so a later dispatch can resume. When the budget is spent the
// call parks in the terminal error status instead.
func (s *Store) RecordStageFailure(ctx context.Context, callUID string, rollback StageStatus, message string) (*ProcessingState, error) {
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE processing_state SET
			retry_count = retry_count + 1,
			last_error = ?,
			claimed_at = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN ? ELSE ? END,
			updated_at = ?
		WHERE call_uid = ?`,
		nullableString(message), string(StageError), nullableString(string(rollback)), now, callUID,
	)
	if err != nil {
		return nil, fmt.Errorf("record failure for %s: %w", callUID, err)
	}
	if err := requireRowState(res, callUID); err != nil {
		return nil, err
	}
	return s.GetState(ctx, callUID)
}

// RecordEnhancementFailure books a failed enhancement attempt against a call
// that no stage has claimed yet. Returns true when the retry budget is spent.
func (s *Store) RecordEnhancementFailure(ctx context.Context, callUID string, maxRetries int, message string) (bool, error) {
	now := formatTime(nowUTC())
	_, err := s.execWithRetry(ctx, `
		INSERT INTO processing_state (call_uid, status, retry_count, max_retries, last_error, created_at, updated_at)
		VALUES (?, NULL, 1, ?, ?, ?, ?)
		ON CONFLICT(call_uid) DO UPDATE SET
			retry_count = processing_state.retry_count + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		callUID, maxRetries, nullableString(message), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("record enhancement failure for %s: %w", callUID, err)
	}
	_, err = s.execWithRetry(ctx, `
		UPDATE processing_state SET status = ?, updated_at = ?
		WHERE call_uid = ? AND retry_count >= max_retries AND (status IS NULL OR status NOT IN (?, ?))`,
		string(StageError), now, callUID, string(StageIndexed), string(StageError),
	)
	if err != nil {
		return false, fmt.Errorf("finalize enhancement failure for %s: %w", callUID, err)
	}
	state, err := s.GetState(ctx, callUID)
	if err != nil {
		return false, err
	}
	return state.Status == StageError || state.RetriesExhausted(), nil
}

// MarkTerminalError parks a call in the error status regardless of retries.
// Used for failures that will never succeed, like undecodable audio.
func (s *Store) MarkTerminalError(ctx context.Context, callUID string, maxRetries int, message string) error {
	now := formatTime(nowUTC())
	_, err := s.execWithRetry(ctx, `
		INSERT INTO processing_state (call_uid, status, retry_count, max_retries, last_error, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(call_uid) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			claimed_at = NULL,
			updated_at = excluded.updated_at`,
		callUID, string(StageError), maxRetries, nullableString(message), now, now,
	)
	if err != nil {
		return fmt.Errorf("mark terminal error for %s: %w", callUID, err)
	}
	return nil
}

// ResetState clears error bookkeeping so a parked call becomes eligible
// again. Used by the CLI retry command.
func (s *Store) ResetState(ctx context.Context, callUID string) error {
	res, err := s.execWithRetry(ctx, `
		UPDATE processing_state SET
			status = NULL, retry_count = 0, last_error = NULL, claimed_at = NULL, updated_at = ?
		WHERE call_uid = ?`,
		formatTime(nowUTC()), callUID,
	)
	if err != nil {
		return fmt.Errorf("reset state for %s: %w", callUID, err)
	}
	return requireRowState(res, callUID)
}

// GetState fetches the processing state row for a call.
func (s *Store) GetState(ctx context.Context, callUID string) (*ProcessingState, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+stateColumns+" FROM processing_state WHERE call_uid = ?", callUID)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get state", callUID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", callUID, err)
	}
	return state, nil
}

// StateCounts returns the number of processing_state rows per status. Rows
// with no stage yet are reported under the "none" key.
func (s *Store) StateCounts(ctx context.Context) (map[string]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT COALESCE(status, 'none'), COUNT(1) FROM processing_state GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func requireRowState(res sql.Result, callUID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("state update %s: rows affected: %w", callUID, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update state", callUID, nil)
	}
	return nil
}

func scanState(scanner interface{ Scan(dest ...any) error }) (*ProcessingState, error) {
	var (
		callUID    string
		status     sql.NullString
		retryCount int
		maxRetries int
		lastError  sql.NullString
		claimedRaw sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&callUID, &status, &retryCount, &maxRetries, &lastError, &claimedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	state := &ProcessingState{
		CallUID:    callUID,
		Status:     StageStatus(status.String),
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		LastError:  lastError.String,
		ClaimedAt:  timePtrFromNull(claimedRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		state.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		state.UpdatedAt = updated
	}
	return state, nil
}
