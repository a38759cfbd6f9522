package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callpipe/internal/services"
)

const transcriptColumns = "call_uid, text, language, confidence, model, duration_seconds, segments_json, s3_bucket, s3_key, created_at"

// GetTranscript fetches the stored transcript for a call, or an ErrNotFound
// kind error when none exists. The transcription worker uses the existence
// check to short-circuit redelivered calls.
func (s *Store) GetTranscript(ctx context.Context, callUID string) (*Transcript, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+transcriptColumns+" FROM transcripts WHERE call_uid = ?", callUID)
	transcript, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get transcript", callUID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript %s: %w", callUID, err)
	}
	return transcript, nil
}

// HasTranscript reports whether a transcript exists for the call.
func (s *Store) HasTranscript(ctx context.Context, callUID string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM transcripts WHERE call_uid = ?", callUID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check transcript %s: %w", callUID, err)
	}
	return count > 0, nil
}

// SaveTranscript stores the transcript and advances the call's stage to
// transcribed in one transaction, so a transcript can never exist for a call
// the state tracker still considers untranscribed.
func (s *Store) SaveTranscript(ctx context.Context, transcript *Transcript) error {
	if transcript == nil || transcript.CallUID == "" {
		return errors.New("transcript requires a call_uid")
	}
	ctx = ensureContext(ctx)
	now := formatTime(nowUTC())

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transcript tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcripts (call_uid, text, language, confidence, model, duration_seconds, segments_json, s3_bucket, s3_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(call_uid) DO NOTHING`,
			transcript.CallUID, transcript.Text, nullableString(transcript.Language),
			transcript.Confidence, nullableString(transcript.Model), transcript.DurationSeconds,
			nullableString(transcript.SegmentsJSON), nullableString(transcript.S3Bucket),
			nullableString(transcript.S3Key), now,
		); err != nil {
			return fmt.Errorf("insert transcript %s: %w", transcript.CallUID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE processing_state SET status = ?, updated_at = ?
			WHERE call_uid = ? AND status IN (?, ?)`,
			string(StageTranscribed), now, transcript.CallUID,
			string(StageQueued), string(StageDownloaded),
		); err != nil {
			return fmt.Errorf("advance state for %s: %w", transcript.CallUID, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transcript %s: %w", transcript.CallUID, err)
		}
		return nil
	})
}

// TranscriptCount returns the number of stored transcripts.
func (s *Store) TranscriptCount(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM transcripts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return count, nil
}

func scanTranscript(scanner interface{ Scan(dest ...any) error }) (*Transcript, error) {
	var (
		callUID    string
		text       string
		language   sql.NullString
		confidence sql.NullFloat64
		model      sql.NullString
		duration   sql.NullFloat64
		segments   sql.NullString
		s3Bucket   sql.NullString
		s3Key      sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&callUID, &text, &language, &confidence, &model, &duration, &segments, &s3Bucket, &s3Key, &createdRaw); err != nil {
		return nil, err
	}
	transcript := &Transcript{
		CallUID:         callUID,
		Text:            text,
		Language:        language.String,
		Confidence:      confidence.Float64,
		Model:           model.String,
		DurationSeconds: duration.Float64,
		SegmentsJSON:    segments.String,
		S3Bucket:        s3Bucket.String,
		S3Key:           s3Key.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		transcript.CreatedAt = created
	}
	return transcript, nil
}
