// https://github.com/relaysync/core

package wal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaysync/core/internal/logging"
)

// Committer is the interface for replaying WAL entries into the store.
// Implementations should unmarshal the Entry.Payload and commit it.
type Committer interface {
	// CommitEntry commits a WAL entry. The implementation should unmarshal
	// Entry.Payload to the appropriate type and apply it.
	CommitEntry(ctx context.Context, entry *Entry) error
}

// CommitterFunc is a function type that implements Committer.
// This allows using closures as committers for flexibility.
type CommitterFunc func(ctx context.Context, entry *Entry) error

// CommitEntry implements Committer.
func (f CommitterFunc) CommitEntry(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// RecoveryResult contains the results of a recovery operation.
type RecoveryResult struct {
	// TotalPending is the number of pending entries found.
	TotalPending int

	// Recovered is the number of entries successfully committed.
	Recovered int

	// Failed is the number of entries that failed to commit.
	Failed int

	// Expired is the number of entries that were too old and removed.
	Expired int

	// Errors contains any errors encountered during recovery.
	Errors []error

	// Duration is how long the recovery took.
	Duration time.Duration
}

// RecoverPending replays all pending WAL entries on startup.
// This is called during application initialization to ensure no event is
// lost from a previous run that crashed or was interrupted between WAL
// write and store commit.
//
// The recovery process, for each pending entry:
//  1. If expired (older than EntryTTL), delete it.
//  2. If max retries exceeded, log and delete it.
//  3. Otherwise, attempt to commit it to the store.
//  4. If the commit succeeds, confirm the entry.
//  5. If the commit fails, record the attempt and leave it pending.
//
// Recovery is idempotent: the ingestor's process is single-writer, so there
// is exactly one recovery pass per startup and no concurrent claimant to
// race against.
func (w *BadgerWAL) RecoverPending(ctx context.Context, committer Committer) (*RecoveryResult, error) {
	if committer == nil {
		return nil, fmt.Errorf("committer cannot be nil")
	}

	start := time.Now()
	result := &RecoveryResult{}

	entries, err := w.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending entries: %w", err)
	}

	result.TotalPending = len(entries)
	if result.TotalPending == 0 {
		logging.Info().Msg("WAL recovery: no pending entries found")
		result.Duration = time.Since(start)
		return result, nil
	}

	logging.Info().Int("pending_entries", result.TotalPending).Msg("WAL recovery found pending entries")
	RecordWALRecoveredEntries(int64(result.TotalPending))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		w.processRecoveryEntry(ctx, entry, committer, result)
	}

	result.Duration = time.Since(start)

	logging.Info().
		Int("recovered", result.Recovered).
		Int("failed", result.Failed).
		Int("expired", result.Expired).
		Dur("duration", result.Duration).
		Msg("WAL recovery complete")

	return result, nil
}

// processRecoveryEntry processes a single entry during recovery.
func (w *BadgerWAL) processRecoveryEntry(ctx context.Context, entry *Entry, committer Committer, result *RecoveryResult) {
	if time.Since(entry.CreatedAt) > w.config.EntryTTL {
		logging.Info().
			Str("entry_id", entry.ID).
			Dur("age", time.Since(entry.CreatedAt)).
			Msg("WAL recovery: entry expired, removing")
		if err := w.DeleteEntry(ctx, entry.ID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("delete expired entry %s: %w", entry.ID, err))
		}
		result.Expired++
		RecordWALExpiredEntry()
		return
	}

	if entry.Attempts >= w.config.MaxRetries {
		logging.Info().
			Str("entry_id", entry.ID).
			Int("attempts", entry.Attempts).
			Msg("WAL recovery: entry exceeded max retries, removing")
		if err := w.DeleteEntry(ctx, entry.ID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("delete max-retried entry %s: %w", entry.ID, err))
		}
		result.Failed++
		RecordWALMaxRetriesExceeded()
		return
	}

	if err := committer.CommitEntry(ctx, entry); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL recovery: failed to commit entry")
		if updateErr := w.UpdateAttempt(ctx, entry.ID, err.Error()); updateErr != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("update attempt for %s: %w", entry.ID, updateErr))
		}
		result.Failed++
		RecordWALCommitFailure()
		return
	}

	if err := w.Confirm(ctx, entry.ID); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			logging.Debug().Str("entry_id", entry.ID).Msg("WAL recovery: entry already confirmed")
		} else {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL recovery: failed to confirm entry")
			result.Errors = append(result.Errors,
				fmt.Errorf("confirm entry %s: %w", entry.ID, err))
			result.Failed++
		}
		return
	}

	result.Recovered++
}
