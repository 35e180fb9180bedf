// https://github.com/relaysync/core

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/metrics"
	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/nodeclient"
	"github.com/relaysync/core/internal/resolver"
)

// processEvent runs one leased event through its field's sync pipeline
// (or the user-lifecycle path) and finalizes the result back to the
// Store. Errors finalizing are logged, not retried: the row is either
// already gone (applied/skipped/failed) or already rescheduled
// (retry/wait_item), so a second Finalize attempt would only duplicate
// work.
func (w *Worker) processEvent(ctx context.Context, ev models.PendingEvent) {
	var outcome models.Outcome
	var itemName string

	switch ev.EventType {
	case models.SyncProgress:
		outcome, itemName = w.syncProgress(ctx, ev)
	case models.SyncWatched:
		outcome, itemName = w.syncWatched(ctx, ev)
	case models.SyncFavorite:
		outcome, itemName = w.syncFavorite(ctx, ev)
	case models.SyncRating:
		outcome, itemName = w.syncRating(ctx, ev)
	case models.SyncUserCreated:
		outcome, itemName = w.handleUserCreated(ctx, ev)
	case models.SyncUserDeleted:
		outcome, itemName = w.handleUserDeleted(ctx, ev)
	default:
		outcome = models.Outcome{Kind: models.OutcomeFailed, Reason: fmt.Sprintf("unknown event type %q", ev.EventType)}
	}

	metrics.RecordEventOutcome(string(outcome.Kind))

	logEntry := models.SyncLogEntry{
		CreatedAt:   time.Now().UTC(),
		EventType:   ev.EventType,
		SourceNode:  ev.SourceNode,
		TargetNode:  ev.TargetNode,
		Username:    ev.Payload.Username,
		ItemName:    itemName,
		SyncedValue: outcome.SyncedValue,
		Success:     outcome.Kind == models.OutcomeApplied,
		Message:     outcome.Reason,
	}

	if err := w.store.Finalize(ctx, ev, outcome, logEntry); err != nil {
		logging.Error().Err(err).Int64("event_id", ev.ID).Msg("failed to finalize pending event")
	}

	if w.notifier != nil {
		w.notifier.NotifyOutcome(string(ev.EventType), ev.TargetNode, string(outcome.Kind))
	}
}

// resolveUserAndItem resolves the target user and target item for one
// event, applying its cooldown-independent terminal/transitional
// outcomes (NoMatchingUser → failed, ItemAbsent → the policy engine's
// wait_item/failed decision, anything else → a bounded retry). ok is
// false when resolution did not complete and outcome should be
// returned as-is by the caller.
func (w *Worker) resolveUserAndItem(ctx context.Context, ev models.PendingEvent) (targetUserID, targetItemID string, client NodeClient, outcome models.Outcome, ok bool) {
	client, exists := w.clients[ev.TargetNode]
	if !exists {
		return "", "", nil, models.Outcome{Kind: models.OutcomeFailed, Reason: fmt.Sprintf("no node client configured for %q", ev.TargetNode)}, false
	}

	targetUserID, err := w.resolver.ResolveTargetUser(ctx, ev.Payload.Username, ev.TargetNode)
	if err != nil {
		var noMatch *resolver.NoMatchingUserError
		if errors.As(err, &noMatch) {
			return "", "", nil, models.Outcome{Kind: models.OutcomeFailed, Reason: err.Error()}, false
		}
		return "", "", nil, w.retryOutcome(ev, err), false
	}

	targetItemID, err = w.resolver.ResolveItem(ctx, ev.TargetNode, ev.Payload.Item)
	if err != nil {
		var absent *resolver.ItemAbsentError
		if errors.As(err, &absent) {
			return "", "", nil, w.handleItemAbsent(ev), false
		}
		return "", "", nil, w.retryOutcome(ev, err), false
	}

	return targetUserID, targetItemID, client, models.Outcome{}, true
}

// handleItemAbsent consults the Policy Engine for the item's path to
// decide whether to keep waiting for the item to appear on the target
// node or give up.
func (w *Worker) handleItemAbsent(ev models.PendingEvent) models.Outcome {
	rule := w.policy.Select(ev.Payload.Item.Path)
	nextCount := ev.ItemNotFoundCount + 1
	if rule.MaxAttempts != -1 && nextCount > rule.MaxAttempts {
		return models.Outcome{Kind: models.OutcomeFailed, Reason: "item not found on target node after exhausting retry budget"}
	}
	metrics.RecordRetry("item_absent")
	return models.Outcome{
		Kind:       models.OutcomeWaitItem,
		RetryDelay: rule.Delay,
		Reason:     "item not yet visible on target node",
	}
}

// retryOutcome bounds a transient failure by cfg.Sync.MaxRetries,
// failing the event once the budget is exhausted.
func (w *Worker) retryOutcome(ev models.PendingEvent, err error) models.Outcome {
	maxRetries := w.cfg.Sync.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	nextAttempt := ev.Attempts + 1
	if nextAttempt > maxRetries {
		return models.Outcome{Kind: models.OutcomeFailed, Reason: err.Error()}
	}
	metrics.RecordRetry("transient")
	return models.Outcome{Kind: models.OutcomeRetry, RetryDelay: backoff(nextAttempt), Reason: err.Error()}
}

// backoff implements the exponential retry schedule: 60s, 120s, 240s,
// ... capped at 600s.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 60 * time.Second * time.Duration(uint64(1)<<uint(attempt-1))
	if d > 600*time.Second || d <= 0 {
		d = 600 * time.Second
	}
	return d
}

// classifyApplyError maps a Node Client error from an apply call to its
// outcome: Unauthorized degrades the node's readiness and fails the
// event outright (no amount of retrying fixes a bad credential);
// NotFound/Permanent fail; Transient (and anything unrecognized) retry
// within budget.
func (w *Worker) classifyApplyError(ev models.PendingEvent, err error) models.Outcome {
	var unauth *nodeclient.UnauthorizedError
	if errors.As(err, &unauth) {
		if w.authority != nil {
			if markErr := w.authority.MarkUnauthorized(ev.TargetNode); markErr != nil {
				logging.Warn().Err(markErr).Str("node", ev.TargetNode).Msg("failed to mark node unauthorized")
			}
		}
		metrics.RecordNodeUnauthorized(ev.TargetNode)
		return models.Outcome{Kind: models.OutcomeFailed, Reason: err.Error()}
	}

	var nf *nodeclient.NotFoundError
	if errors.As(err, &nf) {
		return models.Outcome{Kind: models.OutcomeFailed, Reason: err.Error()}
	}

	var perm *nodeclient.PermanentError
	if errors.As(err, &perm) {
		return models.Outcome{Kind: models.OutcomeFailed, Reason: err.Error()}
	}

	return w.retryOutcome(ev, err)
}

// cooldownActive reports whether field was written on this target
// within the anti-loop window and should be skipped.
func (w *Worker) cooldownActive(ev models.PendingEvent, field string) bool {
	return w.cooldown.active(ev.TargetNode, ev.Payload.Username, ev.Payload.Item.LookupKey(), field)
}

func (w *Worker) markCooldown(ev models.PendingEvent, field string) {
	w.cooldown.mark(ev.TargetNode, ev.Payload.Username, ev.Payload.Item.LookupKey(), field)
}

func itemNameFor(ev models.PendingEvent) string {
	if ev.Payload.Item.Path != "" {
		return ev.Payload.Item.Path
	}
	return ev.Payload.Item.LookupKey()
}

func skipped(reason string) models.Outcome {
	return models.Outcome{Kind: models.OutcomeSkipped, Reason: reason}
}

func failed(reason string) models.Outcome {
	return models.Outcome{Kind: models.OutcomeFailed, Reason: reason}
}

// syncProgress applies the intended playback position if the target's
// current position still differs by more than the comparison
// threshold.
func (w *Worker) syncProgress(ctx context.Context, ev models.PendingEvent) (models.Outcome, string) {
	fv := ev.Payload.PositionTicks
	if fv == nil {
		return skipped("missing position_ticks field"), ""
	}
	if w.cooldownActive(ev, "position_ticks") {
		return skipped("cooldown active"), itemNameFor(ev)
	}

	wantTicks, ok := asInt64(fv.Value)
	if !ok {
		return failed("invalid position_ticks value"), itemNameFor(ev)
	}

	targetUserID, targetItemID, client, outcome, resolved := w.resolveUserAndItem(ctx, ev)
	if !resolved {
		return outcome, itemNameFor(ev)
	}

	current, err := client.GetUserItemData(ctx, targetUserID, targetItemID)
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}

	if current.PositionTicks > wantTicks && current.LastPlayedAt != nil && current.LastPlayedAt.After(fv.Timestamp) {
		return skipped("target newer"), itemNameFor(ev)
	}

	if absDiffInt64(current.PositionTicks, wantTicks) < progressTicksThreshold {
		return skipped("already within progress threshold"), itemNameFor(ev)
	}

	start := time.Now()
	err = client.SetProgress(ctx, targetUserID, targetItemID, wantTicks)
	metrics.RecordApplyDuration(ev.TargetNode, time.Since(start))
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}

	w.markCooldown(ev, "position_ticks")
	return models.Outcome{Kind: models.OutcomeApplied, SyncedValue: fmt.Sprintf("%d", wantTicks)}, itemNameFor(ev)
}

// syncWatched applies the intended played/unplayed state if it differs
// from the target's current state.
func (w *Worker) syncWatched(ctx context.Context, ev models.PendingEvent) (models.Outcome, string) {
	fv := ev.Payload.Played
	if fv == nil {
		return skipped("missing played field"), ""
	}
	if w.cooldownActive(ev, "played") {
		return skipped("cooldown active"), itemNameFor(ev)
	}

	wantPlayed, ok := asBool(fv.Value)
	if !ok {
		return failed("invalid played value"), itemNameFor(ev)
	}

	targetUserID, targetItemID, client, outcome, resolved := w.resolveUserAndItem(ctx, ev)
	if !resolved {
		return outcome, itemNameFor(ev)
	}

	current, err := client.GetUserItemData(ctx, targetUserID, targetItemID)
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}
	if current.Played == wantPlayed {
		return skipped("already in intended played state"), itemNameFor(ev)
	}

	start := time.Now()
	if wantPlayed {
		err = client.MarkPlayed(ctx, targetUserID, targetItemID, fv.Timestamp)
	} else {
		err = client.MarkUnplayed(ctx, targetUserID, targetItemID)
	}
	metrics.RecordApplyDuration(ev.TargetNode, time.Since(start))
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}

	w.markCooldown(ev, "played")
	return models.Outcome{Kind: models.OutcomeApplied, SyncedValue: fmt.Sprintf("%v", wantPlayed)}, itemNameFor(ev)
}

// syncFavorite applies the intended favorite flag if it differs from
// the target's current state.
func (w *Worker) syncFavorite(ctx context.Context, ev models.PendingEvent) (models.Outcome, string) {
	fv := ev.Payload.Favorite
	if fv == nil {
		return skipped("missing favorite field"), ""
	}
	if w.cooldownActive(ev, "favorite") {
		return skipped("cooldown active"), itemNameFor(ev)
	}

	wantFavorite, ok := asBool(fv.Value)
	if !ok {
		return failed("invalid favorite value"), itemNameFor(ev)
	}

	targetUserID, targetItemID, client, outcome, resolved := w.resolveUserAndItem(ctx, ev)
	if !resolved {
		return outcome, itemNameFor(ev)
	}

	current, err := client.GetUserItemData(ctx, targetUserID, targetItemID)
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}
	if current.Favorite == wantFavorite {
		return skipped("already in intended favorite state"), itemNameFor(ev)
	}

	start := time.Now()
	err = client.SetFavorite(ctx, targetUserID, targetItemID, wantFavorite)
	metrics.RecordApplyDuration(ev.TargetNode, time.Since(start))
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}

	w.markCooldown(ev, "favorite")
	return models.Outcome{Kind: models.OutcomeApplied, SyncedValue: fmt.Sprintf("%v", wantFavorite)}, itemNameFor(ev)
}

// syncRating applies the intended rating if it differs from the
// target's current state. A nil rating clears it.
func (w *Worker) syncRating(ctx context.Context, ev models.PendingEvent) (models.Outcome, string) {
	fv := ev.Payload.Rating
	if fv == nil {
		return skipped("missing rating field"), ""
	}
	if w.cooldownActive(ev, "rating") {
		return skipped("cooldown active"), itemNameFor(ev)
	}

	wantRating, ok := asFloatPtr(fv.Value)
	if !ok {
		return failed("invalid rating value"), itemNameFor(ev)
	}

	targetUserID, targetItemID, client, outcome, resolved := w.resolveUserAndItem(ctx, ev)
	if !resolved {
		return outcome, itemNameFor(ev)
	}

	current, err := client.GetUserItemData(ctx, targetUserID, targetItemID)
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}
	if ratingsEqual(current.Rating, wantRating) {
		return skipped("already in intended rating state"), itemNameFor(ev)
	}

	start := time.Now()
	err = client.SetRating(ctx, targetUserID, targetItemID, wantRating)
	metrics.RecordApplyDuration(ev.TargetNode, time.Since(start))
	if err != nil {
		return w.classifyApplyError(ev, err), itemNameFor(ev)
	}

	w.markCooldown(ev, "rating")
	syncedValue := "cleared"
	if wantRating != nil {
		syncedValue = fmt.Sprintf("%.1f", *wantRating)
	}
	return models.Outcome{Kind: models.OutcomeApplied, SyncedValue: syncedValue}, itemNameFor(ev)
}

func ratingsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
