// https://github.com/relaysync/core

package worker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/resolver"
)

// passwordLength is the generated password length for nodes that
// require one on user creation.
const passwordLength = 16

// generatePassword returns a random URL-safe password, long enough to
// satisfy any node's minimum-complexity requirement without needing to
// know what that requirement is.
func generatePassword() (string, error) {
	buf := make([]byte, passwordLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:passwordLength], nil
}

// handleUserCreated fans a UserCreated notification out to the target
// node: create the user there, generating a random password unless the
// node is configured passwordless, and cache the resulting mapping so
// the first field-sync event for this user doesn't have to resolve it
// by listing users.
func (w *Worker) handleUserCreated(ctx context.Context, ev models.PendingEvent) (models.Outcome, string) {
	client, exists := w.clients[ev.TargetNode]
	if !exists {
		return failed(fmt.Sprintf("no node client configured for %q", ev.TargetNode)), ""
	}

	node := w.cfg.NodeByName(ev.TargetNode)
	password := ""
	if node == nil || !node.Passwordless {
		pw, err := generatePassword()
		if err != nil {
			return w.retryOutcome(ev, err), ""
		}
		password = pw
	}

	remoteID, err := client.CreateUser(ctx, ev.Payload.Username, password)
	if err != nil {
		return w.classifyApplyError(ev, err), ""
	}

	if putErr := w.store.PutUserMapping(ctx, models.UserMapping{
		Username:     ev.Payload.Username,
		NodeName:     ev.TargetNode,
		RemoteUserID: remoteID,
	}); putErr != nil {
		return w.retryOutcome(ev, putErr), ""
	}

	return models.Outcome{Kind: models.OutcomeApplied, SyncedValue: remoteID}, ""
}

// handleUserDeleted fans a UserDeleted notification out to the target
// node: resolve the user there and delete it, then drop its cached
// mapping everywhere. A user already absent from the target (no
// matching username) fails the event rather than treating it as a
// no-op skip, since a resolution failure here is indistinguishable
// from the mapping cache having gone stale and is worth surfacing in
// the sync log.
func (w *Worker) handleUserDeleted(ctx context.Context, ev models.PendingEvent) (models.Outcome, string) {
	client, exists := w.clients[ev.TargetNode]
	if !exists {
		return failed(fmt.Sprintf("no node client configured for %q", ev.TargetNode)), ""
	}

	targetUserID, err := w.resolver.ResolveTargetUser(ctx, ev.Payload.Username, ev.TargetNode)
	if err != nil {
		var noMatch *resolver.NoMatchingUserError
		if errors.As(err, &noMatch) {
			return failed(err.Error()), ""
		}
		return w.retryOutcome(ev, err), ""
	}

	if err := client.DeleteUser(ctx, targetUserID); err != nil {
		return w.classifyApplyError(ev, err), ""
	}

	if err := w.store.InvalidateUser(ctx, ev.Payload.Username); err != nil {
		return w.retryOutcome(ev, err), ""
	}

	return models.Outcome{Kind: models.OutcomeApplied}, ""
}
