// https://github.com/relaysync/core

package worker

import (
	"context"
	"strings"
	"time"

	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/nodeclient"
)

// playlistReconcileInterval is how often the best-effort playlist pass
// runs. Playlists have no webhook signal of their own (no notification
// type carries a delta), so reconciliation runs on its own clock
// instead of through the leased pending_events pipeline.
const playlistReconcileInterval = 10 * time.Minute

// reconcilePlaylists lists every configured source node's users and
// their playlists, and for each other node adds whatever items are
// missing from the same-named playlist there. It never deletes,
// reorders, or creates a playlist that doesn't already exist on the
// target: a conservative, add-only pass that can only move users
// toward consistency, never away from it. Errors are logged and
// skipped per user/playlist/item rather than aborting the whole pass.
func (w *Worker) reconcilePlaylists(ctx context.Context) {
	for _, source := range w.cfg.Servers {
		sourceClient, ok := w.clients[source.Name]
		if !ok {
			continue
		}

		users, err := sourceClient.ListUsers(ctx)
		if err != nil {
			logging.Warn().Err(err).Str("node", source.Name).Msg("playlist reconciliation: failed to list users")
			continue
		}

		for _, user := range users {
			sourcePlaylists, err := sourceClient.ListPlaylists(ctx, user.RemoteID)
			if err != nil {
				logging.Warn().Err(err).Str("node", source.Name).Str("user", user.Username).
					Msg("playlist reconciliation: failed to list playlists")
				continue
			}
			if len(sourcePlaylists) == 0 {
				continue
			}

			for _, target := range w.cfg.OtherNodes(source.Name) {
				w.reconcileUserPlaylistsToTarget(ctx, user, sourcePlaylists, target.Name)
			}
		}
	}
}

// reconcileUserPlaylistsToTarget diffs one user's source playlists
// against their counterparts on targetNode by name, and adds whatever
// items are present on the source but missing on the target.
func (w *Worker) reconcileUserPlaylistsToTarget(ctx context.Context, user nodeclient.User, sourcePlaylists []nodeclient.Playlist, targetNode string) {
	targetClient, ok := w.clients[targetNode]
	if !ok {
		return
	}

	targetUserID, err := w.resolver.ResolveTargetUser(ctx, user.Username, targetNode)
	if err != nil {
		// No matching user on this target: nothing to reconcile for
		// them here, and not worth logging on every pass.
		return
	}

	targetPlaylists, err := targetClient.ListPlaylists(ctx, targetUserID)
	if err != nil {
		logging.Warn().Err(err).Str("node", targetNode).Str("user", user.Username).
			Msg("playlist reconciliation: failed to list target playlists")
		return
	}

	targetByName := make(map[string]nodeclient.Playlist, len(targetPlaylists))
	for _, p := range targetPlaylists {
		targetByName[strings.ToLower(p.Name)] = p
	}

	for _, sp := range sourcePlaylists {
		tp, found := targetByName[strings.ToLower(sp.Name)]
		if !found {
			// Playlist creation is out of scope for the add-only pass;
			// the user must create it on the target once, then this
			// pass keeps its contents converging.
			continue
		}

		have := make(map[string]bool, len(tp.Items))
		for _, key := range tp.Items {
			have[key] = true
		}

		for _, key := range sp.Items {
			if have[key] {
				continue
			}
			w.addPlaylistItem(ctx, targetNode, targetUserID, sp.Name, key)
		}
	}
}

func (w *Worker) addPlaylistItem(ctx context.Context, targetNode, targetUserID, playlistName, lookupKey string) {
	targetClient, ok := w.clients[targetNode]
	if !ok {
		return
	}

	itemID, err := w.resolver.ResolveItem(ctx, targetNode, itemDescriptorFromLookupKey(lookupKey))
	if err != nil {
		// Item not yet present on the target; it will be picked up on
		// a later reconciliation pass once it is.
		return
	}

	if err := targetClient.AddToPlaylist(ctx, targetUserID, playlistName, itemID); err != nil {
		logging.Warn().Err(err).Str("node", targetNode).Str("playlist", playlistName).
			Msg("playlist reconciliation: failed to add item")
	}
}

// itemDescriptorFromLookupKey reverses models.ItemDescriptor.LookupKey:
// a "provider:value" prefix names which provider id to populate, else
// the whole key is treated as a path.
func itemDescriptorFromLookupKey(key string) models.ItemDescriptor {
	for _, provider := range []string{"imdb", "tmdb", "tvdb"} {
		prefix := provider + ":"
		if strings.HasPrefix(key, prefix) {
			value := strings.TrimPrefix(key, prefix)
			switch provider {
			case "imdb":
				return models.ItemDescriptor{ProviderImdb: value}
			case "tmdb":
				return models.ItemDescriptor{ProviderTmdb: value}
			default:
				return models.ItemDescriptor{ProviderTvdb: value}
			}
		}
	}
	return models.ItemDescriptor{Path: key}
}
