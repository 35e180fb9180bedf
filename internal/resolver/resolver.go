// https://github.com/relaysync/core

// Package resolver implements cross-node identity resolution: mapping a
// source node's user id to its counterpart on a target node, and
// mapping an item descriptor to a target node's remote item id. Both
// resolutions are backed by the Store's persistent mapping tables (L2)
// behind an in-process ristretto cache (L1).
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/nodeclient"
	"github.com/relaysync/core/internal/store"
)

// NodeClient is the subset of *nodeclient.Client the Resolver needs,
// narrowed so resolver_test.go can exercise resolution logic against a
// stub instead of an HTTP-backed client.
type NodeClient interface {
	ListUsers(ctx context.Context) ([]nodeclient.User, error)
	FindItemByPath(ctx context.Context, path string) (string, error)
	FindItemByProvider(ctx context.Context, provider, value string) (string, error)
}

// StoreBackend is the subset of *store.Store the Resolver depends on,
// narrowed so resolver_test.go can exercise resolution logic against an
// in-memory fake instead of a real DuckDB file.
type StoreBackend interface {
	GetUsernameByRemoteID(ctx context.Context, nodeName, remoteUserID string) (string, error)
	GetUserMapping(ctx context.Context, username, nodeName string) (models.UserMapping, error)
	PutUserMapping(ctx context.Context, m models.UserMapping) error
	GetItemCache(ctx context.Context, nodeName, lookupKey string) (models.ItemCacheEntry, error)
	PutItemCache(ctx context.Context, e models.ItemCacheEntry) error
}

// Resolver resolves cross-node user and item identities, caching
// positive results and never caching negative ones.
type Resolver struct {
	store   StoreBackend
	clients map[string]NodeClient
	l1      *l1Cache
}

// New builds a Resolver over the given Store and per-node clients. The
// clients map key is the node name as configured.
func New(s StoreBackend, clients map[string]NodeClient) (*Resolver, error) {
	l1, err := newL1Cache()
	if err != nil {
		return nil, fmt.Errorf("resolver: failed to build l1 cache: %w", err)
	}
	return &Resolver{store: s, clients: clients, l1: l1}, nil
}

// Close releases the Resolver's in-process cache.
func (r *Resolver) Close() {
	r.l1.close()
}

// ResolveUser maps a source node's user id to its username, and then to
// the matching remote user id on targetNode. Returns
// *NoMatchingUserError if targetNode has no user with that username.
func (r *Resolver) ResolveUser(ctx context.Context, sourceNode, sourceUserID, targetNode string) (username, targetRemoteID string, err error) {
	username, err = r.resolveSourceUsername(ctx, sourceNode, sourceUserID)
	if err != nil {
		return "", "", err
	}

	targetRemoteID, err = r.resolveTargetUserID(ctx, username, targetNode)
	if err != nil {
		return "", "", err
	}
	return username, targetRemoteID, nil
}

func (r *Resolver) resolveSourceUsername(ctx context.Context, sourceNode, sourceUserID string) (string, error) {
	cacheKey := remoteUserCacheKey(sourceNode, sourceUserID)
	if username, ok := r.l1.get(cacheKey); ok {
		return username, nil
	}

	username, err := r.store.GetUsernameByRemoteID(ctx, sourceNode, sourceUserID)
	if err == nil {
		r.l1.set(cacheKey, username)
		return username, nil
	}
	if !store.IsMiss(err) {
		return "", fmt.Errorf("resolver: lookup source username: %w", err)
	}

	client, ok := r.clients[sourceNode]
	if !ok {
		return "", fmt.Errorf("resolver: no node client configured for %q", sourceNode)
	}
	users, err := client.ListUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("resolver: list_users(%s): %w", sourceNode, err)
	}
	for _, u := range users {
		if u.RemoteID != sourceUserID {
			continue
		}
		if putErr := r.store.PutUserMapping(ctx, models.UserMapping{
			Username:     u.Username,
			NodeName:     sourceNode,
			RemoteUserID: u.RemoteID,
		}); putErr != nil {
			logging.Warn().Err(putErr).Str("node", sourceNode).Msg("failed to cache user mapping")
		}
		r.l1.set(cacheKey, u.Username)
		r.l1.set(userCacheKey(u.Username, sourceNode), u.RemoteID)
		return u.Username, nil
	}
	return "", &NoMatchingUserError{Username: sourceUserID, TargetNode: sourceNode}
}

func (r *Resolver) resolveTargetUserID(ctx context.Context, username, targetNode string) (string, error) {
	cacheKey := userCacheKey(username, targetNode)
	if remoteID, ok := r.l1.get(cacheKey); ok {
		return remoteID, nil
	}

	mapping, err := r.store.GetUserMapping(ctx, username, targetNode)
	if err == nil {
		r.l1.set(cacheKey, mapping.RemoteUserID)
		return mapping.RemoteUserID, nil
	}
	if !store.IsMiss(err) {
		return "", fmt.Errorf("resolver: lookup target user mapping: %w", err)
	}

	client, ok := r.clients[targetNode]
	if !ok {
		return "", fmt.Errorf("resolver: no node client configured for %q", targetNode)
	}
	users, err := client.ListUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("resolver: list_users(%s): %w", targetNode, err)
	}
	for _, u := range users {
		if !strings.EqualFold(u.Username, username) {
			continue
		}
		if putErr := r.store.PutUserMapping(ctx, models.UserMapping{
			Username:     username,
			NodeName:     targetNode,
			RemoteUserID: u.RemoteID,
		}); putErr != nil {
			logging.Warn().Err(putErr).Str("node", targetNode).Msg("failed to cache user mapping")
		}
		r.l1.set(cacheKey, u.RemoteID)
		r.l1.set(remoteUserCacheKey(targetNode, u.RemoteID), username)
		return u.RemoteID, nil
	}
	return "", &NoMatchingUserError{Username: username, TargetNode: targetNode}
}

// ResolveTargetUser maps a username directly to its remote user id on
// targetNode, skipping the source-side reverse lookup ResolveUser does
// when a caller already has the username (as the Sync Worker does, via
// models.EventIntent.SourceUser).
func (r *Resolver) ResolveTargetUser(ctx context.Context, username, targetNode string) (string, error) {
	return r.resolveTargetUserID(ctx, username, targetNode)
}

// ResolveItem maps an item descriptor to its remote item id on
// targetNode: path first, then provider ids in imdb, tmdb, tvdb order.
// Returns *ItemAbsentError if nothing matched. Negative results are
// never cached, since the item may appear on the target later.
func (r *Resolver) ResolveItem(ctx context.Context, targetNode string, item models.ItemDescriptor) (string, error) {
	client, ok := r.clients[targetNode]
	if !ok {
		return "", fmt.Errorf("resolver: no node client configured for %q", targetNode)
	}

	if item.Path != "" {
		if id, found, err := r.lookupOrFind(ctx, targetNode, item.Path, func() (string, error) {
			return client.FindItemByPath(ctx, item.Path)
		}); err != nil {
			return "", err
		} else if found {
			return id, nil
		}
	}

	for _, provider := range []struct {
		key   string
		value string
	}{
		{"imdb", item.ProviderImdb},
		{"tmdb", item.ProviderTmdb},
		{"tvdb", item.ProviderTvdb},
	} {
		if provider.value == "" {
			continue
		}
		lookupKey := provider.key + ":" + provider.value
		id, found, err := r.lookupOrFind(ctx, targetNode, lookupKey, func() (string, error) {
			return client.FindItemByProvider(ctx, provider.key, provider.value)
		})
		if err != nil {
			return "", err
		}
		if found {
			return id, nil
		}
	}

	return "", &ItemAbsentError{Path: item.Path}
}

// lookupOrFind checks the L1/L2 item cache for lookupKey on targetNode,
// and on a full miss or a stale L2 entry calls find to consult the node
// directly. A positive find result is cached at both layers; a negative
// one is returned as (_, false, nil) without being cached anywhere.
func (r *Resolver) lookupOrFind(ctx context.Context, targetNode, lookupKey string, find func() (string, error)) (string, bool, error) {
	cacheKey := itemCacheKey(targetNode, lookupKey)
	if id, ok := r.l1.get(cacheKey); ok {
		return id, true, nil
	}

	entry, err := r.store.GetItemCache(ctx, targetNode, lookupKey)
	if err == nil {
		if time.Since(entry.FetchedAt) < models.ItemCacheTTL {
			r.l1.set(cacheKey, entry.RemoteItemID)
			return entry.RemoteItemID, true, nil
		}
	} else if !store.IsMiss(err) {
		return "", false, fmt.Errorf("resolver: lookup item cache: %w", err)
	}

	id, err := find()
	if err != nil {
		var nf *nodeclient.NotFoundError
		if errors.As(err, &nf) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolver: find item on %q: %w", targetNode, err)
	}

	if putErr := r.store.PutItemCache(ctx, models.ItemCacheEntry{
		NodeName:     targetNode,
		LookupKey:    lookupKey,
		RemoteItemID: id,
	}); putErr != nil {
		logging.Warn().Err(putErr).Str("node", targetNode).Msg("failed to cache item resolution")
	}
	r.l1.set(cacheKey, id)
	return id, true, nil
}
