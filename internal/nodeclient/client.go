// https://github.com/relaysync/core

// Package nodeclient is a capability wrapper over one remote node's
// management REST API: authenticate, list users, look up an item by
// path or provider id, apply user-data mutations, create/delete users,
// manage playlists, and report health. One instance per configured
// node, stateless.
package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/relaysync/core/internal/logging"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 30 * time.Second
)

// User is a node's remote user record.
type User struct {
	RemoteID string `json:"id"`
	Username string `json:"username"`
}

// ItemUserData is one user's state against one item, as reported by
// and applied to a node.
type ItemUserData struct {
	Played        bool       `json:"played"`
	PositionTicks int64      `json:"position_ticks"`
	Favorite      bool       `json:"favorite"`
	Rating        *float64   `json:"rating,omitempty"`
	LastPlayedAt  *time.Time `json:"last_played_at,omitempty"`
}

// Playlist is a node's playlist, identified by name, holding an
// ordered set of item lookup keys.
type Playlist struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

// Client wraps one node's REST API behind the capability set the
// Identity Resolver and Sync Worker consume, with a circuit breaker
// and rate limiter protecting outbound calls per node.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	limiter    *rate.Limiter
}

// Config holds the per-node dial settings New needs; it mirrors
// config.NodeConfig without importing the config package, keeping
// nodeclient usable from tests without pulling in koanf.
type Config struct {
	Name           string
	BaseURL        string
	APIKey         string
	RequestsPerSec float64
}

// New creates a Client for one node. RequestsPerSec<=0 disables rate
// limiting (suitable for tests against an in-process stub).
func New(cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("node", name).Str("from", from.String()).Str("to", to.String()).
					Msg("node client circuit breaker state change")
			},
			IsSuccessful: func(err error) bool {
				// NotFound/Permanent/Unauthorized are legitimate
				// application responses, not node unreachability;
				// only Transient failures should trip the breaker.
				if err == nil {
					return true
				}
				var nf *NotFoundError
				var perm *PermanentError
				var unauth *UnauthorizedError
				return errors.As(err, &nf) || errors.As(err, &perm) || errors.As(err, &unauth)
			},
		}),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Health checks node reachability, implementing
// supervisor.NodeHealthChecker so the Supervisor can probe it
// directly.
func (c *Client) Health(ctx context.Context) (bool, string, error) {
	body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, "", err
	}
	var info struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return true, "", nil
	}
	return true, info.Version, nil
}

// ListUsers returns every user known to the node.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	body, err := c.do(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, asPermanent(fmt.Errorf("decode users: %w", err))
	}
	return users, nil
}

// FindItemByPath looks up a remote item id by normalized file path, or
// returns a NotFoundError{Kind: item} if absent.
func (c *Client) FindItemByPath(ctx context.Context, path string) (string, error) {
	return c.findItem(ctx, "path", path)
}

// FindItemByProvider looks up a remote item id by external provider
// tuple (imdb, tmdb, or tvdb), or returns a NotFoundError{Kind: item}.
func (c *Client) FindItemByProvider(ctx context.Context, provider, value string) (string, error) {
	return c.findItem(ctx, provider, value)
}

func (c *Client) findItem(ctx context.Context, key, value string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/items?%s=%s", key, url.QueryEscape(value)), nil)
	if err != nil {
		if isHTTPNotFound(err) {
			return "", asNotFound(NotFoundItem)
		}
		return "", err
	}
	var result struct {
		RemoteID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", asPermanent(fmt.Errorf("decode item lookup: %w", err))
	}
	if result.RemoteID == "" {
		return "", asNotFound(NotFoundItem)
	}
	return result.RemoteID, nil
}

// GetUserItemData fetches one user's current state against one item.
func (c *Client) GetUserItemData(ctx context.Context, userID, itemID string) (ItemUserData, error) {
	var data ItemUserData
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/items/%s", userID, itemID), nil)
	if err != nil {
		if isHTTPNotFound(err) {
			return data, asNotFound(NotFoundItem)
		}
		return data, err
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return data, asPermanent(fmt.Errorf("decode item user data: %w", err))
	}
	return data, nil
}

// MarkPlayed marks an item played at the given time.
func (c *Client) MarkPlayed(ctx context.Context, userID, itemID string, at time.Time) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%s/items/%s/played", userID, itemID),
		struct {
			At time.Time `json:"at"`
		}{At: at})
	return err
}

// MarkUnplayed clears an item's played state.
func (c *Client) MarkUnplayed(ctx context.Context, userID, itemID string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%s/items/%s/played", userID, itemID), nil)
	return err
}

// SetFavorite sets or clears an item's favorite flag for a user.
func (c *Client) SetFavorite(ctx context.Context, userID, itemID string, favorite bool) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/%s/items/%s/favorite", userID, itemID),
		struct {
			Favorite bool `json:"favorite"`
		}{Favorite: favorite})
	return err
}

// SetRating sets a numeric rating, or clears it when rating is nil.
func (c *Client) SetRating(ctx context.Context, userID, itemID string, rating *float64) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/%s/items/%s/rating", userID, itemID),
		struct {
			Rating *float64 `json:"rating"`
		}{Rating: rating})
	return err
}

// SetProgress sets playback position for a user/item pair.
func (c *Client) SetProgress(ctx context.Context, userID, itemID string, positionTicks int64) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/%s/items/%s/progress", userID, itemID),
		struct {
			PositionTicks int64 `json:"position_ticks"`
		}{PositionTicks: positionTicks})
	return err
}

// CreateUser creates a user on the node. password is ignored for
// passwordless nodes.
func (c *Client) CreateUser(ctx context.Context, username, password string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/users", struct {
		Username string `json:"username"`
		Password string `json:"password,omitempty"`
	}{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	var created User
	if err := json.Unmarshal(body, &created); err != nil {
		return "", asPermanent(fmt.Errorf("decode created user: %w", err))
	}
	return created.RemoteID, nil
}

// DeleteUser removes a user from the node.
func (c *Client) DeleteUser(ctx context.Context, remoteID string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%s", remoteID), nil)
	if isHTTPNotFound(err) {
		return asNotFound(NotFoundUser)
	}
	return err
}

// ListPlaylists returns every playlist owned by a user.
func (c *Client) ListPlaylists(ctx context.Context, userID string) ([]Playlist, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/playlists", userID), nil)
	if err != nil {
		return nil, err
	}
	var playlists []Playlist
	if err := json.Unmarshal(body, &playlists); err != nil {
		return nil, asPermanent(fmt.Errorf("decode playlists: %w", err))
	}
	return playlists, nil
}

// AddToPlaylist appends an item to a named playlist, creating it if
// absent.
func (c *Client) AddToPlaylist(ctx context.Context, userID, playlistName, itemID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%s/playlists/%s/items", userID, playlistName),
		struct {
			ItemID string `json:"item_id"`
		}{ItemID: itemID})
	return err
}

// RemoveFromPlaylist removes an item from a named playlist.
func (c *Client) RemoveFromPlaylist(ctx context.Context, userID, playlistName, itemID string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/users/%s/playlists/%s/items/%s", userID, playlistName, itemID), nil)
	return err
}
