// https://github.com/relaysync/core

package services

import (
	"context"
)

// ContextHub matches *api.StreamHub's RunWithContext method.
//
// This interface allows StreamHubService to work with the dashboard's
// event hub without importing internal/api, avoiding a dependency from
// the supervisor package back into the HTTP layer it supervises.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// StreamHubService wraps the dashboard's live event hub as a supervised
// service.
//
// RunWithContext already implements the suture.Service pattern, so this
// wrapper only delegates and supplies a name for logging.
//
// Example usage:
//
//	hub := api.NewStreamHub()
//	svc := services.NewStreamHubService(hub)
//	tree.AddAPIService(svc)
type StreamHubService struct {
	hub  ContextHub
	name string
}

// NewStreamHubService creates a new stream hub service wrapper.
func NewStreamHubService(hub ContextHub) *StreamHubService {
	return &StreamHubService{
		hub:  hub,
		name: "dashboard-stream-hub",
	}
}

// Serve implements suture.Service.
func (s *StreamHubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for logging.
func (s *StreamHubService) String() string {
	return s.name
}
