// https://github.com/relaysync/core

// Package supervisor provides Suture-based process supervision for relaysync.
// This file implements the NodeSupervisor for dynamic per-node health probing.
//
// Architecture:
//   - NodeSupervisor manages one health-probe service per configured node
//   - Services can be dynamically added, removed, and updated at runtime
//   - Each node gets its own Suture-supervised probe for fault isolation
//   - Probe results feed node readiness, consumed by GET /readyz
//
// Example Usage:
//
//	supervisor, err := NewNodeSupervisor(tree, cfg)
//	if err != nil {
//	    log.Fatal("Failed to create node supervisor:", err)
//	}
//
//	// Start probes for all configured nodes
//	if err := supervisor.StartAll(ctx, clients); err != nil {
//	    log.Error().Err(err).Msg("Some node probes failed to start")
//	}
//
//	// Add a node dynamically
//	if err := supervisor.AddNode(ctx, "lan", client); err != nil {
//	    log.Error().Err(err).Msg("Failed to add node")
//	}
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/metrics"
	"github.com/thejerf/suture/v4"
)

// Errors for NodeSupervisor.
var (
	ErrNodeAlreadyExists = errors.New("node already exists in supervisor")
	ErrNodeNotRunning    = errors.New("node probe is not running")
	ErrNilSupervisorTree = errors.New("supervisor tree cannot be nil")
	ErrNilNodeHealthFunc = errors.New("node health checker cannot be nil")
)

// NodeHealthChecker reports node reachability. Implemented by the node
// client used by the Identity Resolver and Sync Worker.
type NodeHealthChecker interface {
	Health(ctx context.Context) (reachable bool, version string, err error)
}

// NodeStatus represents the current health status of a probed node.
type NodeStatus struct {
	Name         string     `json:"name"`
	Reachable    bool       `json:"reachable"`
	Version      string     `json:"version,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LastCheckAt  *time.Time `json:"last_check_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	Unauthorized bool       `json:"unauthorized,omitempty"`
}

// managedNode holds metadata about a running health-probe service.
type managedNode struct {
	token     suture.ServiceToken
	probe     *nodeHealthProbe
	startedAt time.Time
}

// NodeSupervisor manages health-probe services for all configured nodes.
// It provides dynamic service lifecycle management with Suture supervision.
//
// Thread Safety:
//   - All operations are protected by a read-write mutex
//   - Nodes map is safe for concurrent access
//   - Individual probes handle their own internal concurrency
type NodeSupervisor struct {
	tree  *SupervisorTree
	nodes map[string]*managedNode // node name -> managed probe
	mu    sync.RWMutex

	probeInterval time.Duration
}

// NodeSupervisorConfig holds configuration for the node supervisor.
type NodeSupervisorConfig struct {
	// ProbeInterval is the time between health() calls per node.
	// Default: 30s
	ProbeInterval time.Duration
}

// DefaultNodeSupervisorConfig returns sensible defaults.
func DefaultNodeSupervisorConfig() NodeSupervisorConfig {
	return NodeSupervisorConfig{
		ProbeInterval: 30 * time.Second,
	}
}

// NewNodeSupervisor creates a new node supervisor.
//
// The tree is required; cfg.ProbeInterval defaults to 30s when zero.
func NewNodeSupervisor(tree *SupervisorTree, cfg NodeSupervisorConfig) (*NodeSupervisor, error) {
	if tree == nil {
		return nil, ErrNilSupervisorTree
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}

	return &NodeSupervisor{
		tree:          tree,
		nodes:         make(map[string]*managedNode),
		probeInterval: cfg.ProbeInterval,
	}, nil
}

// StartAll starts health probes for every node in the given map.
// This should be called during application startup after node clients
// have been constructed from configuration.
//
// Individual node failures are logged but don't prevent other nodes'
// probes from starting.
func (s *NodeSupervisor) StartAll(ctx context.Context, clients map[string]NodeHealthChecker) error {
	logging.Info().Int("count", len(clients)).Msg("Starting health probes for configured nodes")

	var startErrors []error
	for name, client := range clients {
		if err := s.AddNode(ctx, name, client); err != nil {
			logging.Warn().
				Str("node", name).
				Err(err).
				Msg("Failed to start node health probe")
			startErrors = append(startErrors, err)
		}
	}

	if len(startErrors) > 0 {
		return fmt.Errorf("failed to start %d node probes", len(startErrors))
	}

	logging.Info().Int("count", len(clients)).Msg("All node health probes started")
	return nil
}

// AddNode adds a new node to the supervisor and starts its health-probe
// service.
//
// If a node with the same name already exists, returns ErrNodeAlreadyExists.
// The probe is automatically restarted by Suture if it crashes.
func (s *NodeSupervisor) AddNode(ctx context.Context, name string, client NodeHealthChecker) error {
	if client == nil {
		return ErrNilNodeHealthFunc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[name]; exists {
		return ErrNodeAlreadyExists
	}

	probe := newNodeHealthProbe(name, client, s.probeInterval)
	token := s.tree.AddNodeService(probe)

	now := time.Now()
	s.nodes[name] = &managedNode{
		token:     token,
		probe:     probe,
		startedAt: now,
	}

	logging.Info().Str("node", name).Msg("Node health probe added to supervisor")

	return nil
}

// RemoveNode stops and removes a node's health-probe service.
//
// Returns ErrNodeNotRunning if the node is not currently managed. The
// removal is graceful - Suture waits for the probe to stop.
func (s *NodeSupervisor) RemoveNode(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	managed, exists := s.nodes[name]
	if !exists {
		return ErrNodeNotRunning
	}

	if err := s.tree.RemoveNodeService(managed.token); err != nil {
		return fmt.Errorf("failed to remove node probe from supervisor: %w", err)
	}

	delete(s.nodes, name)

	logging.Info().Str("node", name).Msg("Node health probe removed from supervisor")

	return nil
}

// GetNodeStatus returns the current health status of a probed node.
func (s *NodeSupervisor) GetNodeStatus(name string) (*NodeStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	managed, exists := s.nodes[name]
	if !exists {
		return nil, ErrNodeNotRunning
	}

	return managed.probe.status(name, managed.startedAt), nil
}

// GetAllNodeStatuses returns health status for all probed nodes.
func (s *NodeSupervisor) GetAllNodeStatuses() []NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]NodeStatus, 0, len(s.nodes))
	for name, managed := range s.nodes {
		statuses = append(statuses, *managed.probe.status(name, managed.startedAt))
	}

	return statuses
}

// MarkUnauthorized immediately degrades a node's readiness after the
// Worker observes an Unauthorized apply error, without waiting for the
// next probe tick.
func (s *NodeSupervisor) MarkUnauthorized(name string) error {
	s.mu.RLock()
	managed, exists := s.nodes[name]
	s.mu.RUnlock()
	if !exists {
		return ErrNodeNotRunning
	}
	managed.probe.markUnauthorized()
	return nil
}

// AnyReachable reports whether at least one probed node is currently
// reachable. The readiness endpoint is satisfied only when this is true.
func (s *NodeSupervisor) AnyReachable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.nodes) == 0 {
		return false
	}
	for _, managed := range s.nodes {
		if managed.probe.isReachable() {
			return true
		}
	}
	return false
}

// StopAll stops all managed node health probes.
// This should be called during application shutdown.
func (s *NodeSupervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopErrors []error
	for name, managed := range s.nodes {
		if err := s.tree.RemoveNodeService(managed.token); err != nil {
			logging.Warn().
				Str("node", name).
				Err(err).
				Msg("Failed to stop node health probe")
			stopErrors = append(stopErrors, err)
		}
	}

	s.nodes = make(map[string]*managedNode)

	if len(stopErrors) > 0 {
		return fmt.Errorf("failed to stop %d node probes", len(stopErrors))
	}

	logging.Info().Msg("All node health probes stopped")
	return nil
}

// nodeHealthProbe is a suture.Service that periodically calls Health() on
// a node client and records the result for readiness reporting.
type nodeHealthProbe struct {
	name     string
	client   NodeHealthChecker
	interval time.Duration

	mu           sync.RWMutex
	reachable    bool
	version      string
	lastError    string
	lastCheckAt  time.Time
	unauthorized bool
}

func newNodeHealthProbe(name string, client NodeHealthChecker, interval time.Duration) *nodeHealthProbe {
	return &nodeHealthProbe{
		name:     name,
		client:   client,
		interval: interval,
	}
}

// Serve implements suture.Service. It probes immediately, then on a
// fixed interval, until the context is cancelled.
func (p *nodeHealthProbe) Serve(ctx context.Context) error {
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

// String implements fmt.Stringer for logging.
func (p *nodeHealthProbe) String() string {
	return "node-probe-" + p.name
}

func (p *nodeHealthProbe) check(ctx context.Context) {
	reachable, version, err := p.client.Health(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastCheckAt = time.Now()
	p.reachable = reachable && err == nil
	p.version = version
	if err != nil {
		p.lastError = err.Error()
		logging.Warn().Str("node", p.name).Err(err).Msg("Node health probe failed")
	} else {
		p.lastError = ""
	}
	metrics.UpdateNodeHealth(p.name, p.reachable)
}

func (p *nodeHealthProbe) isReachable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reachable
}

// markUnauthorized records that the node rejected the configured api key.
// The worker calls this on an Unauthorized apply error to degrade the
// node's readiness immediately, without waiting for the next probe tick.
func (p *nodeHealthProbe) markUnauthorized() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unauthorized = true
	p.reachable = false
	metrics.UpdateNodeHealth(p.name, false)
}

func (p *nodeHealthProbe) status(name string, startedAt time.Time) *NodeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := &NodeStatus{
		Name:         name,
		Reachable:    p.reachable,
		Version:      p.version,
		LastError:    p.lastError,
		Unauthorized: p.unauthorized,
		StartedAt:    &startedAt,
	}
	if !p.lastCheckAt.IsZero() {
		t := p.lastCheckAt
		status.LastCheckAt = &t
	}
	return status
}
