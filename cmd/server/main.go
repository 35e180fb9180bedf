// https://github.com/relaysync/core

// Package main is the entry point for the relaysync server.
//
// relaysync keeps user state (watched/unwatched, favorites, ratings,
// playback progress) and accounts in sync across a fleet of
// independently-operated media-library nodes. One node's webhook
// notification fans out to an intent per other node; a cooperative
// Sync Worker applies each intent to its target once cross-node
// identity and item placement are resolved.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults/YAML/env via Koanf v2 (internal/config)
//  2. Store: the embedded DuckDB-backed event and mapping store
//  3. WAL: the BadgerDB pre-log ahead of the Store commit, plus crash
//     recovery replay for any entry left pending from a previous run
//  4. Per-node clients: one github.com/relaysync/core/internal/nodeclient.Client
//     per configured node, shared across identity resolution, the Sync
//     Worker, and health probing
//  5. Sync Worker and Node Supervisor: the cooperative apply loop and
//     its per-node health probes
//  6. HTTP server: the webhook route and the dashboard/operator API
//
// Every long-running component is registered with a Suture v4
// supervision tree (internal/supervisor) rather than managed by hand:
// a crashing goroutine restarts in place instead of taking the process
// down with it.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context, which the supervisor
// tree propagates to every registered service. The process waits for
// the tree's error channel to close before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaysync/core/internal/api"
	"github.com/relaysync/core/internal/config"
	"github.com/relaysync/core/internal/ingest"
	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/nodeclient"
	"github.com/relaysync/core/internal/policy"
	"github.com/relaysync/core/internal/resolver"
	"github.com/relaysync/core/internal/store"
	"github.com/relaysync/core/internal/supervisor"
	"github.com/relaysync/core/internal/supervisor/services"
	"github.com/relaysync/core/internal/wal"
	"github.com/relaysync/core/internal/worker"
)

// defaultNodeRequestsPerSec bounds outbound calls to one node's
// management API. config.NodeConfig carries no per-node rate, so every
// node gets the same conservative default; operators with a node that
// needs more headroom can raise this once it becomes configurable.
const defaultNodeRequestsPerSec = 10.0

// walRecoveryTimeout bounds the one-time replay of WAL entries left
// pending from a previous run, so a corrupted or very large backlog
// cannot hang startup indefinitely.
const walRecoveryTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("nodes", len(cfg.Servers)).
		Str("db_path", cfg.Database.Path).
		Msg("starting relaysync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	s, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing store")
		}
	}()

	w := openWAL(cfg)
	defer func() {
		if err := w.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing wal")
		}
	}()

	policyEngine := policy.New(cfg.PathSyncPolicy)

	resolverClients := make(map[string]resolver.NodeClient, len(cfg.Servers))
	workerClients := make(map[string]worker.NodeClient, len(cfg.Servers))
	healthClients := make(map[string]supervisor.NodeHealthChecker, len(cfg.Servers))
	for _, node := range cfg.Servers {
		client := nodeclient.New(nodeclient.Config{
			Name:           node.Name,
			BaseURL:        node.URL,
			APIKey:         node.APIKey,
			RequestsPerSec: defaultNodeRequestsPerSec,
		})
		resolverClients[node.Name] = client
		workerClients[node.Name] = client
		healthClients[node.Name] = client
	}

	res, err := resolver.New(s, resolverClients)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create identity resolver")
	}
	defer res.Close()

	ingestor := ingest.New(cfg, s, w, policyEngine)
	recoverWAL(ctx, w, ingestor)

	compactor := wal.NewCompactor(w)
	tree.AddDataService(services.NewWALCompactorService(compactor))

	hub := api.NewStreamHub()
	tree.AddAPIService(services.NewStreamHubService(hub))

	nodeSup, err := supervisor.NewNodeSupervisor(tree, supervisor.DefaultNodeSupervisorConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create node supervisor")
	}
	if err := nodeSup.StartAll(ctx, healthClients); err != nil {
		logging.Warn().Err(err).Msg("one or more node health probes failed to start")
	}

	syncWorker := worker.New(cfg, s, res, policyEngine, workerClients, nodeSup)
	syncWorker.SetOutcomeNotifier(hub)
	tree.AddNodeService(services.NewSyncWorkerService(syncWorker))

	jwtManager := api.NewJWTManager(cfg.Auth)
	startedAt := time.Now().UTC().Format(time.RFC3339)
	handler := api.NewHandler(cfg, ingestor, s, nodeSup, syncWorker, jwtManager, hub, startedAt)
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("http server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("relaysync stopped gracefully")
}

// openWAL loads the WAL's own configuration and opens it, aligning its
// data directory with the Store's configured WAL path so the two
// config systems don't drift apart.
func openWAL(cfg *config.Config) *wal.BadgerWAL {
	walCfg := wal.LoadConfig()
	if cfg.Database.WALPath != "" {
		walCfg.Path = cfg.Database.WALPath
	}
	if err := walCfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid wal configuration")
	}

	w, err := wal.Open(&walCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open wal")
	}
	return w
}

// recoverWAL replays any entry left pending from a previous run before
// the webhook route and Sync Worker start taking new traffic, so a
// crash between the WAL write and the Store commit never loses an
// event.
func recoverWAL(ctx context.Context, w *wal.BadgerWAL, ingestor *ingest.Ingestor) {
	recoveryCtx, recoveryCancel := context.WithTimeout(ctx, walRecoveryTimeout)
	defer recoveryCancel()

	result, err := w.RecoverPending(recoveryCtx, ingestor.Committer())
	if err != nil {
		logging.Error().Err(err).Msg("wal recovery failed")
		return
	}
	if result.TotalPending == 0 {
		return
	}
	logging.Info().
		Int("recovered", result.Recovered).
		Int("failed", result.Failed).
		Int("expired", result.Expired).
		Dur("duration", result.Duration).
		Msg("wal recovery complete")
}
