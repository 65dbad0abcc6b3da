package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/audit"
	"github.com/openendpoint/replicator/internal/cluster"
	"github.com/openendpoint/replicator/internal/config"
	"github.com/openendpoint/replicator/internal/metrics"
	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/internal/repairqueue"
	"github.com/openendpoint/replicator/internal/storage"
	"github.com/openendpoint/replicator/internal/transport"
)

func newServeCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the replicator node",
		RunE:  runServe,
	}

	flags := cmd.Flags()
	flags.String("node-id", "", "unique cluster node id (required unless --standalone)")
	flags.String("bind-addr", defaults.Cluster.BindAddr, "gossip membership bind address")
	flags.Int("bind-port", defaults.Cluster.BindPort, "gossip membership bind port")
	flags.StringSlice("join", nil, "seed addresses (host:port) to join on startup")
	flags.String("http-host", defaults.Server.Host, "cluster-facing HTTP listen host")
	flags.Int("http-port", defaults.Server.Port, "cluster-facing HTTP listen port")
	flags.String("data-dir", defaults.Storage.DataDir, "directory for the object store")
	flags.Int("replication-factor", defaults.Cluster.ReplicationFactor, "default replication factor")
	flags.String("secret", defaults.Auth.SecretKey, "shared cluster secret (validated; not sent on the internal replicate routes)")
	flags.Bool("standalone", false, "skip gossip membership; replicate only to this node")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	v := viper.New()
	if err := v.BindPFlag("cluster.node_id", flags.Lookup("node-id")); err != nil {
		return err
	}
	if err := v.BindPFlag("cluster.bind_addr", flags.Lookup("bind-addr")); err != nil {
		return err
	}
	if err := v.BindPFlag("cluster.bind_port", flags.Lookup("bind-port")); err != nil {
		return err
	}
	if err := v.BindPFlag("cluster.join_peers", flags.Lookup("join")); err != nil {
		return err
	}
	if err := v.BindPFlag("server.host", flags.Lookup("http-host")); err != nil {
		return err
	}
	if err := v.BindPFlag("server.port", flags.Lookup("http-port")); err != nil {
		return err
	}
	if err := v.BindPFlag("storage.data_dir", flags.Lookup("data-dir")); err != nil {
		return err
	}
	if err := v.BindPFlag("cluster.replication_factor", flags.Lookup("replication-factor")); err != nil {
		return err
	}
	if err := v.BindPFlag("auth.secret_key", flags.Lookup("secret")); err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if configPath, _ := cmd.Root().PersistentFlags().GetString("config"); configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	standalone, _ := flags.GetBool("standalone")
	cfg.Cluster.Enabled = !standalone
	cfg.Cluster.CallbackBase = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Cluster.Enabled && cfg.Cluster.NodeID == "" {
		return fmt.Errorf("--node-id is required unless --standalone")
	}

	logger, err := metrics.NewLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	return run(cmd.Context(), cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	defer store.Close()
	pooled := storage.NewPooledStore(store, storage.PoolConfig{MaxConcurrent: cfg.Storage.MaxConcurrent})

	trail, err := audit.New(cfg.Logging.AuditPath, cfg.Logging.AuditMaxBytes)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer trail.Close()

	repair, err := repairqueue.New(cfg.RepairQueue.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open repair queue: %w", err)
	}
	defer repair.Close()
	repair.WithAuditTrail(trail)

	registry := transport.NewRegistry()
	httpTransport := transport.NewHTTPTransport(2 * time.Second)
	handler := transport.NewHandler(pooled, registry, cfg.Cluster.NodeID, logger)

	replicator := cluster.NewReplicator(pooled, httpTransport, registry, repair, cfg.Cluster.NodeID,
		cfg.Cluster.CallbackBase, time.Duration(cfg.Cluster.RequestTimeoutMS)*time.Millisecond, logger).
		WithAuditTrail(trail)

	var redundancy *cluster.RedundancyMap
	var membership *cluster.Membership
	if cfg.Cluster.Enabled {
		membership, err = cluster.NewMembership(cfg.Cluster.NodeID, cfg.Cluster.BindAddr, cfg.Cluster.BindPort, cfg.Cluster.JoinPeers, logger)
		if err != nil {
			return fmt.Errorf("start cluster membership: %w", err)
		}
		defer func() {
			membership.Leave(5 * time.Second)
			membership.Shutdown()
		}()
		redundancy = cluster.NewRedundancyMap(membership)
	}

	drainCtx, cancelDrain := context.WithCancel(ctx)
	defer cancelDrain()
	policy := cfg.Throttle.ToPolicy()
	go repairqueue.RunDrainLoop(drainCtx, repair, object.ErrReplicate, policy, reconcileBatch(replicator, redundancy, cfg, logger), logger)
	go repairqueue.RunDrainLoop(drainCtx, repair, object.ErrDelete, policy, reconcileBatch(replicator, redundancy, cfg, logger), logger)

	router := chi.NewRouter()
	handler.Routes(router)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	router.Mount("/v1/objects/", newObjectAPI(replicator, redundancy, cfg, logger))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("replicator node listening",
			zap.String("addr", srv.Addr),
			zap.String("node_id", cfg.Cluster.NodeID),
			zap.Bool("cluster_enabled", cfg.Cluster.Enabled))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reconcileBatch is the repair queue's drain handler. Re-writing the
// object itself from a surviving replica needs bytes this node's
// read-less store contract (spec.md §6, no Get/List) cannot furnish, so
// this handler only re-resolves each entry's partition against current
// membership — enough to confirm whether the replica that failed is
// reachable again. It does not perform or re-drive the write, so every
// popped entry is logged rather than silently treated as repaired: once
// Drain has removed an entry from the durable queue, this is the last
// record of it.
func reconcileBatch(replicator *cluster.Replicator, redundancy *cluster.RedundancyMap, cfg *config.Config, logger *zap.Logger) repairqueue.Handler {
	return func(ctx context.Context, entries []repairqueue.Entry) error {
		if redundancy == nil {
			logger.Warn("repair batch dropped: no redundancy map in standalone mode",
				zap.Int("count", len(entries)))
			return nil
		}
		for _, e := range entries {
			targets := redundancy.Targets(e.PartitionID, cfg.Cluster.ReplicationFactor)
			logger.Warn("repair entry popped without re-driving the write",
				zap.String("kind", string(e.Kind)),
				zap.Int64("partition_id", e.PartitionID),
				zap.ByteString("key", e.Key),
				zap.Int("resolved_targets", len(targets)))
		}
		return nil
	}
}
