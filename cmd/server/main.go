// swarmdb node: an embedded columnar engine, a Raft control plane for
// linearizable cluster facts, a gossiped catalog of table placement, and
// the process-wide query scheduler that federates SQL across the cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumadb/swarmdb/pkg/api"
	"github.com/lumadb/swarmdb/pkg/catalog"
	"github.com/lumadb/swarmdb/pkg/cluster"
	"github.com/lumadb/swarmdb/pkg/config"
	"github.com/lumadb/swarmdb/pkg/engine"
	"github.com/lumadb/swarmdb/pkg/membership"
	"github.com/lumadb/swarmdb/pkg/rpc"
	"github.com/lumadb/swarmdb/pkg/scheduler"
	"github.com/lumadb/swarmdb/pkg/shuffle"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	nodeID := flag.String("node-id", "", "Node ID")
	httpAddr := flag.String("http-addr", ":8080", "HTTP API address")
	grpcAddr := flag.String("grpc-addr", ":9090", "gRPC columnar RPC address")
	raftAddr := flag.String("raft-addr", ":10000", "Raft address")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	join := flag.String("join", "", "Existing cluster node's Raft address to join")
	seedEndpoint := flag.String("seed", "", "A peer's HTTP address to seed gossip from")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
	}

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if cfg.NodeID == "" {
		hostname, _ := os.Hostname()
		cfg.NodeID = fmt.Sprintf("node-%s-%d", hostname, time.Now().Unix())
	}
	cfg.HTTPAddr = *httpAddr
	cfg.GRPCAddr = *grpcAddr
	cfg.RaftAddr = *raftAddr
	cfg.DataDir = *dataDir

	logger.Info("starting swarmdb node",
		zap.String("node_id", cfg.NodeID),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("raft_addr", cfg.RaftAddr),
	)

	eng, err := engine.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to open embedded engine", zap.Error(err))
	}
	defer eng.Close()

	dir := membership.NewDirectory(cfg.NodeID, cfg.NodeID, cfg.GRPCAddr)

	node, err := cluster.NewNode(cfg, logger, dir)
	if err != nil {
		logger.Fatal("failed to create cluster node", zap.Error(err))
	}

	if *join != "" {
		if err := node.Join(*join); err != nil {
			logger.Fatal("failed to join cluster", zap.Error(err))
		}
	} else {
		if err := node.Bootstrap(); err != nil {
			logger.Fatal("failed to bootstrap cluster", zap.Error(err))
		}
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat := catalog.New(cfg.NodeID, cfg.NodeID, cfg.GRPCAddr, eng, dir, logger)
	if err := cat.AdvertiseLocalTables(rootCtx); err != nil {
		logger.Warn("failed to advertise local tables at startup", zap.Error(err))
	}
	refresher := catalog.NewRefresher(cat, logger)
	refreshSeconds := cfg.CatalogRefreshInterval / 1000
	if refreshSeconds <= 0 {
		refreshSeconds = 30
	}
	if err := refresher.StartCatalogRefresh(rootCtx, refreshSeconds); err != nil {
		logger.Warn("failed to start catalog refresh", zap.Error(err))
	}
	defer refresher.StopCatalogRefresh()

	gossiper := membership.NewGossiper(dir, logger, time.Duration(refreshSeconds)*time.Second)
	if *seedEndpoint != "" {
		gossiper.Seed("", "", *seedEndpoint)
	}
	go gossiper.Run(rootCtx)

	rpcClient := rpc.NewClient()
	defer rpcClient.Close()

	// shuffleRegistry is shared between the scheduler (which drives
	// impersonated ShuffleWriters on behalf of remote peers) and the gRPC
	// server (whose DeliverShufflePartition/ExecuteJoinFragment handlers
	// are this node's receiving end of the same shuffles), so both ends
	// rendezvous in the same process-wide state.
	shuffleRegistry := shuffle.NewRegistry()

	sched := scheduler.New(cat, rpcClient, eng, logger, cfg.BroadcastRowThreshold, shuffleRegistry)
	if err := sched.StartScheduler(rootCtx, cfg.GRPCAddr); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.StopScheduler()

	apiServer := api.NewServer(node, dir, gossiper, sched, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Handler(),
	}
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&rpc.ServiceDesc, rpc.NewServer(eng, shuffleRegistry, logger))
	go func() {
		logger.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	node.Shutdown()

	logger.Info("shutdown complete")
}
