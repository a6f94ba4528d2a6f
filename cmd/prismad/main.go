// Command prismad starts a Prisma node.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prisma-node/prisma/checkpoint"
	"github.com/prisma-node/prisma/config"
	"github.com/prisma-node/prisma/events"
	"github.com/prisma-node/prisma/gossip"
	"github.com/prisma-node/prisma/hashgraph"
	"github.com/prisma-node/prisma/indexer"
	"github.com/prisma-node/prisma/metrics"
	"github.com/prisma-node/prisma/rpc"
	"github.com/prisma-node/prisma/store"
	"github.com/prisma-node/prisma/txn"
	"github.com/prisma-node/prisma/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "node.key", "path to keystore file")
	genesisPath := flag.String("genesis", "genesis.json", "path to genesis file")
	genKey := flag.Bool("genkey", false, "generate a new node key and exit")
	flag.Parse()

	log := slog.Default().With("component", "main")

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("PRISMA_PASSWORD")

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}
	if password == "" && cfg.Developer.DeveloperMode {
		password = cfg.Developer.WalletPassword
	}
	if password == "" {
		log.Warn("PRISMA_PASSWORD not set, keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Error("generate key", "err", err)
			os.Exit(1)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Error("save key", "err", err)
			os.Exit(1)
		}
		fmt.Printf("Generated key. Address: %s\n", w.Address())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- load node key ----
	priv, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Error("load key", "err", err)
		os.Exit(1)
	}
	self := wallet.FromKey(priv)

	// ---- open store ----
	if err := os.MkdirAll(cfg.General.Database, 0755); err != nil {
		log.Error("mkdir data dir", "err", err)
		os.Exit(1)
	}
	kv, err := store.NewLevelDB(cfg.General.Database + "/" + cfg.General.Network)
	if err != nil {
		log.Error("open db", "err", err)
		os.Exit(1)
	}
	defer kv.Close()
	st := store.New(kv)

	// ---- genesis ----
	genesis, err := config.LoadGenesis(*genesisPath)
	if err != nil {
		log.Error("genesis", "err", err)
		os.Exit(1)
	}

	// ---- events + metrics ----
	emitter := events.NewEmitter()
	registry := prometheus.NewRegistry()
	mtr, err := metrics.New(registry)
	if err != nil {
		log.Error("metrics", "err", err)
		os.Exit(1)
	}
	mtr.Observe(emitter)

	// ---- consensus engine + checkpoint manager ----
	engine := hashgraph.New(st, priv, cfg.General.TotalStake)
	mgr, err := checkpoint.New(st, engine, priv, emitter, genesis.Round, genesis.State.Balance)
	if err != nil {
		log.Error("checkpoint init", "err", err)
		os.Exit(1)
	}

	// ---- transaction plumbing ----
	pool := txn.NewPool()
	router := txn.NewRouter(mgr, mgr)

	// ---- indexer ----
	idx := indexer.New(st, emitter)

	// ---- gossip ----
	nodeID := self.Address()
	timeout := time.Duration(cfg.Network.Timeout) * time.Second
	node := gossip.NewNode(nodeID, "", cfg.Network.ListenPort, cfg.Network.ZlibLevel, timeout)
	syncer := gossip.NewSyncer(node, engine, mgr, router, pool, mgr, emitter)
	if err := node.Start(); err != nil {
		log.Error("gossip start", "err", err)
		os.Exit(1)
	}
	defer node.Stop()
	log.Info("gossip listening", "port", cfg.Network.ListenPort)

	// ---- bootstrap + cold start ----
	if len(cfg.Bootstrap.BootstrapNodes) > 0 {
		node.Bootstrap(cfg.Bootstrap.BootstrapNodes, func(addr string) error {
			return syncer.RequestPeers(addr, nodeID, "", cfg.Network.ListenPort)
		})
		if err := syncer.ColdStart(cfg.Bootstrap.BootstrapNodes); err != nil {
			log.Warn("cold start", "err", err)
		}
	}
	if err := syncer.EnsureOwnRoot(); err != nil {
		log.Error("create root event", "err", err)
		os.Exit(1)
	}

	// ---- RPC + metrics endpoint ----
	rpcHandler := rpc.NewHandler(mgr, engine, mgr, node, idx)
	var metricsHandler http.Handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.API.ListenPort), rpcHandler, cfg.API.AuthToken, metricsHandler)
	if err := rpcServer.Start(); err != nil {
		log.Error("rpc start", "err", err)
		os.Exit(1)
	}
	defer rpcServer.Stop()
	log.Info("rpc listening", "port", cfg.API.ListenPort)

	// ---- sync loop ----
	ctx, cancel := context.WithCancel(context.Background())
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		syncer.Run(ctx, nodeID, "", cfg.Network.ListenPort,
			time.Duration(cfg.Network.GetPeersTimer)*time.Second,
			time.Duration(cfg.Network.GetEventsTimer)*time.Second)
	}()
	log.Info("node running", "address", nodeID, "network", cfg.General.Network)

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	// Stop the sync loop first so nothing mutates the store mid-close.
	cancel()
	<-syncDone

	// Deferred calls run in LIFO: rpcServer.Stop → node.Stop → kv.Close
	log.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
