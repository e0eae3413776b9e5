package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/chunking"
	"go.decentralis.dev/core/internal/chunkstore"
	"go.decentralis.dev/core/internal/clock"
	"go.decentralis.dev/core/internal/derrors"
	"go.decentralis.dev/core/internal/metrics"
	"go.decentralis.dev/core/internal/peerset"
	"go.decentralis.dev/core/internal/replication"
	"go.decentralis.dev/core/internal/rpcpeer"
	"go.decentralis.dev/core/internal/trackerclient"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "run the long-lived replication/RPC/tracker daemon",
	Run:   func(cmd *cobra.Command, args []string) { cmd.Usage() },
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "start the daemon in the foreground",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			die(exitUserErr, err)
		}
		if err := runDaemon(cfg); err != nil {
			die(exitInternal, err)
		}
	},
}

// runDaemon wires every long-lived collaborator together: the peer
// RPC server (accepting get_chunk/store_chunk/delete_chunk), the
// tracker client's keepalive loop (feeding peerset.Set), the chunking
// manager's background tasks, the replication manager's sweeps, and
// the status/metrics HTTP server. It blocks until SIGINT (os.Interrupt).
func runDaemon(cfg config) error {
	log := newLogger(debug || cfg.debug)

	db, err := chunkdb.Open(cfg.dbPath())
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := chunkstore.New(cfg.dataDir)
	if err != nil {
		return err
	}
	selfID, err := loadOrCreateSelfUUID(cfg.dataDir)
	if err != nil {
		return err
	}

	clk := clock.Wall{}
	peers := peerset.New(clk)
	rpcClient := rpcpeer.NewClient()

	peerLister := func() []peerset.Snapshot {
		return peers.Eligible(clk.Now(), 3*15*time.Second)
	}

	chunkMgr := chunking.New(cfg.chunkingConfig(), db, store, rpcClient, peerLister, clk, log.WithField("component", "chunking"), selfID)
	replMgr := replication.New(db, store, rpcClient, peerLister, clk, log.WithField("component", "replication"), selfID)

	rpcServer := newPeerRPCServer(cfg.rpcAddr, db, store, log.WithField("component", "rpcpeer"))
	rpcBound, err := rpcServer.Listen()
	if err != nil {
		return err
	}
	go func() {
		if err := rpcServer.Serve(); err != nil {
			log.WithError(err).Error("rpc server stopped")
		}
	}()
	defer rpcServer.Close()

	tracker := trackerclient.New(cfg.trackerAddr, log.WithField("component", "trackerclient"))
	tracker.SetUUID(selfID)
	rpcHost, rpcPort, err := rpcSelfAddr(rpcBound)
	if err != nil {
		return err
	}
	if _, err := tracker.Announce(rpcHost, rpcPort); err != nil {
		log.WithError(err).Warn("initial tracker announce failed; keepalive will retry")
	}
	tracker.StartKeepalive(rpcHost, rpcPort, func(records []trackerclient.PeerRecord) {
		now := clk.Now()
		for _, r := range records {
			if r.UUID == selfID {
				continue
			}
			peers.Upsert(r.UUID, r.IP, r.Port)
			db.PutPeer(chunkdb.Peer{PeerUUID: r.UUID, IP: r.IP, Port: r.Port, FirstSeen: now, LastSeen: now})
		}
	})
	defer tracker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replMgr.StartSweeps(ctx, time.Minute, time.Hour)
	if err := chunkMgr.StartBackgroundTasks(ctx, cfg.containerPath(), nil); err != nil {
		log.WithError(err).Warn("container auto-sync watch failed to start")
	}
	chunkMgr.RestoreContainerOnStart(cfg.containerPath())

	m := metrics.New()
	statusProvider := chunkStatusAdapter{mgr: chunkMgr, self: selfID}
	peerCounter := func() int { return len(peers.All()) }
	metricsServer := metrics.NewServer(cfg.statusAddr, m, statusProvider, db, peerCounter, selfID, log.WithField("component", "metrics"))
	if _, err := metricsServer.Listen(); err != nil {
		return err
	}
	go func() {
		if err := metricsServer.Serve(); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	defer metricsServer.Close()

	log.WithFields(map[string]interface{}{
		"rpc_addr":     cfg.rpcAddr,
		"status_addr":  cfg.statusAddr,
		"tracker_addr": cfg.trackerAddr,
		"self":         selfID,
	}).Info("decentralisd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	<-sigCh
	log.Info("shutdown signal received")

	return chunkMgr.Shutdown()
}

// rpcSelfAddr resolves the host/port this node advertises to the
// tracker from the listener's actual bound address (covering a
// configured port of 0 or a bare ":port" form), substituting loopback
// for an unspecified bind host; an operator behind NAT overrides the
// advertised host via DECENTRALIS_RPC_ADDR itself.
func rpcSelfAddr(bound net.Addr) (string, int, error) {
	host, portStr, err := net.SplitHostPort(bound.String())
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
