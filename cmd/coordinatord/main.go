// coordinatord is the entrypoint for the rollup coordinator daemon.
// Its flag/app shape is grounded on cmd/kcn/main.go in the teacher
// (gopkg.in/urfave/cli.v1's cli.NewApp, a flag list, and an app.Action
// that wires config into a long-running service) scaled down to the
// handful of knobs spec.md §6 actually defines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/zkrollup/coordinatord/coordinator"
	"github.com/zkrollup/coordinatord/coordinator/auditlog"
	"github.com/zkrollup/coordinatord/coordinator/bridgeabi"
	"github.com/zkrollup/coordinatord/coordinator/config"
	"github.com/zkrollup/coordinatord/coordinator/eventbus"
	"github.com/zkrollup/coordinatord/coordinator/finalize"
	"github.com/zkrollup/coordinatord/coordinator/journal"
	"github.com/zkrollup/coordinatord/coordinator/l1sync"
	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/mine"
	"github.com/zkrollup/coordinatord/coordinator/proofcache"
	"github.com/zkrollup/coordinatord/coordinator/prover"
	"github.com/zkrollup/coordinatord/coordinator/rpcclient"
	"github.com/zkrollup/coordinatord/coordinator/state"
	"github.com/zkrollup/coordinatord/coordinator/submit"
	"github.com/zkrollup/coordinatord/coordinator/txmgr"
)

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to an optional coordinator.toml overlay",
}

func main() {
	app := cli.NewApp()
	app.Name = "coordinatord"
	app.Usage = "rollup coordinator: syncs L1 bridge events, mines L2 blocks, and submits/finalizes them back to L1"
	app.Flags = []cli.Flag{configFileFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if path := ctx.String(configFileFlag.Name); path != "" {
		fc, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		cfg.ApplyFile(fc)
	}

	background := context.Background()

	leader, err := rpcclient.Dial(background, cfg.LeaderNode, rpcclient.ControlPlaneTimeout)
	if err != nil {
		return err
	}
	defer leader.Close()

	l1, err := rpcclient.Dial(background, cfg.L1Node, rpcclient.ControlPlaneTimeout)
	if err != nil {
		return err
	}
	defer l1.Close()

	l1Priv, err := crypto.HexToECDSA(cfg.L1PrivHex)
	if err != nil {
		return fmt.Errorf("coordinatord: parse L1_PRIV: %w", err)
	}
	l2Priv, err := crypto.HexToECDSA(cfg.L2PrivHex)
	if err != nil {
		return fmt.Errorf("coordinatord: parse L2_PRIV: %w", err)
	}

	l1Signer, err := txmgr.NewSigner(background, l1, l1Priv)
	if err != nil {
		return err
	}
	l2Signer, err := txmgr.NewSigner(background, leader, l2Priv)
	if err != nil {
		return err
	}

	registry, err := bridgeabi.New()
	if err != nil {
		return err
	}

	var genesis struct {
		Hash common.Hash `json:"hash"`
	}
	if err := leader.Call(background, &genesis, "eth_getBlockByNumber", "0x0", false); err != nil {
		return fmt.Errorf("coordinatord: fetch L2 genesis: %w", err)
	}

	st, err := state.Bootstrap(&state.Config{
		LeaderNode:   cfg.LeaderNode,
		L1Node:       cfg.L1Node,
		L1BridgeAddr: cfg.L1Bridge,
		MaxPending:   cfg.MaxPendingProofs,
	}, genesis.Hash)
	if err != nil {
		return err
	}

	cache, err := proofcache.New(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("coordinatord: proofcache: %w", err)
	}
	defer cache.Close()

	audit, err := auditlog.Open(cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("coordinatord: auditlog: %w", err)
	}
	defer audit.Close()

	var bus *eventbus.Bus
	if cfg.KafkaBrokers != "" {
		bus, err = eventbus.New([]string{cfg.KafkaBrokers}, "coordinator.events")
		if err != nil {
			sugar.Warnw("eventbus disabled", "error", err)
			bus = nil
		}
	}
	defer bus.Close()

	m := metrics.New()

	syncer := l1sync.New(l1, leader, registry, cfg.L1Bridge)
	syncer.Metrics = m
	if cfg.JournalPath != "" {
		syncer.Journal = journal.Open(cfg.JournalPath)
	}
	miner := mine.New(leader, l2Signer)
	miner.Metrics = m
	submitter := submit.New(leader, l1, l1Signer, registry, cfg.L1Bridge)
	submitter.Metrics = m
	proverDriver := prover.NewSubprocessDriver(cfg.ProverCommand)
	finalizer := finalize.New(leader, l1, l1Signer, registry, cfg.L1Bridge, proverDriver, cache, audit, bus)
	finalizer.Metrics = m

	var influx *metrics.InfluxSink
	if cfg.InfluxAddr != "" {
		influx, err = metrics.NewInfluxSink(cfg.InfluxAddr, "coordinator", "", "")
		if err != nil {
			sugar.Warnw("influxdb sink disabled", "error", err)
			influx = nil
		}
	}
	defer influx.Close()

	d := coordinator.New(st, syncer, miner, submitter, finalizer, m, bus, cfg.TickInterval)
	d.Influx = influx

	runCtx, cancel := context.WithCancel(background)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sugar.Info("shutdown signal received")
		cancel()
	}()

	go func() {
		if err := m.Serve(runCtx, cfg.MetricsAddr); err != nil {
			sugar.Errorw("metrics server stopped", "error", err)
		}
	}()

	if err := d.Run(runCtx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
