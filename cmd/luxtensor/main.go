// Copyright 2025 The go-luxtensor Authors
// This file is part of go-luxtensor.
//
// go-luxtensor is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-luxtensor is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-luxtensor. If not, see <http://www.gnu.org/licenses/>.

// luxtensor is the LuxTensor node: it assembles the consensus core, state
// machine, mempool and storage, and runs block production.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/luxtensor/go-luxtensor/consensus/pos"
	"github.com/luxtensor/go-luxtensor/core"
	"github.com/luxtensor/go-luxtensor/core/forkchoice"
	"github.com/luxtensor/go-luxtensor/core/txpool"
	"github.com/luxtensor/go-luxtensor/crypto/vrf"
	"github.com/luxtensor/go-luxtensor/internal/workpool"
	"github.com/luxtensor/go-luxtensor/metrics"
	"github.com/luxtensor/go-luxtensor/miner"
	"github.com/luxtensor/go-luxtensor/params"
	"github.com/luxtensor/go-luxtensor/storage"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for chain data and the mempool backup",
		Value: "./luxtensor-data",
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "Path to the genesis YAML file",
	}
	devFlag = &cli.BoolFlag{
		Name:  "dev",
		Usage: "Run a development chain with pre-funded accounts and no VRF requirement",
	}
	validatorKeyFlag = &cli.StringFlag{
		Name:  "validator.key",
		Usage: "Hex-encoded secp256k1 key for block sealing",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Prometheus listen address (empty disables)",
		Value: "",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Rotating log file (empty logs to stderr)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Log verbosity (0=error ... 4=debug)",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:  "luxtensor",
		Usage: "LuxTensor proof-of-stake node with an on-chain vector store",
		Flags: []cli.Flag{
			dataDirFlag, genesisFlag, devFlag, validatorKeyFlag,
			metricsAddrFlag, logFileFlag, verbosityFlag,
		},
		Action: runNode,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) {
	var out io.Writer = os.Stderr
	if path := ctx.String(logFileFlag.Name); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			Compress:   true,
		}
	}
	level := slog.LevelInfo
	switch ctx.Int(verbosityFlag.Name) {
	case 0:
		level = slog.LevelError
	case 1, 2:
		level = slog.LevelWarn
	case 3:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	gethlog.SetDefault(gethlog.NewLogger(gethlog.NewTerminalHandlerWithLevel(out, level, false)))
}

func runNode(ctx *cli.Context) error {
	setupLogging(ctx)
	dataDir := ctx.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// Genesis configuration.
	var (
		genesisCfg *core.Genesis
		err        error
	)
	switch {
	case ctx.Bool(devFlag.Name):
		genesisCfg = core.DevGenesis()
	case ctx.String(genesisFlag.Name) != "":
		genesisCfg, err = core.LoadGenesis(ctx.String(genesisFlag.Name))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("either --%s or --%s is required", genesisFlag.Name, devFlag.Name)
	}

	statedb, err := genesisCfg.ToState(params.DefaultHnswConfig())
	if err != nil {
		return err
	}
	genesisBlock := genesisCfg.ToBlock(statedb)

	// Consensus stack.
	consensusCfg := params.DefaultConsensusConfig()
	consensusCfg.GenesisTime = genesisCfg.Timestamp
	consensusCfg.RequireVRF = !ctx.Bool(devFlag.Name)

	set := pos.NewValidatorSet()
	for _, v := range genesisCfg.Validators {
		stake, ok := parseStake(v.Stake)
		if !ok {
			return fmt.Errorf("bad validator stake %q", v.Stake)
		}
		var vrfPub vrf.PublicKey
		if v.VrfPubkey != "" {
			raw, err := decodeHex(v.VrfPubkey, vrf.PublicKeySize)
			if err != nil {
				return fmt.Errorf("validator %s: %w", v.Address, err)
			}
			copy(vrfPub[:], raw)
		}
		if err := set.Add(pos.NewValidator(v.Address, stake, vrfPub)); err != nil {
			return fmt.Errorf("validator %s: %w", v.Address, err)
		}
	}
	rotation := pos.NewRotation(params.DefaultRotationConfig(), set)

	feeCfg := params.DefaultFeeConfig()
	engine := pos.New(consensusCfg, rotation,
		pos.NewFeeMarket(pos.FeeMarketConfig{
			BlockGasLimit:  feeCfg.BlockGasLimit,
			TargetGasUsed:  feeCfg.TargetGasUsed,
			InitialBaseFee: feeCfg.InitialBaseFee,
			ChangeDenom:    feeCfg.BaseFeeChangeDenom,
			MinBaseFee:     feeCfg.MinBaseFee,
			MaxBaseFee:     feeCfg.MaxBaseFee,
		}),
		pos.NewEmissionController(params.DefaultEmissionConfig()),
		pos.NewBurnManager(params.DefaultBurnConfig()),
	)

	store, err := storage.NewLevelStore(filepath.Join(dataDir, "chaindata"))
	if err != nil {
		return err
	}
	defer store.Close()

	fc := forkchoice.New(genesisBlock)
	resolver := forkchoice.NewResolver(params.DefaultForkConfig())
	guard := forkchoice.NewLongRangeProtection(params.DefaultCheckpointConfig(), genesisBlock.Hash())
	pool := txpool.New(params.DefaultTxPoolConfig())

	mempoolBackup := filepath.Join(dataDir, "mempool.bin")
	if loaded, err := pool.LoadFromFile(mempoolBackup); err != nil {
		gethlog.Warn("Mempool restore failed", "err", err)
	} else if loaded > 0 {
		gethlog.Info("Mempool restored", "transactions", loaded)
	}

	workerCfg := miner.Config{
		Engine:     engine,
		State:      statedb,
		Pool:       pool,
		ForkChoice: fc,
		Resolver:   resolver,
		Guard:      guard,
		Processor:  core.NewStateProcessor(genesisCfg.ChainID),
		Store:      store,
		Offload:    workpool.New(8, workpool.DefaultDeadline),
	}

	if keyHex := ctx.String(validatorKeyFlag.Name); keyHex != "" {
		key, err := gethcrypto.HexToECDSA(keyHex)
		if err != nil {
			return fmt.Errorf("bad validator key: %w", err)
		}
		vrfSk, vrfPk, err := vrf.GenerateKey()
		if err != nil {
			return err
		}
		addr := gethcrypto.PubkeyToAddress(key.PublicKey)
		engine.SetLocalValidator(addr, &vrfSk)
		workerCfg.SignKey = key
		gethlog.Info("Sealing enabled", "validator", addr, "vrfPubkey", fmt.Sprintf("%x", vrfPk[:8]))
	}

	if addr := ctx.String(metricsAddrFlag.Name); addr != "" {
		registry := prometheus.NewRegistry()
		workerCfg.Metrics = metrics.New(registry)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			gethlog.Info("Metrics server listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				gethlog.Error("Metrics server failed", "err", err)
			}
		}()
	}

	worker := miner.New(workerCfg)
	if workerCfg.SignKey != nil {
		worker.Start()
	} else {
		gethlog.Warn("No validator key configured, running as observer")
	}
	gethlog.Info("LuxTensor node started",
		"chainId", genesisCfg.ChainID,
		"genesis", genesisBlock.Hash(),
		"datadir", dataDir)

	// Block until interrupted, then shut down: stop sealing, persist the
	// mempool, close storage.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	gethlog.Info("Shutting down")

	worker.Stop()
	if saved, err := pool.SaveToFile(mempoolBackup); err != nil {
		gethlog.Error("Mempool save failed", "err", err)
	} else if saved > 0 {
		gethlog.Info("Mempool saved", "transactions", saved)
	}
	return nil
}

func parseStake(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func decodeHex(s string, wantLen int) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != wantLen {
		return nil, fmt.Errorf("want %d bytes, got %d", wantLen, len(raw))
	}
	return raw, nil
}
