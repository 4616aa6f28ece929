// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package metrics exposes the observability collaborator: Prometheus
// collectors the core updates from its commit paths. Collection is pull
// based, so the core never blocks on an observer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the chain-level collectors.
type Metrics struct {
	HeadHeight      prometheus.Gauge
	FinalizedHeight prometheus.Gauge
	BaseFeeWei      prometheus.Gauge
	MempoolSize     prometheus.Gauge
	TotalBurnedWei  prometheus.Gauge
	ValidatorCount  prometheus.Gauge

	BlocksProduced prometheus.Counter
	BlocksImported prometheus.Counter
	BlocksRejected prometheus.Counter
	ReorgsTotal    prometheus.Counter
	TxsExecuted    prometheus.Counter
}

// New creates the collectors and registers them with the given registerer.
// Pass prometheus.DefaultRegisterer for the node, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HeadHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "head_height",
			Help: "Height of the canonical head block.",
		}),
		FinalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "finalized_height",
			Help: "Height of the latest finalized block.",
		}),
		BaseFeeWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luxtensor", Subsystem: "fees", Name: "base_fee_wei",
			Help: "Current EIP-1559 base fee in wei.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luxtensor", Subsystem: "txpool", Name: "pending",
			Help: "Number of pending transactions.",
		}),
		TotalBurnedWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luxtensor", Subsystem: "tokenomics", Name: "total_burned_wei",
			Help: "Cumulative burned amount across all categories.",
		}),
		ValidatorCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luxtensor", Subsystem: "consensus", Name: "active_validators",
			Help: "Number of active validators.",
		}),
		BlocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "blocks_produced_total",
			Help: "Blocks produced by this node.",
		}),
		BlocksImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "blocks_imported_total",
			Help: "Blocks accepted from peers.",
		}),
		BlocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "blocks_rejected_total",
			Help: "Blocks rejected during validation.",
		}),
		ReorgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "reorgs_total",
			Help: "Chain reorganisations applied.",
		}),
		TxsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luxtensor", Subsystem: "chain", Name: "txs_executed_total",
			Help: "Transactions executed in committed blocks.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.HeadHeight, m.FinalizedHeight, m.BaseFeeWei, m.MempoolSize,
			m.TotalBurnedWei, m.ValidatorCount,
			m.BlocksProduced, m.BlocksImported, m.BlocksRejected,
			m.ReorgsTotal, m.TxsExecuted,
		)
	}
	return m
}
