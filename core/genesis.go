// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package core

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/luxtensor/go-luxtensor/core/state"
	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrGenesisNoChainID    = errors.New("genesis: chain id must be non-zero")
	ErrGenesisDevAccounts  = errors.New("genesis: development accounts forbidden on production chain")
	ErrGenesisBadValidator = errors.New("genesis: invalid validator entry")
)

// devAccounts are the well-known pre-funded development keys. Their presence
// in a genesis file is rejected on the mainnet chain id.
var devAccounts = []common.Address{
	common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
	common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
	common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
}

// GenesisValidator is one initial validator entry.
type GenesisValidator struct {
	Address   common.Address `yaml:"address"`
	Stake     string         `yaml:"stake"`
	VrfPubkey string         `yaml:"vrf_pubkey,omitempty"`
}

// Genesis is the chain's initial configuration. Balances are decimal strings
// so YAML files stay precise beyond float range.
type Genesis struct {
	ChainID    uint64             `yaml:"chain_id"`
	Timestamp  uint64             `yaml:"timestamp"`
	Alloc      map[string]string  `yaml:"alloc"`
	Validators []GenesisValidator `yaml:"validators"`
	ExtraData  string             `yaml:"extra_data,omitempty"`
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var g Genesis
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the configuration before any state is initialised.
func (g *Genesis) Validate() error {
	if g.ChainID == 0 {
		return ErrGenesisNoChainID
	}
	for addrHex := range g.Alloc {
		if !common.IsHexAddress(addrHex) {
			return fmt.Errorf("genesis: bad alloc address %q", addrHex)
		}
	}
	if g.ChainID == params.MainnetChainID {
		for addrHex := range g.Alloc {
			addr := common.HexToAddress(addrHex)
			for _, dev := range devAccounts {
				if addr == dev {
					return fmt.Errorf("%w: %s", ErrGenesisDevAccounts, addr)
				}
			}
		}
	}
	for i, v := range g.Validators {
		if v.Address == (common.Address{}) {
			return fmt.Errorf("%w: entry %d has zero address", ErrGenesisBadValidator, i)
		}
		if _, err := parseAmount(v.Stake); err != nil {
			return fmt.Errorf("%w: entry %d stake %q: %v", ErrGenesisBadValidator, i, v.Stake, err)
		}
	}
	return nil
}

// DevGenesis returns a development configuration with the well-known
// pre-funded accounts. Its chain id never validates as mainnet.
func DevGenesis() *Genesis {
	alloc := make(map[string]string, len(devAccounts))
	for _, addr := range devAccounts {
		alloc[addr.Hex()] = "1000000000000000000000" // 1000 LUX
	}
	return &Genesis{
		ChainID: params.DevChainID,
		Alloc:   alloc,
	}
}

// ToState builds the genesis state from the configuration.
func (g *Genesis) ToState(hnswCfg *params.HnswConfig) (*state.StateDB, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	statedb := state.New(g.ChainID, hnswCfg)
	for addrHex, amount := range g.Alloc {
		value, err := parseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("genesis: alloc %s: %w", addrHex, err)
		}
		statedb.SetBalance(common.HexToAddress(addrHex), value)
	}
	log.Info("Genesis state initialised", "chainId", g.ChainID, "accounts", len(g.Alloc), "validators", len(g.Validators))
	return statedb, nil
}

// ToBlock builds the height-zero block committing to the genesis state.
func (g *Genesis) ToBlock(statedb *state.StateDB) *types.Block {
	header := &types.Header{
		Version:   types.HeaderVersion,
		Height:    0,
		Timestamp: g.Timestamp,
		StateRoot: statedb.Commit(),
		GasLimit:  params.DefaultFeeConfig().BlockGasLimit,
		ExtraData: []byte(g.ExtraData),
	}
	return types.NewBlock(header, nil)
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}
