// Package config defines the simulation's configuration document shape
// (§6): the attribute tree of start/duration/step/timescale plus nested
// Agents, Exchange, Books, FeePolicy, and Balances/Logging nodes. Parsing
// itself (spec.md §1's Non-goals explicitly excludes XML/JSON config
// parsing) is a thin convenience loader only — every real deployment is
// expected to build a Config value directly or via its own tooling.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"fenrirsim/internal/decimal"
)

// Timescale selects the unit a Timestamp counts in.
type Timescale string

const (
	Seconds      Timescale = "s"
	Milliseconds Timescale = "ms"
	Microseconds Timescale = "us"
	Nanoseconds  Timescale = "ns"
)

// Config is the root configuration document (§6).
type Config struct {
	Start     int64     `json:"start"`
	Duration  int64     `json:"duration"`
	Step      int64     `json:"step"`
	Timescale Timescale `json:"timescale"`
	Seed      *int64    `json:"seed,omitempty"`
	Debug     bool      `json:"debug,omitempty"`

	Agents    []Agent      `json:"agents"`
	Exchange  Exchange     `json:"exchange"`
	Books     BooksConfig  `json:"books"`
	FeePolicy FeePolicy    `json:"feePolicy"`
	Balances  Balances     `json:"balances"`
	Logging   Logging      `json:"logging"`

	// ID/Current are patched by a checkpoint on resume (§6); zero on a
	// fresh start.
	ID      string `json:"id,omitempty"`
	Current int64  `json:"current,omitempty"`
}

// Agent describes one participant seeded into the AccountRegistry at
// startup. Its decision logic is out of scope (spec.md §1); Kind is only
// a label a driver program uses to pick which AgentSink implementation
// to attach.
type Agent struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Exchange mirrors clearing.Config's fields as configuration attributes,
// plus the seed price used to initialize a book before any orders arrive.
type Exchange struct {
	PriceDecimals     int32           `json:"priceDecimals"`
	VolumeDecimals    int32           `json:"volumeDecimals"`
	BaseDecimals      int32           `json:"baseDecimals"`
	QuoteDecimals     int32           `json:"quoteDecimals"`
	MaxLeverage       decimal.Decimal `json:"maxLeverage"`
	MaxLoan           decimal.Decimal `json:"maxLoan"`
	MaintenanceMargin decimal.Decimal `json:"maintenanceMargin"`
	InitialPrice      decimal.Decimal `json:"initialPrice"`
}

// BooksConfig describes the block's book shard.
type BooksConfig struct {
	InstanceCount int       `json:"instanceCount"`
	Algorithm     string    `json:"algorithm"` // always "PriceTime" in this implementation
	MaxDepth      int       `json:"maxDepth"`
	DetailedDepth int       `json:"detailedDepth"`
	Processes     []Process `json:"processes,omitempty"`
}

// Process names a stochastic trader-agent process attached to a book.
// RNG choice and the process's own decision logic are out of scope
// (spec.md §1); this only records which named process config to look up.
type Process struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// FeePolicy mirrors fee.Policy's construction inputs (§4.4).
type FeePolicy struct {
	Tiers     []FeeTier          `json:"tiers"`
	Overrides map[string]FeeTier `json:"overrides,omitempty"` // keyed by agent name
}

type FeeTier struct {
	VolumeRequired decimal.Decimal `json:"volumeRequired"`
	Maker          decimal.Decimal `json:"maker"`
	Taker          decimal.Decimal `json:"taker"`
}

// Balances configures each agent's starting Base/Quote holdings, either as
// a flat amount or via a named generator (e.g. "pareto", "pareto-50"). RNG
// choice for the generator itself is out of scope (spec.md §1) — Generator
// only records which named distribution a driver program should sample
// from.
type Balances struct {
	Base      *decimal.Decimal `json:"base,omitempty"`
	Quote     *decimal.Decimal `json:"quote,omitempty"`
	Generator string           `json:"generator,omitempty"`
}

// Logging configures the on-disk loggers (§6) — formatting/writing is out
// of scope (spec.md §1); this only records where a driver program's own
// logger implementations should point.
type Logging struct {
	StartDate string      `json:"startDate"`
	L2        *LogTarget  `json:"l2,omitempty"`
	L3        *LogTarget  `json:"l3,omitempty"`
	FeeLog    *LogTarget  `json:"feeLog,omitempty"`
	Replay    *LogTarget  `json:"replay,omitempty"`
}

type LogTarget struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// Load reads and decodes a Config document from path. This is the one
// concession to a stdlib-only implementation: config parsing itself is
// explicitly out of scope (spec.md §1), so there is no ecosystem config
// library to wire here — encoding/json only exists to let tests and small
// driver programs round-trip a Config without hand-building one.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, via a temp file renamed into
// place.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
