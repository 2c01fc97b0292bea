// Command fenrirsim is the simulator's CLI entrypoint (§6): exactly one of
// --config-file or --checkpoint-file starts a run. A checkpoint contributes
// only its stored configuration (with its patched current time); its
// orders, counters, L3 record and fee windows are not restored. Grounded in
// the teacher's cmd/main.go (signal-context-driven startup of a server +
// engine pair), generalized from "start a TCP server" to "start or resume
// a SimulationManager" since online/remote transport is out of scope
// (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrirsim/internal/account"
	"fenrirsim/internal/checkpoint"
	"fenrirsim/internal/clearing"
	"fenrirsim/internal/config"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/exchange"
	"fenrirsim/internal/fee"
	"fenrirsim/internal/record"
	"fenrirsim/internal/scheduler"
	"fenrirsim/internal/simulation"
	"fenrirsim/internal/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config-file", "", "path to a fresh simulation config document")
	checkpointFile := flag.String("checkpoint-file", "", "path to a checkpoint document to resume from")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if (*configFile == "") == (*checkpointFile == "") {
		fmt.Fprintln(os.Stderr, "fenrirsim: exactly one of --config-file or --checkpoint-file is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var cfg config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		var doc checkpoint.Document
		dir, name := filepath.Dir(*checkpointFile), strings.TrimSuffix(filepath.Base(*checkpointFile), ".json")
		doc, err = checkpoint.NewFileStore(dir).Load(name)
		if err == nil {
			cfg = doc.Config
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("fenrirsim: failed to load configuration")
		return 1
	}

	mgr, err := buildManager(cfg)
	if err != nil {
		log.Error().Err(err).Msg("fenrirsim: failed to build simulation manager")
		return 1
	}

	steps := uint64(0)
	if cfg.Step > 0 {
		steps = uint64((cfg.Duration - cfg.Current) / cfg.Step)
	}

	for i := uint64(0); i < steps; i++ {
		select {
		case <-ctx.Done():
			log.Info().Msg("fenrirsim: received shutdown signal, stopping early")
			return 0
		default:
		}
		if err := mgr.Step(); err != nil {
			log.Error().Err(err).Msg("fenrirsim: simulation block failed")
			_ = mgr.Shutdown()
			return 1
		}
	}

	if err := mgr.Shutdown(); err != nil {
		log.Error().Err(err).Msg("fenrirsim: shutdown failed")
		return 1
	}
	log.Info().Msg("fenrirsim: simulation finished")
	return 0
}

// buildManager constructs a single-block SimulationManager from cfg. Agent
// decision-process wiring, remote publishing, and multi-block sharding are
// driver-program concerns layered on top of this minimal bring-up; this
// function only demonstrates that the package set composes.
func buildManager(cfg config.Config) (*simulation.Manager, error) {
	clearingCfg := clearing.Config{
		PriceDecimals:     cfg.Exchange.PriceDecimals,
		VolumeDecimals:    cfg.Exchange.VolumeDecimals,
		BaseDecimals:      cfg.Exchange.BaseDecimals,
		QuoteDecimals:     cfg.Exchange.QuoteDecimals,
		MaxLeverage:       cfg.Exchange.MaxLeverage,
		MaintenanceMargin: cfg.Exchange.MaintenanceMargin,
		MaxOpenOrders:     1000,
	}

	accounts := account.New()
	tiers := make([]fee.Tier, 0, len(cfg.FeePolicy.Tiers))
	for _, t := range cfg.FeePolicy.Tiers {
		tiers = append(tiers, fee.Tier{VolumeRequired: t.VolumeRequired, MakerRate: t.Maker, TakerRate: t.Taker})
	}
	if len(tiers) == 0 {
		tiers = []fee.Tier{{VolumeRequired: decimal.Zero, MakerRate: decimal.Zero, TakerRate: decimal.Zero}}
	}
	fees := fee.New(tiers, 1000)
	rec := record.New()
	clearingMgr := clearing.New(clearingCfg, accounts, fees, rec)

	blockDim := uint32(cfg.Books.InstanceCount)
	if blockDim == 0 {
		blockDim = 1
	}
	ex := exchange.New(0, blockDim, clearingMgr, accounts)
	for i := uint32(0); i < blockDim; i++ {
		ex.RegisterBook(types.BookId(i), cfg.Exchange.PriceDecimals, cfg.Exchange.VolumeDecimals)
	}

	sim := scheduler.New(types.Timestamp(cfg.Current), types.Timestamp(cfg.Step), ex, accounts)
	ex.SetQueueResetter(sim)
	block := &simulation.Block{Idx: 0, Sim: sim, Exchange: ex}
	return simulation.New(blockDim, []*simulation.Block{block}, nil), nil
}
