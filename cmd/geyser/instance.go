// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/geyser-labs/geyser/api/admin/health"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/keeper"
	"github.com/geyser-labs/geyser/kv"
	"github.com/geyser-labs/geyser/log"
	"github.com/geyser-labs/geyser/lvldb"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/snapshot"
	"github.com/geyser-labs/geyser/source"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
)

var logger = log.WithContext("pkg", "geyser")

// instance is a keeper with its database and data source.
type instance struct {
	cfg      *config
	db       kv.StoreCloser
	src      *source.FileSource
	keeper   *keeper.Keeper
	endBlock uint64 // 0 follows the dataset head
}

func newInstance(ctx context.Context, cfg *config, db kv.StoreCloser, src *source.FileSource, onVault func(done, total int)) (*instance, error) {
	calc, err := cfg.boostCalculator()
	if err != nil {
		return nil, err
	}
	snaps, err := snapshot.NewStore(db, cfg.ChainID, cfg.ExportDir, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	k, err := keeper.New(ctx, source.NewRetrying(src, cfg.retryOptions()), snaps, publish.NewKVStore(db), cfg.keeperConfig(calc, onVault))
	if err != nil {
		return nil, err
	}
	return &instance{cfg: cfg, db: db, src: src, keeper: k}, nil
}

// openInstance loads the config, dataset and database named by the flags.
func openInstance(ctx *cli.Context, onVault func(done, total int)) (*instance, string, error) {
	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return nil, "", err
	}
	if err := parseIdentity(ctx, cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", errors.WithMessage(err, "config")
	}
	datasetPath := ctx.String(datasetFlag.Name)
	if datasetPath == "" {
		return nil, "", errors.Errorf("-%s is required", datasetFlag.Name)
	}
	src, err := source.Load(datasetPath)
	if err != nil {
		return nil, "", err
	}
	dataDir, err := makeDataDir(ctx)
	if err != nil {
		return nil, "", err
	}
	dir := filepath.Join(dataDir, "main.db")
	db, err := lvldb.New(dir, lvldb.Options{CacheSize: 16, OpenFilesCacheCapacity: 64})
	if err != nil {
		return nil, "", errors.WithMessagef(err, "open database [%v]", dir)
	}
	inst, err := newInstance(context.Background(), cfg, db, src, onVault)
	if err != nil {
		db.Close()
		return nil, "", err
	}
	inst.endBlock = ctx.Uint64(endBlockFlag.Name)
	return inst, dataDir, nil
}

func (i *instance) Close() error {
	return i.db.Close()
}

func (i *instance) head() uint64 {
	if i.endBlock > 0 {
		return i.endBlock
	}
	return i.src.Head()
}

// tick runs the operation of the configured role once. Expected no-ops are
// not errors.
func (i *instance) tick(ctx context.Context) error {
	switch i.cfg.role() {
	case "proposer":
		p, err := i.keeper.ProposeIfDue(ctx, i.keeper.Now(), i.head())
		if geyser.IsKind(err, geyser.KindNothingToDo) {
			logger.Debug("no cycle due", "reason", err)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("cycle proposed", "cycle", p.Cycle, "blocks", p.Blocks, "root", p.Root.Root, "claims", len(p.File.Claims))
	case "approver":
		d, err := i.keeper.ApproveIfPending(ctx)
		if geyser.IsKind(err, geyser.KindNothingToDo) {
			logger.Debug("nothing to approve")
			return nil
		}
		if err != nil {
			return err
		}
		if !d.Approved {
			logger.Warn("pending root rejected", "kind", d.Kind(), "reason", d.Reason)
			return nil
		}
		logger.Info("cycle approved", "cycle", d.Record.Cycle, "root", d.Record.Root.Root)
	}
	return nil
}

// run ticks every interval until ctx is done.
func (i *instance) run(ctx context.Context, h *health.Health) {
	ticker := time.NewTicker(i.cfg.Interval)
	defer ticker.Stop()

	for {
		err := i.tick(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("keeper tick failed", "err", err)
		}
		h.Tick(i.keeper.Protocol().Status().LastCycle(), err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
