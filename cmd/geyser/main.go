// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/geyser-labs/geyser/api"
	"github.com/geyser-labs/geyser/api/admin/health"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/metrics"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	version   string
	gitCommit string
	gitTag    string
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

var commonFlags = []cli.Flag{
	configFlag,
	dataDirFlag,
	datasetFlag,
	identityFlag,
	verbosityFlag,
	jsonLogsFlag,
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "Geyser",
		Usage:     "Cumulative rewards keeper",
		Copyright: "2025 The Geyser developers",
		Flags: append(commonFlags,
			endBlockFlag,
			apiAddrFlag,
			apiCorsFlag,
			apiTriggersFlag,
			enableAPILogsFlag,
			apiSlowQueriesThresholdFlag,
			enableMetricsFlag,
			metricsAddrFlag,
			adminAddrFlag,
			pprofFlag,
		),
		Action: defaultAction,
		Commands: []cli.Command{
			{
				Name:   "propose",
				Usage:  "compute and propose the next cycle once",
				Flags:  append(commonFlags, endBlockFlag),
				Action: proposeAction,
			},
			{
				Name:   "approve",
				Usage:  "verify and approve the pending root once",
				Flags:  commonFlags,
				Action: approveAction,
			},
			{
				Name:   "status",
				Usage:  "print the protocol state",
				Flags:  commonFlags,
				Action: statusAction,
			},
			{
				Name:   "export",
				Usage:  "write a stored distribution file to a directory",
				Flags:  append(commonFlags, cycleFlag, outFlag),
				Action: exportAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	exitSignal := handleExitSignal()
	defer func() { logger.Info("exited") }()

	logLevel, err := initLogger(ctx)
	if err != nil {
		return err
	}
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	inst, dataDir, err := openInstance(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing main database..."); inst.Close() }()

	apiLogs := &atomic.Bool{}
	apiLogs.Store(ctx.Bool(enableAPILogsFlag.Name))
	healthStatus := &health.Health{}

	var apiURL, adminURL, metricsURL string
	if addr := ctx.String(apiAddrFlag.Name); addr != "" {
		url, srvCloser, err := api.StartServer(addr, api.New(inst.keeper, api.Options{
			AllowedOrigins:       ctx.String(apiCorsFlag.Name),
			PprofOn:              ctx.Bool(pprofFlag.Name),
			EnableTriggers:       ctx.Bool(apiTriggersFlag.Name),
			EnableMetrics:        ctx.Bool(enableMetricsFlag.Name),
			EnableReqLogger:      apiLogs,
			SlowQueriesThreshold: ctx.Duration(apiSlowQueriesThresholdFlag.Name),
			Log5xxErrors:         true,
		}))
		if err != nil {
			return err
		}
		defer func() { logger.Info("stopping API server..."); srvCloser() }()
		apiURL = url
	}
	if addr := ctx.String(adminAddrFlag.Name); addr != "" {
		url, srvCloser, err := api.StartAdminServer(addr, logLevel, apiLogs, healthStatus)
		if err != nil {
			return err
		}
		defer func() { logger.Info("stopping admin server..."); srvCloser() }()
		adminURL = url
	}
	if ctx.Bool(enableMetricsFlag.Name) {
		url, srvCloser, err := api.StartMetricsServer(ctx.String(metricsAddrFlag.Name))
		if err != nil {
			return err
		}
		defer func() { logger.Info("stopping metrics server..."); srvCloser() }()
		metricsURL = url
	}

	printStartupMessage(inst.cfg, dataDir, apiURL, adminURL, metricsURL)

	inst.run(exitSignal, healthStatus)
	return nil
}

func proposeAction(ctx *cli.Context) error {
	if _, err := initLogger(ctx); err != nil {
		return err
	}
	var bar progress
	inst, _, err := openInstance(ctx, bar.onVault)
	if err != nil {
		return err
	}
	defer inst.Close()
	if inst.cfg.role() != "proposer" {
		return errors.Errorf("identity %v is not a proposer", inst.cfg.Identity)
	}

	p, err := inst.keeper.ProposeIfDue(handleExitSignal(), inst.keeper.Now(), inst.head())
	bar.finish()
	if geyser.IsKind(err, geyser.KindNothingToDo) {
		fmt.Println("nothing to propose:", err)
		return nil
	}
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"cycle":           p.Cycle,
		"blocks":          p.Blocks,
		"root":            p.Root.Root,
		"contentHash":     p.ContentHash,
		"claims":          len(p.File.Claims),
		"proposeCalldata": hexutil.Bytes(p.ProposeCalldata),
	})
}

func approveAction(ctx *cli.Context) error {
	if _, err := initLogger(ctx); err != nil {
		return err
	}
	inst, _, err := openInstance(ctx, nil)
	if err != nil {
		return err
	}
	defer inst.Close()
	if inst.cfg.role() != "approver" {
		return errors.Errorf("identity %v is not an approver", inst.cfg.Identity)
	}

	d, err := inst.keeper.ApproveIfPending(handleExitSignal())
	if geyser.IsKind(err, geyser.KindNothingToDo) {
		fmt.Println("nothing to approve")
		return nil
	}
	if err != nil {
		return err
	}
	if !d.Approved {
		return errors.WithMessagef(d.Reason, "rejected (%v)", d.Kind().Label())
	}
	return printJSON(d.Record)
}

func statusAction(ctx *cli.Context) error {
	if _, err := initLogger(ctx); err != nil {
		return err
	}
	inst, _, err := openInstance(ctx, nil)
	if err != nil {
		return err
	}
	defer inst.Close()

	s, err := inst.keeper.Protocol().Refresh(context.Background())
	if err != nil {
		return err
	}
	status := map[string]any{
		"state":     s,
		"nextStart": inst.keeper.Protocol().NextStart(),
		"head":      inst.src.Head(),
	}
	if s.Approved != nil {
		approvedAt := time.Unix(int64(s.Approved.Timestamp), 0)
		status["nextDue"] = approvedAt.Add(inst.cfg.MinInterval).UTC()
	}
	return printJSON(status)
}

func exportAction(ctx *cli.Context) error {
	if _, err := initLogger(ctx); err != nil {
		return err
	}
	inst, _, err := openInstance(ctx, nil)
	if err != nil {
		return err
	}
	defer inst.Close()

	cycle := ctx.Uint64(cycleFlag.Name)
	if cycle == 0 {
		if cycle = inst.keeper.Protocol().Status().LastCycle(); cycle == 0 {
			return errors.New("no approved cycle to export")
		}
	}
	f, err := inst.keeper.Snapshots().ByCycle(cycle)
	if err != nil {
		return errors.WithMessagef(err, "cycle %d", cycle)
	}
	path, err := inst.keeper.Snapshots().Export(f, ctx.String(outFlag.Name))
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", strings.Repeat(" ", 2))
	return enc.Encode(v)
}
