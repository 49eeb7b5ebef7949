// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the yaml config file",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: defaultDataDir(),
		Usage: "directory for the snapshot and protocol databases",
	}
	datasetFlag = cli.StringFlag{
		Name:  "dataset",
		Usage: "path to the yaml dataset of vault events, balances and schedules",
	}
	identityFlag = cli.StringFlag{
		Name:  "identity",
		Usage: "address this keeper acts as, overrides the config",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Value: "info",
		Usage: "log verbosity (trace|debug|info|warn|error|crit)",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:  "json-logs",
		Usage: "output logs in JSON format",
	}
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Value: "localhost:8680",
		Usage: "API service listening address, empty to disable",
	}
	apiCorsFlag = cli.StringFlag{
		Name:  "api-cors",
		Usage: "comma separated list of domains from which to accept cross origin requests to API",
	}
	apiTriggersFlag = cli.BoolFlag{
		Name:  "api-enable-triggers",
		Usage: "enable the POST /cycles/propose and /cycles/approve endpoints",
	}
	enableAPILogsFlag = cli.BoolFlag{
		Name:  "enable-api-logs",
		Usage: "enables API requests logging",
	}
	apiSlowQueriesThresholdFlag = cli.DurationFlag{
		Name:  "api-slow-queries-threshold",
		Usage: "log API requests slower than this, 0 to disable",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:  "enable-metrics",
		Usage: "enables metrics collection",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Value: "localhost:2112",
		Usage: "metrics service listening address",
	}
	adminAddrFlag = cli.StringFlag{
		Name:  "admin-addr",
		Value: "localhost:2113",
		Usage: "admin service listening address, empty to disable",
	}
	pprofFlag = cli.BoolFlag{
		Name:  "pprof",
		Usage: "turn on go-pprof",
	}
	endBlockFlag = cli.Uint64Flag{
		Name:  "end-block",
		Usage: "last block of the cycle, defaults to the dataset head",
	}
	cycleFlag = cli.Uint64Flag{
		Name:  "cycle",
		Usage: "cycle to export, defaults to the last approved",
	}
	outFlag = cli.StringFlag{
		Name:  "out",
		Value: ".",
		Usage: "directory to export distribution files to",
	}
)
