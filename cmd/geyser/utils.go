// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/log"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"gopkg.in/cheggaaa/pb.v1"
	cli "gopkg.in/urfave/cli.v1"
)

func initLogger(ctx *cli.Context) (*slog.LevelVar, error) {
	lvl, ok := log.ParseLevel(ctx.String(verbosityFlag.Name))
	if !ok {
		return nil, errors.Errorf("invalid verbosity %q", ctx.String(verbosityFlag.Name))
	}
	logLevel := new(slog.LevelVar)
	logLevel.Set(lvl)

	var handler slog.Handler
	if ctx.Bool(jsonLogsFlag.Name) {
		handler = log.JSONHandlerWithLevel(os.Stderr, logLevel)
	} else {
		useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, logLevel, useColor)
	}
	log.SetDefault(log.NewLogger(handler))
	return logLevel, nil
}

func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		log.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}

func defaultDataDir() string {
	if home := homeDir(); home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "org.geyser")
		}
		return filepath.Join(home, ".org.geyser")
	}
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

func makeDataDir(ctx *cli.Context) (string, error) {
	dataDir := ctx.String(dataDirFlag.Name)
	if dataDir == "" {
		return "", errors.Errorf("unable to infer default data dir, use -%s to specify", dataDirFlag.Name)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", errors.Wrapf(err, "create data dir [%v]", dataDir)
	}
	return dataDir, nil
}

// progress draws a bar over the vaults of a cycle computation.
type progress struct {
	once sync.Once
	bar  *pb.ProgressBar
}

func (p *progress) onVault(done, total int) {
	p.once.Do(func() {
		p.bar = pb.New(total).SetMaxWidth(90).Start()
	})
	p.bar.Set(done)
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

func printStartupMessage(cfg *config, dataDir, apiURL, adminURL, metricsURL string) {
	orNone := func(s string) string {
		if s == "" {
			return "disabled"
		}
		return s
	}
	fmt.Printf(`Starting geyser keeper
    Chain ID     [ %v ]
    Identity     [ %v (%v) ]
    First block  [ %v ]
    Data dir     [ %v ]
    API portal   [ %v ]
    Admin        [ %v ]
    Metrics      [ %v ]
`,
		cfg.ChainID,
		cfg.Identity, cfg.role(),
		cfg.FirstBlock,
		dataDir,
		orNone(apiURL),
		orNone(adminURL),
		orNone(metricsURL))
}

func parseIdentity(ctx *cli.Context, cfg *config) error {
	s := ctx.String(identityFlag.Name)
	if s == "" {
		return nil
	}
	addr, err := geyser.ParseAddress(s)
	if err != nil {
		return errors.WithMessage(err, identityFlag.Name)
	}
	cfg.Identity = *addr
	return nil
}
