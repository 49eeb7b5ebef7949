// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"
	"time"

	"github.com/geyser-labs/geyser/boost"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/keeper"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/source"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type tierConfig struct {
	Threshold  string `yaml:"threshold"`
	Multiplier string `yaml:"multiplier"`
}

type boostConfig struct {
	Enabled bool         `yaml:"enabled"`
	Dust    *uint256.Int `yaml:"dust"`
	// Table defaults to the production table when empty.
	Table []tierConfig `yaml:"table"`
}

type retryConfig struct {
	MaxRetry     uint64        `yaml:"maxRetry"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// config is the yaml configuration of a keeper.
type config struct {
	ChainID    uint64           `yaml:"chainId"`
	FirstBlock uint64           `yaml:"firstBlock"`
	Identity   geyser.Address   `yaml:"identity"`
	Proposers  []geyser.Address `yaml:"proposers"`
	Approvers  []geyser.Address `yaml:"approvers"`
	// ToleranceBps is the allowed emission excess in basis points.
	ToleranceBps uint64        `yaml:"toleranceBps"`
	MinInterval  time.Duration `yaml:"minInterval"`
	// Interval is how often the run loop wakes up.
	Interval  time.Duration `yaml:"interval"`
	Workers   int           `yaml:"workers"`
	CacheSize int           `yaml:"cacheSize"`
	ExportDir string        `yaml:"exportDir"`
	Boost     boostConfig   `yaml:"boost"`
	Retry     *retryConfig  `yaml:"retry"`
}

func defaultConfig() *config {
	return &config{
		ChainID:      1,
		ToleranceBps: 10,
		MinInterval:  time.Hour,
		Interval:     time.Minute,
		CacheSize:    64,
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %v", path)
	}
	return cfg, nil
}

// Validate checks the roles and the boost table.
func (c *config) Validate() error {
	if len(c.Proposers) == 0 || len(c.Approvers) == 0 {
		return errors.New("at least one proposer and one approver are required")
	}
	for _, p := range c.Proposers {
		for _, a := range c.Approvers {
			if p == a {
				return errors.Errorf("%v is both proposer and approver", p)
			}
		}
	}
	if c.Identity.IsZero() {
		return errors.New("identity is not set")
	}
	if c.role() == "" {
		return errors.Errorf("identity %v holds no role", c.Identity)
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.ToleranceBps > 10000 {
		return errors.Errorf("tolerance %d bps exceeds 100%%", c.ToleranceBps)
	}
	if _, err := c.boostCalculator(); err != nil {
		return err
	}
	return nil
}

// role returns "proposer", "approver" or "" for the configured identity.
func (c *config) role() string {
	for _, p := range c.Proposers {
		if p == c.Identity {
			return "proposer"
		}
	}
	for _, a := range c.Approvers {
		if a == c.Identity {
			return "approver"
		}
	}
	return ""
}

func (c *config) boostCalculator() (*boost.Calculator, error) {
	if !c.Boost.Enabled {
		return nil, nil
	}
	calc := boost.NewCalculator()
	calc.Dust = c.Boost.Dust
	if len(c.Boost.Table) > 0 {
		calc.Table = make([]boost.Tier, len(c.Boost.Table))
		for i, t := range c.Boost.Table {
			tier, err := boost.ParseTier(t.Threshold, t.Multiplier)
			if err != nil {
				return nil, errors.WithMessagef(err, "boost tier %d", i)
			}
			calc.Table[i] = tier
		}
	}
	if err := calc.Validate(); err != nil {
		return nil, err
	}
	return calc, nil
}

func (c *config) retryOptions() source.RetryOptions {
	if c.Retry == nil {
		return source.DefaultRetryOptions
	}
	return source.RetryOptions{
		MaxRetry:     c.Retry.MaxRetry,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

func (c *config) keeperConfig(calc *boost.Calculator, onVault func(done, total int)) keeper.Config {
	return keeper.Config{
		ChainID:      c.ChainID,
		Identity:     c.Identity,
		Roles:        publish.Roles{Proposers: c.Proposers, Approvers: c.Approvers},
		FirstBlock:   c.FirstBlock,
		Boost:        calc,
		ToleranceBps: c.ToleranceBps,
		MinInterval:  c.MinInterval,
		Workers:      c.Workers,
		OnVault:      onVault,
	}
}
