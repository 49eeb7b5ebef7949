// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package source

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/keeper"
	"github.com/geyser-labs/geyser/metrics"
	"github.com/geyser-labs/geyser/stake"
	"github.com/holiman/uint256"
)

var metricRetries = metrics.LazyLoadCounterVec("source_retries_count", []string{"op"})

// RetryOptions bounds the retries of a single source call.
type RetryOptions struct {
	MaxRetry     uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryOptions suits a remote node.
var DefaultRetryOptions = RetryOptions{
	MaxRetry:     5,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Retrying retries transient failures of the wrapped source with exponential
// backoff. Errors carrying a geyser kind are returned at once.
type Retrying struct {
	src  keeper.Source
	opts RetryOptions
}

var _ keeper.Source = (*Retrying)(nil)

// NewRetrying wraps src.
func NewRetrying(src keeper.Source, opts RetryOptions) *Retrying {
	return &Retrying{src: src, opts: opts}
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	if r.opts.MaxRetry == 0 {
		return fn(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialDelay
	b.MaxInterval = r.opts.MaxDelay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.1
	b.Reset()

	err := backoff.RetryNotify(func() error {
		v, err := fn(ctx)
		if err != nil {
			if geyser.KindOf(err) != geyser.KindUnknown || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.opts.MaxRetry), ctx), func(err error, next time.Duration) {
		metricRetries().AddWithLabel(1, map[string]string{"op": op})
		logger.Debug("source call failed, retrying", "op", op, "in", next, "err", err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (r *Retrying) Vaults(ctx context.Context) ([]keeper.VaultInfo, error) {
	return retry(ctx, r, "vaults", r.src.Vaults)
}

func (r *Retrying) FetchStakeEvents(ctx context.Context, vault geyser.Address, br geyser.BlockRange) ([]stake.Action, error) {
	return retry(ctx, r, "stake_events", func(ctx context.Context) ([]stake.Action, error) {
		return r.src.FetchStakeEvents(ctx, vault, br)
	})
}

func (r *Retrying) FetchBalances(ctx context.Context, vault geyser.Address, block uint64) (map[geyser.Address]*uint256.Int, error) {
	return retry(ctx, r, "balances", func(ctx context.Context) (map[geyser.Address]*uint256.Int, error) {
		return r.src.FetchBalances(ctx, vault, block)
	})
}

func (r *Retrying) BlockTime(ctx context.Context, block uint64) (uint64, error) {
	return retry(ctx, r, "block_time", func(ctx context.Context) (uint64, error) {
		return r.src.BlockTime(ctx, block)
	})
}

func (r *Retrying) Schedules(ctx context.Context, vault geyser.Address) (emission.Schedules, error) {
	return retry(ctx, r, "schedules", func(ctx context.Context) (emission.Schedules, error) {
		return r.src.Schedules(ctx, vault)
	})
}
