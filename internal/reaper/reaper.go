// Package reaper enforces the store's retention policy: expired
// operations, locks and idempotency records are removed by time, not by
// application code.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/internal/util"
)

type Config struct {
	Cron    string        `mapstructure:"cron"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Reaper struct {
	store   store.Store
	metrics *metrics.Metrics
	config  *Config
	done    chan struct{}
}

func New(s store.Store, m *metrics.Metrics, config *Config) (*Reaper, error) {
	// fail at construction, not on the first tick
	if _, err := util.ParseCron(config.Cron); err != nil {
		return nil, err
	}

	return &Reaper{
		store:   s,
		metrics: m,
		config:  config,
		done:    make(chan struct{}),
	}, nil
}

func (r *Reaper) String() string {
	return "reaper"
}

func (r *Reaper) Start(errors chan<- error) {
	for {
		now := time.Now().UnixMilli()

		next, err := util.Next(now, r.config.Cron)
		if err != nil {
			errors <- err
			return
		}

		select {
		case <-time.After(time.Duration(next-now) * time.Millisecond):
			r.reap(next)
		case <-r.done:
			return
		}
	}
}

func (r *Reaper) Stop() error {
	close(r.done)
	return nil
}

func (r *Reaper) reap(t int64) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()

	n, err := r.store.DeleteExpired(ctx, t)
	if err != nil {
		slog.Warn("failed to delete expired records", "err", err)
		return
	}

	if n > 0 {
		r.metrics.ReapedTotal.Add(float64(n))
		slog.Debug("deleted expired records", "count", n)
	}
}
