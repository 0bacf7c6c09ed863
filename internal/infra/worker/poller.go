package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// NextProcessor claims and runs the oldest queued job. It reports false
// when nothing was queued.
type NextProcessor interface {
	ProcessNext(ctx context.Context) (bool, error)
}

// JobPoller picks up queued jobs that no dispatch reached: rejected by a
// full queue, or left behind by a restart.
type JobPoller struct {
	jobs     NextProcessor
	interval time.Duration
	log      *zerolog.Logger
}

func NewJobPoller(jobs NextProcessor, interval time.Duration, log *zerolog.Logger) *JobPoller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &JobPoller{jobs: jobs, interval: interval, log: log}
}

// Start runs the poll loop until ctx is done. Run it in a goroutine.
func (p *JobPoller) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("interval", p.interval).Msg("job poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("job poller stopping")
			return
		case <-ticker.C:
			// a full queue means workers are busy; the next tick retries
			_ = pool.Submit(p.drain)
		}
	}
}

// drain processes queued jobs until none are left.
func (p *JobPoller) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		ran, err := p.jobs.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !ran {
			return nil
		}
	}
	return nil
}
