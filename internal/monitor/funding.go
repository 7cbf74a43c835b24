package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

// fundingInterval spaces the settlement windows at 00:00, 08:00 and
// 16:00 UTC.
const fundingInterval = 8 * time.Hour

// FundingSettler applies one funding window to all open positions.
// Settling the same window twice must be a no-op.
type FundingSettler interface {
	SettleFunding(ctx context.Context, window time.Time) error
}

// FundingScheduler settles the current funding window shortly after
// it opens, and catches up on start if the engine was down across a
// window boundary.
type FundingScheduler struct {
	settler FundingSettler
	poll    time.Duration
	now     func() time.Time

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func NewFundingScheduler(settler FundingSettler, poll time.Duration) *FundingScheduler {
	if poll <= 0 {
		poll = time.Minute
	}
	return &FundingScheduler{
		settler: settler,
		poll:    poll,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Window returns the most recent funding window at or before t.
func Window(t time.Time) time.Time {
	return t.UTC().Truncate(fundingInterval)
}

// Start launches the scheduler. The first pass runs immediately so a
// restart settles any window missed while down.
func (s *FundingScheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		logs.Infof("funding scheduler started, poll: %s", s.poll)
		s.settle(ctx)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.settle(ctx)
			}
		}
	}()
}

func (s *FundingScheduler) settle(ctx context.Context) {
	window := Window(s.now())
	if err := s.settler.SettleFunding(ctx, window); err != nil {
		logs.Errorf("settle funding, window: %s, err: %+v", window.Format(time.RFC3339), err)
	}
}

// Stop signals the loop and waits for the current pass to finish.
func (s *FundingScheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	logs.Info("funding scheduler stopped")
}
