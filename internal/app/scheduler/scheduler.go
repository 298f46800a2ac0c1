package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper: то, что умеет удалять простаивающие сессии.
type Sweeper interface {
	Sweep(ttl time.Duration) int
}

// Scheduler периодически вычищает простаивающие чат-сессии.
type Scheduler struct {
	target   Sweeper
	interval time.Duration
	ttl      time.Duration
	logger   *zap.SugaredLogger
}

// New создаёт планировщик. Интервал по умолчанию: четверть ttl, но не меньше секунды.
func New(target Sweeper, ttl time.Duration, interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = max(ttl/4, time.Second)
	}
	return &Scheduler{target: target, interval: interval, ttl: ttl, logger: logger}
}

// Run крутит цикл до отмены контекста. Первая уборка: через interval после старта.
// При ttl <= 0 уборка выключена и Run просто ждёт отмены.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		s.logger.Infow("Session sweeper disabled")
		<-ctx.Done()
		return context.Cause(ctx)
	}

	s.logger.Infow("Session sweeper started", "interval", s.interval.String(), "ttl", s.ttl.String())
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-t.C:
			if n := s.target.Sweep(s.ttl); n > 0 {
				s.logger.Debugw("Sweep tick", "removed", n)
			}
		}
	}
}
