package syncer

import (
	"context"
	"time"
)

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 5 * time.Second
)

// StartWatch begins the connectivity watcher: a periodic reachability probe
// against the gateway whose offline-to-online transitions trigger Flush.
// No-op if the watcher is already running.
func (e *Engine) StartWatch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	e.stMu.Lock()
	if e.cancel != nil {
		e.stMu.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	e.done = done
	e.stMu.Unlock()

	go e.watch(ctx, interval, done)
}

// StopWatch tears the watcher down and waits for it to exit, keeping
// registration and teardown symmetric across login/logout cycles.
func (e *Engine) StopWatch() {
	e.stMu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.stMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) watch(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	online := e.probe(ctx)
	e.setOnline(online)
	if online {
		e.Flush(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.probe(ctx)
			if now && !online {
				e.log.Info("connectivity restored, flushing queue")
				e.Flush(ctx)
			} else if !now && online {
				e.log.Info("connectivity lost, queueing writes locally")
			}
			online = now
			e.setOnline(online)
		}
	}
}

func (e *Engine) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return e.gw.Ping(ctx) == nil
}
