package game

import (
	"sync"
	"time"
)

// Timer is a cancellable handle. Stop is idempotent.
type Timer interface {
	Stop()
}

// Scheduler creates the session's timers. Callbacks run on timer goroutines
// and must only post events to the session.
type Scheduler interface {
	Every(period time.Duration, fire func()) Timer
	After(delay time.Duration, fire func()) Timer
}

// SystemScheduler uses real tickers.
type SystemScheduler struct{}

type tickerTimer struct {
	stop chan struct{}
	once sync.Once
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (SystemScheduler) Every(period time.Duration, fire func()) Timer {
	timer := &tickerTimer{stop: make(chan struct{})}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-timer.stop:
				return
			case <-ticker.C:
				fire()
			}
		}
	}()
	return timer
}

type afterTimer struct {
	timer *time.Timer
}

func (t afterTimer) Stop() {
	t.timer.Stop()
}

func (SystemScheduler) After(delay time.Duration, fire func()) Timer {
	return afterTimer{timer: time.AfterFunc(delay, fire)}
}
