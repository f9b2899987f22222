package clock

import "time"

// fakeTicker is driven entirely by Fake.Advance; it never fires on its
// own wall-clock schedule.
type fakeTicker struct {
	period time.Duration
	ch     chan time.Time
	next   time.Duration // elapsed-since-epoch at which this ticker next fires
	clock  *Fake
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	for i, tk := range t.clock.tickers {
		if tk == t {
			t.clock.tickers = append(t.clock.tickers[:i], t.clock.tickers[i+1:]...)
			break
		}
	}
}

// Fake is a deterministic Clock for tests: time only moves when
// Advance is called, and tickers registered against it fire
// synchronously (on the calling goroutine) as Advance crosses their
// period boundaries. Not safe for concurrent use; tests drive it from
// a single goroutine.
type Fake struct {
	epoch   time.Time
	elapsed time.Duration
	tickers []*fakeTicker
}

// NewFake returns a Fake clock with its epoch set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{epoch: start}
}

func (f *Fake) Now() time.Time { return f.epoch.Add(f.elapsed) }

func (f *Fake) Elapsed() float64 { return f.elapsed.Seconds() }

func (f *Fake) Since(t time.Time) float64 { return f.Now().Sub(t).Seconds() }

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{period: d, ch: make(chan time.Time, 1), next: f.elapsed + d, clock: f}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the fake clock forward by d, firing any tickers whose
// period boundary was crossed (at most once each, even if d spans
// multiple periods — callers driving deterministic tests should advance
// in ticker-sized steps if they need every tick observed).
func (f *Fake) Advance(d time.Duration) {
	f.elapsed += d
	for _, t := range f.tickers {
		if f.elapsed >= t.next {
			t.next = f.elapsed + t.period
			select {
			case t.ch <- f.Now():
			default:
			}
		}
	}
}
