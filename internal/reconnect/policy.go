package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/logx"
)

// State of the reconnection policy.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateScheduled  State = "scheduled"
	StateGaveUp     State = "gave-up"
)

// Options configure a Policy.
type Options struct {
	Backoff     Backoff
	MaxAttempts int
	// Connect performs one connection attempt.
	Connect func(context.Context) error
	// OnSchedule, when set, is called each time an attempt is scheduled.
	OnSchedule func(attempt int, delay time.Duration)
	// OnGiveUp, when set, is called once when attempts are exhausted.
	OnGiveUp func(attempts int)
	// After is the timer used between attempts. Nil means time.After.
	After func(time.Duration) <-chan time.Time
}

// Policy retries the connection after unexpected disconnects. At most one
// reconnect loop runs at a time; an explicit Suppress stops it.
type Policy struct {
	opts Options

	mu         sync.Mutex
	state      State
	attempt    int
	running    bool
	again      bool
	suppressed bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewPolicy constructs a policy in the idle state.
func NewPolicy(opts Options) *Policy {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Policy{opts: opts, state: StateIdle}
}

// State returns the current policy state.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempt returns the number of consecutive failed or in-progress attempts.
func (p *Policy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

// Resume re-arms the policy after an explicit connect, including from
// gave-up. A live connection or a running loop keeps its state.
func (p *Policy) Resume() {
	p.mu.Lock()
	p.suppressed = false
	switch p.state {
	case StateGaveUp:
		p.attempt = 0
		p.state = StateConnecting
	case StateIdle:
		if !p.running {
			p.state = StateConnecting
		}
	}
	p.mu.Unlock()
}

// Connected records a successful connection and resets the attempt counter.
func (p *Policy) Connected() {
	p.mu.Lock()
	p.attempt = 0
	p.again = false
	p.state = StateConnected
	p.mu.Unlock()
}

// Disconnected reacts to a connection drop. Drops after Suppress are ignored.
func (p *Policy) Disconnected() {
	p.trigger()
}

// Failed reacts to a failed initial connection attempt the same way as a drop.
func (p *Policy) Failed(err error) {
	logx.Log.Warn().Err(err).Msg("bridge connection attempt failed")
	p.trigger()
}

// Suppress stops any running reconnect loop and ignores future drops until
// Resume is called.
func (p *Policy) Suppress() {
	p.mu.Lock()
	p.suppressed = true
	p.again = false
	p.state = StateIdle
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the running reconnect loop, if any, has returned.
func (p *Policy) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Policy) trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suppressed || p.state == StateGaveUp {
		return
	}
	if p.running {
		p.again = true
		return
	}
	p.start()
}

// start launches the loop. p.mu must be held.
func (p *Policy) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

func (p *Policy) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		p.mu.Lock()
		if ctx.Err() != nil {
			p.finish()
			p.mu.Unlock()
			return
		}
		p.attempt++
		attempt := p.attempt
		if attempt > p.opts.MaxAttempts {
			p.attempt = p.opts.MaxAttempts
			p.state = StateGaveUp
			p.finish()
			p.mu.Unlock()
			logx.Log.Error().Int("attempts", p.opts.MaxAttempts).Msg("reconnect attempts exhausted; giving up")
			if p.opts.OnGiveUp != nil {
				p.opts.OnGiveUp(p.opts.MaxAttempts)
			}
			return
		}
		delay := p.opts.Backoff.Delay(attempt)
		p.state = StateScheduled
		p.mu.Unlock()

		logx.Log.Info().Int("attempt", attempt).Dur("backoff", delay).Msg("reconnect scheduled")
		if p.opts.OnSchedule != nil {
			p.opts.OnSchedule(attempt, delay)
		}
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.finish()
			p.mu.Unlock()
			return
		case <-p.opts.After(delay):
		}

		p.mu.Lock()
		if ctx.Err() != nil {
			p.finish()
			p.mu.Unlock()
			return
		}
		p.state = StateConnecting
		p.mu.Unlock()

		err := p.opts.Connect(ctx)
		if err == nil {
			p.mu.Lock()
			p.finish()
			if p.state != StateConnected {
				p.attempt = 0
				p.state = StateConnected
			}
			if p.again && !p.suppressed {
				// the new connection already dropped while we were finishing
				p.again = false
				p.start()
			}
			p.mu.Unlock()
			return
		}
		logx.Log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}
}

// finish marks the loop as stopped. p.mu must be held.
func (p *Policy) finish() {
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
