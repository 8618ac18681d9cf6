package clock

import "sync"

// TimerState is the observable state of a round timer.
type TimerState struct {
	Running   bool  `json:"running"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// RoundTimer tracks elapsed fight time for one bout. Start resumes from
// the paused elapsed value; Reset zeroes and stops. There is no
// background ticker, elapsed time is derived from the clock on read.
type RoundTimer struct {
	mu            sync.Mutex
	clock         Clock
	running       bool
	startedAtMS   int64
	accumulatedMS int64
}

// NewRoundTimer returns a stopped timer at zero elapsed.
func NewRoundTimer(c Clock) *RoundTimer {
	return &RoundTimer{clock: c}
}

// Start begins or resumes the timer. Starting a running timer is a no-op.
func (t *RoundTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.startedAtMS = t.clock.NowMS()
	t.running = true
}

// Pause stops accumulation, keeping the elapsed value.
func (t *RoundTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.accumulatedMS += t.clock.NowMS() - t.startedAtMS
	t.running = false
}

// Reset stops the timer and zeroes the elapsed value.
func (t *RoundTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.accumulatedMS = 0
	t.startedAtMS = 0
}

// ElapsedMS returns milliseconds of accumulated running time.
func (t *RoundTimer) ElapsedMS() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

// State returns the running flag and elapsed milliseconds together.
func (t *RoundTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerState{Running: t.running, ElapsedMS: t.elapsedLocked()}
}

func (t *RoundTimer) elapsedLocked() int64 {
	elapsed := t.accumulatedMS
	if t.running {
		elapsed += t.clock.NowMS() - t.startedAtMS
	}
	return elapsed
}

// TimerRegistry hands out one RoundTimer per bout.
type TimerRegistry struct {
	mu     sync.RWMutex
	clock  Clock
	timers map[string]*RoundTimer
}

// NewTimerRegistry returns an empty registry backed by c.
func NewTimerRegistry(c Clock) *TimerRegistry {
	return &TimerRegistry{clock: c, timers: make(map[string]*RoundTimer)}
}

// Get returns the bout's timer, creating it on first use.
func (r *TimerRegistry) Get(boutID string) *RoundTimer {
	r.mu.RLock()
	t, ok := r.timers[boutID]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[boutID]; ok {
		return t
	}
	t = NewRoundTimer(r.clock)
	r.timers[boutID] = t
	return t
}

// Drop removes a bout's timer, typically after the bout completes.
func (r *TimerRegistry) Drop(boutID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, boutID)
}
