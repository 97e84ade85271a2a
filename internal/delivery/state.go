package delivery

import (
	"time"

	"nftwatch/internal/model"
)

// State is the batching state of one user.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateReadyToFlush
	StateSending
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateReadyToFlush:
		return "ready"
	case StateSending:
		return "sending"
	default:
		return "idle"
	}
}

type userState struct {
	cadence  model.Cadence
	pending  []model.TransactionEvent
	inflight []model.TransactionEvent
	// keys covers pending and inflight events.
	keys map[string]struct{}

	sending   bool
	attempts  int
	firstAt   time.Time
	lastFlush time.Time
	flushed   bool
}

func newUserState() *userState {
	return &userState{keys: make(map[string]struct{})}
}

// anchor is the start of the current cadence window: the last flush, or the
// first accumulation before any flush happened.
func (u *userState) anchor() time.Time {
	if u.flushed {
		return u.lastFlush
	}
	return u.firstAt
}

func (u *userState) ready(now time.Time, interval time.Duration) bool {
	if len(u.pending) == 0 || u.sending {
		return false
	}
	if u.cadence == model.CadenceInstant || interval <= 0 {
		return true
	}
	return now.Sub(u.anchor()) >= interval
}

func (u *userState) state(now time.Time, interval time.Duration) State {
	switch {
	case u.sending:
		return StateSending
	case len(u.pending) == 0:
		return StateIdle
	case u.ready(now, interval):
		return StateReadyToFlush
	default:
		return StateAccumulating
	}
}

// idle reports a user with nothing pending or in flight since its last flush.
func (u *userState) idle() bool {
	return u.flushed && !u.sending && len(u.pending) == 0 && len(u.inflight) == 0
}

// take moves the pending batch in flight.
func (u *userState) take() []model.TransactionEvent {
	u.inflight = u.pending
	u.pending = nil
	u.sending = true
	return u.inflight
}

// ack forgets the first n in-flight events, which reached the user.
func (u *userState) ack(n int) {
	for _, ev := range u.inflight[:n] {
		delete(u.keys, ev.Key())
	}
	u.inflight = u.inflight[n:]
}

func (u *userState) forgetInflight() {
	for _, ev := range u.inflight {
		delete(u.keys, ev.Key())
	}
	u.inflight = nil
}

func (u *userState) delivered(now time.Time) {
	u.forgetInflight()
	u.sending = false
	u.attempts = 0
	u.lastFlush = now
	u.flushed = true
	u.firstAt = time.Time{}
	if len(u.pending) > 0 {
		u.firstAt = now
	}
}

// requeue puts the in-flight batch back at the head of pending.
func (u *userState) requeue() {
	u.pending = append(u.inflight, u.pending...)
	u.inflight = nil
	u.sending = false
}
