package delivery

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"nftwatch/internal/clock"
	"nftwatch/internal/match"
	"nftwatch/internal/metrics"
	"nftwatch/internal/model"
	"nftwatch/internal/transport"
)

// Config holds the batching and send limits.
type Config struct {
	TenMinutes    time.Duration
	Hourly        time.Duration
	FlushInterval time.Duration
	MaxRetries    int
	Workers       int
	// RatePerSec caps messages per second across all users.
	RatePerSec float64
	// MaxMessageLength splits a batch into messages of at most this many
	// bytes, whole events each. Zero sends every batch as one message.
	MaxMessageLength int
}

func (c Config) withDefaults() Config {
	if c.TenMinutes <= 0 {
		c.TenMinutes = 10 * time.Minute
	}
	if c.Hourly <= 0 {
		c.Hourly = time.Hour
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	return c
}

// Interval returns the batching window of a cadence; instant is zero.
func (c Config) Interval(cadence model.Cadence) time.Duration {
	switch cadence {
	case model.CadenceTenMinutes:
		return c.TenMinutes
	case model.CadenceHourly:
		return c.Hourly
	default:
		return 0
	}
}

// Options carries the optional collaborators of a Scheduler.
type Options struct {
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Format renders a batch; defaults to one event per line of its key.
	Format func(events []model.TransactionEvent) string
}

// Scheduler batches matched events per user and hands due batches to the sender.
type Scheduler struct {
	cfg     Config
	sender  transport.Sender
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	format  func(events []model.TransactionEvent) string
	limiter *rate.Limiter

	mu    sync.Mutex
	users map[int64]*userState
	wake  chan struct{}
}

func NewScheduler(cfg Config, sender transport.Sender, opts Options) *Scheduler {
	cfg = cfg.withDefaults()
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	if opts.Format == nil {
		opts.Format = plainFormat
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Scheduler{
		cfg:     cfg,
		sender:  sender,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		format:  opts.Format,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		users:   make(map[int64]*userState),
		wake:    make(chan struct{}, 1),
	}
}

func plainFormat(events []model.TransactionEvent) string {
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = ev.Type.String() + " " + ev.Key()
	}
	return strings.Join(lines, "\n")
}

// Enqueue appends a match to the user's pending batch. Events already pending
// or in flight for the user are ignored. It reports whether the event was added.
func (s *Scheduler) Enqueue(m match.Match) bool {
	key := m.Event.Key()

	s.mu.Lock()
	u, ok := s.users[m.UserID]
	if !ok {
		u = newUserState()
		s.users[m.UserID] = u
	}
	u.cadence = m.Preferences.Cadence
	if _, dup := u.keys[key]; dup {
		s.mu.Unlock()
		return false
	}
	if len(u.pending) == 0 && u.firstAt.IsZero() {
		u.firstAt = s.clock.Now()
	}
	u.keys[key] = struct{}{}
	u.pending = append(u.pending, m.Event)
	instant := u.cadence == model.CadenceInstant
	s.mu.Unlock()

	s.metrics.PendingEvents.Inc()
	if instant {
		s.notify()
	}
	return true
}

// SetCadence updates the cadence used for the user's pending batch.
func (s *Scheduler) SetCadence(userID int64, cadence model.Cadence) {
	s.mu.Lock()
	if u, ok := s.users[userID]; ok {
		u.cadence = cadence
	}
	s.mu.Unlock()
	if cadence == model.CadenceInstant {
		s.notify()
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// State reports the user's current batching state.
func (s *Scheduler) State(userID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return StateIdle
	}
	return u.state(s.clock.Now(), s.cfg.Interval(u.cadence))
}

// Pending returns a copy of the user's pending events in arrival order.
func (s *Scheduler) Pending(userID int64) []model.TransactionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	return append([]model.TransactionEvent(nil), u.pending...)
}

// FlushReport summarizes one flush pass.
type FlushReport struct {
	Batches  int
	Events   int
	Sent     int
	Retried  int
	Terminal int
}

type job struct {
	id     string
	userID int64
	events []model.TransactionEvent
}

// FlushDue sends every batch whose cadence window has elapsed.
func (s *Scheduler) FlushDue(ctx context.Context) FlushReport {
	return s.flush(ctx, false)
}

// FlushAll sends every pending batch regardless of cadence.
func (s *Scheduler) FlushAll(ctx context.Context) FlushReport {
	return s.flush(ctx, true)
}

func (s *Scheduler) flush(ctx context.Context, force bool) FlushReport {
	jobs := s.collect(force)
	report := FlushReport{Batches: len(jobs)}
	if len(jobs) == 0 {
		return report
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for _, j := range jobs {
		j := j
		report.Events += len(j.events)
		g.Go(func() error {
			outcome := s.send(ctx, j)
			mu.Lock()
			switch outcome {
			case metrics.DeliverySent:
				report.Sent++
			case metrics.DeliveryRetry:
				report.Retried++
			case metrics.DeliveryTerminal:
				report.Terminal++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// collect moves ready batches in flight, in ascending user order, and drops
// users that have been idle for a full window.
func (s *Scheduler) collect(force bool) []job {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	// A user idle for the longest window starts afresh on its next match,
	// anchored at that match, so dropping the entry keeps the cadence law.
	longest := max(s.cfg.TenMinutes, s.cfg.Hourly)
	var jobs []job
	for userID, u := range s.users {
		if u.idle() && now.Sub(u.lastFlush) >= longest {
			delete(s.users, userID)
			continue
		}
		if len(u.pending) == 0 || u.sending {
			continue
		}
		if !force && !u.ready(now, s.cfg.Interval(u.cadence)) {
			continue
		}
		jobs = append(jobs, job{id: uuid.NewString(), userID: userID, events: u.take()})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].userID < jobs[j].userID })
	return jobs
}

// messages groups events, in order, into texts that fit MaxMessageLength.
// An event too long on its own gets a message of its own.
func (s *Scheduler) messages(events []model.TransactionEvent) [][]model.TransactionEvent {
	if s.cfg.MaxMessageLength <= 0 || len(s.format(events)) <= s.cfg.MaxMessageLength {
		return [][]model.TransactionEvent{events}
	}
	var groups [][]model.TransactionEvent
	var current []model.TransactionEvent
	for _, ev := range events {
		next := append(current[:len(current):len(current)], ev)
		if len(current) > 0 && len(s.format(next)) > s.cfg.MaxMessageLength {
			groups = append(groups, current)
			next = []model.TransactionEvent{ev}
		}
		current = next
	}
	return append(groups, current)
}

func (s *Scheduler) send(ctx context.Context, j job) string {
	log := s.logger.With(zap.String("batch_id", j.id), zap.Int64("user_id", j.userID), zap.Int("events", len(j.events)))

	// Each message goes out once: after a failure only the events of the
	// failed message and those behind it stay in flight.
	delivered := 0
	var err error
	for _, group := range s.messages(j.events) {
		if err = s.limiter.Wait(ctx); err != nil {
			break
		}
		if err = s.sender.Send(ctx, j.userID, s.format(group)); err != nil {
			break
		}
		delivered += len(group)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[j.userID]

	if err == nil {
		u.delivered(now)
		s.metrics.PendingEvents.Sub(float64(len(j.events)))
		s.metrics.DeliveriesTotal.WithLabelValues(metrics.DeliverySent).Inc()
		log.Debug("batch delivered")
		return metrics.DeliverySent
	}
	if delivered > 0 {
		u.ack(delivered)
		u.attempts = 0
		s.metrics.PendingEvents.Sub(float64(delivered))
		log = log.With(zap.Int("delivered", delivered))
	}
	remaining := len(j.events) - delivered

	// Shutdown is not a delivery failure.
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		u.requeue()
		return ""
	}

	u.attempts++
	if u.attempts > s.cfg.MaxRetries {
		attempts := u.attempts
		u.delivered(now)
		s.metrics.PendingEvents.Sub(float64(remaining))
		s.metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryTerminal).Inc()
		log.Error("batch dropped after retries", zap.Int("attempts", attempts), zap.Int("dropped", remaining), zap.Error(err))
		return metrics.DeliveryTerminal
	}

	u.requeue()
	s.metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryRetry).Inc()
	log.Warn("batch delivery failed, requeued", zap.Int("attempt", u.attempts), zap.Int("requeued", remaining), zap.Error(err))
	return metrics.DeliveryRetry
}

// Run flushes due batches every flush interval and whenever an instant
// match arrives, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		report := s.FlushDue(ctx)
		if report.Batches > 0 {
			s.logger.Info("flush complete",
				zap.Int("batches", report.Batches),
				zap.Int("events", report.Events),
				zap.Int("sent", report.Sent),
				zap.Int("retried", report.Retried),
				zap.Int("terminal", report.Terminal),
			)
		}
	}
}
