package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/metrics"
	"go.uber.org/atomic"
)

// DefaultMailboxSize is the number of deliveries an agent can have queued.
const DefaultMailboxSize = 64

var (
	// ErrMailboxFull is returned by Send when the receiving agent is saturated.
	ErrMailboxFull = errors.New("mailbox full")

	// ErrUnknownAgent is returned for deliveries to an unregistered agent.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrRuntimeStopped is returned by Send after Stop.
	ErrRuntimeStopped = errors.New("runtime stopped")
)

type mailbox struct {
	agent Agent
	tier  Tier
	ch    chan Delivery
}

// Runtime delivers messages between registered agents. Each agent owns a
// buffered mailbox drained by a single goroutine, so an agent never handles
// two deliveries concurrently. Send never blocks.
type Runtime struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	stopped   bool

	mailboxSize int
	inflight    atomic.Int64
	wg          sync.WaitGroup
	cancel      context.CancelFunc

	actions interfaces.ActionLogger
	metrics *metrics.Recorder
	log     *slog.Logger
}

type RuntimeOption func(*Runtime)

func WithMailboxSize(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.mailboxSize = n
		}
	}
}

// WithRuntimeActionLog records undeliverable forwards in the action log.
func WithRuntimeActionLog(actions interfaces.ActionLogger) RuntimeOption {
	return func(r *Runtime) { r.actions = actions }
}

func WithRuntimeMetrics(m *metrics.Recorder) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

func NewRuntime(log *slog.Logger, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		mailboxes:   make(map[string]*mailbox),
		mailboxSize: DefaultMailboxSize,
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent at the given tier. Agents must be registered before Start.
func (r *Runtime) Register(tier Tier, agent Agent) error {
	if tier == TierIngress {
		return fmt.Errorf("cannot register agent %s at the ingress tier", agent.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mailboxes[agent.ID()]; exists {
		return fmt.Errorf("agent %s already registered", agent.ID())
	}
	r.mailboxes[agent.ID()] = &mailbox{
		agent: agent,
		tier:  tier,
		ch:    make(chan Delivery, r.mailboxSize),
	}
	return nil
}

// Start launches one goroutine per registered agent. They run until ctx is
// cancelled or Stop is called.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, mb := range r.mailboxes {
		r.wg.Add(1)
		go r.run(ctx, mb)
	}
}

func (r *Runtime) run(ctx context.Context, mb *mailbox) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-mb.ch:
			r.handle(ctx, mb, d)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, mb *mailbox, d Delivery) {
	defer r.inflight.Dec()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Agent panicked handling message",
				slog.String("agent", mb.agent.ID()),
				slog.String("message_id", d.Message.MessageID()),
				"panic", rec)
		}
	}()

	outcome := mb.agent.Handle(ctx, d)
	for _, fwd := range outcome.Forward {
		if err := r.Send(mb.agent.ID(), fwd.To, fwd.Message); err != nil {
			r.log.Warn("Failed to forward message",
				slog.String("from", mb.agent.ID()),
				slog.String("to", fwd.To),
				slog.String("message_id", fwd.Message.MessageID()),
				"err", err)
			if r.actions != nil {
				r.actions.Record(ctx, interfaces.ActionEvent{
					Agent:     mb.agent.ID(),
					Action:    "forward to " + fwd.To,
					MessageID: fwd.Message.MessageID(),
					Err:       err,
				})
			}
			r.metrics.RecordHop(mb.agent.ID(), string(fwd.Message.Kind()), metrics.OutcomeError)
		}
	}
}

// Send enqueues msg for the agent named to. from is either Ingress or a
// registered agent; the hop must be an allowed route.
func (r *Runtime) Send(from, to string, msg interfaces.Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrRuntimeStopped
	}

	dst, ok := r.mailboxes[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, to)
	}

	fromTier := TierIngress
	if from != Ingress {
		src, ok := r.mailboxes[from]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAgent, from)
		}
		fromTier = src.tier
	}

	if !RouteAllowed(fromTier, dst.tier) {
		return fmt.Errorf("%w: %s (%s) -> %s (%s)", interfaces.ErrRouteNotAllowed, from, fromTier, to, dst.tier)
	}

	r.inflight.Inc()
	select {
	case dst.ch <- Delivery{From: from, Message: msg}:
		return nil
	default:
		r.inflight.Dec()
		return fmt.Errorf("%w: %s", ErrMailboxFull, to)
	}
}

// Inflight returns the number of queued or executing deliveries.
func (r *Runtime) Inflight() int64 {
	return r.inflight.Load()
}

// Quiesce waits until no delivery is queued or being handled.
func (r *Runtime) Quiesce(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for r.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop rejects further sends and waits for the agent goroutines to exit.
// Queued deliveries are discarded and no longer count as in flight.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, mb := range r.mailboxes {
		if discarded := r.drain(mb); discarded > 0 {
			r.log.Warn("Discarded queued deliveries on stop", slog.String("agent", id), "count", discarded)
		}
	}
}

func (r *Runtime) drain(mb *mailbox) int {
	discarded := 0
	for {
		select {
		case <-mb.ch:
			r.inflight.Dec()
			discarded++
		default:
			return discarded
		}
	}
}
