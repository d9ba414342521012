package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
	"go.uber.org/atomic"
)

// DefaultQueueSize bounds the number of events waiting to be chained.
const DefaultQueueSize = 1024

type queued struct {
	event interfaces.ActionEvent
	at    time.Time
}

// Log chains action events and appends them to an optional JSONL sink.
// It implements interfaces.ActionLogger.
type Log struct {
	queue chan queued
	done  chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu      sync.RWMutex
	entries []Entry
	seq     uint64
	head    string
	sink    io.Writer

	pending atomic.Int64
	dropped atomic.Uint64

	now func() time.Time
	log *slog.Logger
}

type Option func(*Log)

// WithSink appends every chained entry as one JSON line to w.
func WithSink(w io.Writer) Option {
	return func(l *Log) { l.sink = w }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Resume continues the chain after the given entries, which are kept in memory.
func Resume(entries []Entry) Option {
	return func(l *Log) {
		l.entries = append(l.entries[:0], entries...)
		if n := len(entries); n > 0 {
			l.seq = entries[n-1].Seq
			l.head = entries[n-1].CID
		}
	}
}

// New starts a log with a queue of queueSize events (DefaultQueueSize if not positive).
func New(log *slog.Logger, queueSize int, opts ...Option) *Log {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	l := &Log{
		queue: make(chan queued, queueSize),
		done:  make(chan struct{}),
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.run()
	return l
}

// OpenFile opens (or creates) a JSONL action log at path. Existing entries
// are verified and the chain continues after them.
func OpenFile(path string, log *slog.Logger, queueSize int, opts ...Option) (*Log, *os.File, error) {
	var existing []Entry
	if f, err := os.Open(path); err == nil {
		existing, err = ReadEntries(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read action log %s: %w", path, err)
		}
		if err := VerifyChain(existing); err != nil {
			return nil, nil, fmt.Errorf("action log %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open action log: %w", err)
	}

	opts = append([]Option{Resume(existing), WithSink(file)}, opts...)
	return New(log, queueSize, opts...), file, nil
}

// Record queues an event for chaining. It never blocks; events arriving on a
// full or closed log are dropped.
func (l *Log) Record(ctx context.Context, event interfaces.ActionEvent) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()

	if l.closed {
		l.dropped.Inc()
		return
	}

	l.pending.Inc()
	select {
	case l.queue <- queued{event: event, at: l.now()}:
	default:
		l.pending.Dec()
		l.dropped.Inc()
		l.log.Warn("Action log queue full, dropping entry",
			slog.String("agent", event.Agent),
			slog.String("action", event.Action))
	}
}

func (l *Log) run() {
	defer close(l.done)
	for q := range l.queue {
		l.append(q)
		l.pending.Dec()
	}
}

func (l *Log) append(q queued) {
	outcome := OutcomeOK
	var errText string
	if q.event.Err != nil {
		outcome = OutcomeFailed
		errText = q.event.Err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Seq:       l.seq + 1,
		Agent:     q.event.Agent,
		Action:    q.event.Action,
		Outcome:   outcome,
		Reason:    interfaces.FailureReason(q.event.Err),
		Error:     errText,
		MessageID: q.event.MessageID,
		Timestamp: q.at.UTC(),
		Prev:      l.head,
	}
	id, err := entry.ComputeCID()
	if err != nil {
		l.dropped.Inc()
		l.log.Error("Failed to compute action log cid", "err", err)
		return
	}
	entry.CID = id.String()

	if l.sink != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			_, err = l.sink.Write(append(line, '\n'))
		}
		if err != nil {
			// Not chained: the next entry must link to what is on disk.
			l.dropped.Inc()
			l.log.Warn("Failed to write action log entry", "seq", entry.Seq, "err", err)
			return
		}
	}

	l.entries = append(l.entries, entry)
	l.seq = entry.Seq
	l.head = entry.CID
}

// Entries returns a copy of all chained entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Head returns the CID of the newest entry.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Dropped returns the number of events that were not chained.
func (l *Log) Dropped() uint64 {
	return l.dropped.Load()
}

// Drain waits until every queued event has been chained.
func (l *Log) Drain(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for l.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting events and waits for the queue to empty.
func (l *Log) Close() {
	l.closeMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.closeMu.Unlock()
	<-l.done
}
