package broadcast

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Transport delivers one frame to its subscribers.
type Transport interface {
	Name() string
	Send(ctx context.Context, frame Frame) error
}

// Options tunes the delivery pipeline.
type Options struct {
	Workers      int
	QueueSize    int
	SendTimeout  time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	return o
}

// Stats counts what happened to published events.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Broadcaster queues change events and delivers them from a fixed pool of
// workers. Events for one record always land on the same worker, so they are
// delivered in the order they were published.
type Broadcaster struct {
	transport Transport
	opts      Options
	logger    zerolog.Logger

	queues []chan ChangeEvent
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New returns a Broadcaster; call Start before events can be delivered.
func New(transport Transport, opts Options, logger zerolog.Logger) *Broadcaster {
	opts = opts.withDefaults()
	queues := make([]chan ChangeEvent, opts.Workers)
	for i := range queues {
		queues[i] = make(chan ChangeEvent, opts.QueueSize)
	}
	return &Broadcaster{
		transport: transport,
		opts:      opts,
		logger:    logger.With().Str("component", "broadcaster").Logger(),
		queues:    queues,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	for i, q := range b.queues {
		b.wg.Add(1)
		go b.work(i, q)
	}
	b.logger.Info().
		Int("workers", b.opts.Workers).
		Str("transport", b.transport.Name()).
		Msg("broadcaster started")
}

// Publish enqueues ev without blocking. A full queue or a stopped
// broadcaster drops the event.
func (b *Broadcaster) Publish(ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		b.logger.Warn().Str("record_id", ev.RecordID()).Str("action", ev.Action).Msg("broadcaster stopped, event dropped")
		return
	}

	select {
	case b.queues[b.shard(ev.RecordID())] <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn().Str("record_id", ev.RecordID()).Str("action", ev.Action).Msg("broadcast queue full, event dropped")
	}
}

// Stop refuses new events, delivers what is queued and waits for the
// workers. Events queued on a broadcaster that was never started count as
// dropped.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
		if !b.started {
			b.dropped.Add(int64(len(q)))
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	st := b.Stats()
	b.logger.Info().
		Int64("delivered", st.Delivered).
		Int64("failed", st.Failed).
		Int64("dropped", st.Dropped).
		Msg("broadcaster stopped")
}

// Stats returns the delivery counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *Broadcaster) shard(recordID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recordID))
	return int(h.Sum32() % uint32(len(b.queues)))
}

func (b *Broadcaster) work(id int, queue <-chan ChangeEvent) {
	defer b.wg.Done()
	for ev := range queue {
		b.deliver(id, ev)
	}
}

func (b *Broadcaster) deliver(worker int, ev ChangeEvent) {
	frame := NewFrame(ev)
	var err error
	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.SendTimeout)
		err = b.transport.Send(ctx, frame)
		cancel()
		if err == nil {
			b.delivered.Add(1)
			return
		}

		b.logger.Warn().Err(err).
			Int("worker", worker).
			Str("record_id", ev.RecordID()).
			Str("action", ev.Action).
			Int("attempt", attempt).
			Msg("broadcast delivery attempt failed")

		if attempt < b.opts.MaxAttempts {
			time.Sleep(time.Duration(attempt) * b.opts.RetryBackoff)
		}
	}

	b.failed.Add(1)
	b.logger.Error().Err(err).
		Str("record_id", ev.RecordID()).
		Str("action", ev.Action).
		Int("attempts", b.opts.MaxAttempts).
		Msg("broadcast delivery failed")
}
