package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"google.golang.org/grpc"
)

const (
	defaultMaxRetries = 5
	eventBuffer       = 32
)

// HeartbeatConfig is everything a heartbeat loop needs. Interval, ID and Conn
// are required; the rest have defaults.
type HeartbeatConfig struct {
	Interval time.Duration
	ID       string
	Conn     grpc.ClientConnInterface

	// Timeout bounds a single ping when positive. By default a ping is
	// bounded only by ctx and the channel, so a slow ack is not a failure.
	Timeout time.Duration
	// Jitter adds a uniformly distributed delay in [0, Jitter) to every wait.
	Jitter time.Duration
	Policy FailurePolicy
	// MaxRetries bounds the attempts made by FailRetry and FailReregister
	// after a failure. Defaults to 5.
	MaxRetries int
	// Backoff builds the delay schedule between attempts.
	Backoff func() backoff.BackOff
	// Reregister obtains a fresh identity. Required by FailReregister.
	Reregister func(context.Context) (string, error)

	Logger zerolog.Logger
	Meter  metric.Meter
	Tracer trace.Tracer
}

func (c *HeartbeatConfig) setDefaults() error {
	if c.Interval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.ID == "" {
		return errors.New("heartbeat id is required")
	}
	if c.Conn == nil {
		return errors.New("heartbeat channel is required")
	}
	if c.Jitter < 0 {
		return errors.New("heartbeat jitter must not be negative")
	}
	if c.Policy == FailReregister && c.Reregister == nil {
		return errors.New("reregister policy needs a Reregister func")
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff == nil {
		c.Backoff = defaultBackoff(c.Interval)
	}
	if c.Meter == nil {
		c.Meter = otel.Meter(instrumentationName)
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(instrumentationName)
	}
	return nil
}

type heartbeatMetrics struct {
	sent    metric.Int64Counter
	failed  metric.Int64Counter
	latency metric.Float64Histogram
}

func newHeartbeatMetrics(m metric.Meter) (heartbeatMetrics, error) {
	var hm heartbeatMetrics
	var err error
	hm.sent, err = m.Int64Counter("howl.heartbeat.sent",
		metric.WithUnit("1"),
		metric.WithDescription("Heartbeats acknowledged by the registry"))
	if err != nil {
		return hm, err
	}
	hm.failed, err = m.Int64Counter("howl.heartbeat.failed",
		metric.WithUnit("1"),
		metric.WithDescription("Heartbeats that failed"))
	if err != nil {
		return hm, err
	}
	hm.latency, err = m.Float64Histogram("howl.heartbeat.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Heartbeat round trip time"))
	return hm, err
}

// Status is a point-in-time view of a heartbeat loop.
type Status struct {
	ID       string     `json:"id"`
	Running  bool       `json:"running"`
	Beats    int        `json:"beats"`
	Failures int        `json:"failures"`
	LastBeat *time.Time `json:"last_beat,omitempty"` // nil before the first beat
	Error    string     `json:"error,omitempty"`
}

// Heartbeat is the handle of a running heartbeat loop.
type Heartbeat struct {
	cfg     HeartbeatConfig
	client  howlpb.DiscoveryServiceClient
	metrics heartbeatMetrics
	jitter  *distuv.Uniform
	logger  zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	events chan Event

	mu       sync.Mutex
	id       string
	beats    int
	failures int
	lastBeat time.Time
	err      error
}

// SpawnHeartbeat starts pinging the registry in the background and returns
// at once. Pings are strictly sequential: the next one starts Interval after
// the previous one completed. The loop runs until Stop is called, ctx is
// cancelled, or a failure the policy cannot absorb occurs.
func SpawnHeartbeat(ctx context.Context, cfg HeartbeatConfig) (*Heartbeat, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	metrics, err := newHeartbeatMetrics(cfg.Meter)
	if err != nil {
		return nil, err
	}

	h := &Heartbeat{
		cfg:     cfg,
		client:  howlpb.NewDiscoveryServiceClient(cfg.Conn),
		metrics: metrics,
		logger:  cfg.Logger.With().Str("component", "heartbeat").Logger(),
		done:    make(chan struct{}),
		events:  make(chan Event, eventBuffer),
		id:      cfg.ID,
	}
	if cfg.Jitter > 0 {
		h.jitter = &distuv.Uniform{
			Min: 0,
			Max: float64(cfg.Jitter),
			Src: exprand.NewSource(uint64(time.Now().UnixNano())),
		}
	}

	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx)
	return h, nil
}

// Stop ends the loop, waits for it to exit and returns its terminal error.
// It is safe to call more than once.
func (h *Heartbeat) Stop() error {
	h.cancel()
	<-h.done
	return h.Err()
}

// Done is closed once the loop has exited.
func (h *Heartbeat) Done() <-chan struct{} { return h.done }

// Events delivers loop events. It is closed after the loop exits, and the
// last event is always EventStopped. When nobody is reading, the oldest
// events are dropped rather than stall the loop.
func (h *Heartbeat) Events() <-chan Event { return h.events }

// Err returns the failure that ended the loop, nil while it runs or after a
// clean stop.
func (h *Heartbeat) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// ID returns the identity currently being reported.
func (h *Heartbeat) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Status{
		ID:       h.id,
		Beats:    h.beats,
		Failures: h.failures,
	}
	if !h.lastBeat.IsZero() {
		last := h.lastBeat
		s.LastBeat = &last
	}
	select {
	case <-h.done:
	default:
		s.Running = true
	}
	if h.err != nil {
		s.Error = h.err.Error()
	}
	return s
}

func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info().Str("id", h.cfg.ID).Dur("interval", h.cfg.Interval).Str("policy", h.cfg.Policy.String()).Msg("heartbeat started")

	var err error
	for {
		if err = h.tick(ctx); err != nil {
			break
		}
		if !h.wait(ctx) {
			break
		}
	}
	if ctx.Err() != nil {
		err = nil
	}

	h.mu.Lock()
	h.err = err
	h.mu.Unlock()

	if err != nil {
		h.logger.Error().Err(err).Msg("heartbeat stopped")
	} else {
		h.logger.Info().Str("id", h.ID()).Msg("heartbeat stopped")
	}
	h.emit(Event{Kind: EventStopped, ID: h.ID(), Err: err})
	close(h.events)
}

// tick sends one heartbeat and applies the failure policy.
func (h *Heartbeat) tick(ctx context.Context) error {
	err := h.ping(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}

	switch h.cfg.Policy {
	case FailRetry:
		attempts, err := h.retry(ctx, err, h.ping)
		if err != nil {
			return &HeartbeatFailure{ID: h.ID(), Attempts: attempts, Err: err}
		}
		return nil
	case FailReregister:
		attempts, err := h.retry(ctx, err, h.reregister)
		if err != nil {
			return &HeartbeatFailure{ID: h.ID(), Attempts: attempts, Err: err}
		}
		return nil
	default:
		return &HeartbeatFailure{ID: h.ID(), Attempts: 1, Err: err}
	}
}

// retry repeats attempt on the backoff schedule until it succeeds, the
// schedule runs out or the error is permanent under the policy.
func (h *Heartbeat) retry(ctx context.Context, err error, attempt func(context.Context) error) (int, error) {
	permanent := permanentFor(h.cfg.Policy)
	b := backoff.WithContext(backoff.WithMaxRetries(h.cfg.Backoff(), uint64(h.cfg.MaxRetries)), ctx)
	attempts := 1
	for {
		if permanent(err) {
			return attempts, err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return attempts, err
		}
		h.emit(Event{Kind: EventRetry, ID: h.ID(), Err: err, Attempt: attempts, Delay: delay})
		h.logger.Warn().Err(err).Int("attempt", attempts).Dur("delay", delay).Msg("heartbeat failed, backing off")
		if !sleep(ctx, delay) {
			return attempts, ctx.Err()
		}
		attempts++
		if err = attempt(ctx); err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
	}
}

func (h *Heartbeat) ping(ctx context.Context) error {
	id := h.ID()
	attrs := metric.WithAttributes(attribute.String("howl.service.id", id))
	ctx, span := h.cfg.Tracer.Start(ctx, "heartbeat", trace.WithAttributes(attribute.String("howl.service.id", id)))
	defer span.End()

	pingCtx := ctx
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	h.logger.Debug().Str("id", id).Msg("sending heartbeat")
	start := time.Now()
	_, err := h.client.Heartbeat(pingCtx, howlpb.NewHeartbeatPayload(id))
	h.metrics.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)

	now := time.Now()
	h.mu.Lock()
	if err != nil {
		h.failures++
	} else {
		h.beats++
		h.lastBeat = now
	}
	h.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		h.metrics.failed.Add(ctx, 1, attrs)
		if ctx.Err() == nil {
			h.emit(Event{Kind: EventFailure, ID: id, Err: err, At: now})
		}
		return err
	}
	h.metrics.sent.Add(ctx, 1, attrs)
	h.emit(Event{Kind: EventBeat, ID: id, At: now})
	return nil
}

func (h *Heartbeat) reregister(ctx context.Context) error {
	old := h.ID()
	id, err := h.cfg.Reregister(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return &RegistrationError{Err: errors.New("registry assigned an empty id")}
	}
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
	h.logger.Info().Str("old_id", old).Str("id", id).Msg("re-registered with registry")
	h.emit(Event{Kind: EventReregistered, ID: id, At: time.Now()})
	return nil
}

func (h *Heartbeat) wait(ctx context.Context) bool {
	d := h.cfg.Interval
	if h.jitter != nil {
		d += time.Duration(h.jitter.Rand())
	}
	return sleep(ctx, d)
}

// emit never blocks. A full buffer loses its oldest event so the newest,
// including the final EventStopped, always get through. The loop is the only
// sender, so freeing one slot is enough.
func (h *Heartbeat) emit(e Event) {
	for {
		select {
		case h.events <- e:
			return
		default:
		}
		select {
		case old := <-h.events:
			h.logger.Debug().Str("event", old.Kind.String()).Msg("event dropped, nobody is listening")
		default:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
