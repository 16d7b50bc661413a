// Package dispatch delivers converted events to subscribers.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/event"
)

// Subscriber receives events. The event is shared by all subscribers and
// must be treated as read only.
type Subscriber interface {
	Deliver(ctx context.Context, e event.Event) error
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(ctx context.Context, e event.Event) error

func (f SubscriberFunc) Deliver(ctx context.Context, e event.Event) error {
	return f(ctx, e)
}

// Converter is implemented by *event.Converter.
type Converter interface {
	Convert(ctx context.Context, raw engine.Event) (event.Event, error)
}

var nopLogger = zap.NewNop()

type Options struct {
	Logger *zap.Logger
	// Metrics, when set, receives the event counters.
	Metrics prometheus.Registerer
}

// Dispatcher is the engine.Handler of one account. It converts each raw
// event and hands the result to every subscriber, returning only after all
// of them are done. Failures are logged and counted, never returned to the
// engine.
type Dispatcher struct {
	conv    Converter
	logger  *zap.Logger
	metrics *metrics

	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
}

func NewDispatcher(conv Converter, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	d := &Dispatcher{
		conv:    conv,
		logger:  opts.Logger,
		metrics: newMetrics(),
		subs:    make(map[int]Subscriber),
	}
	if opts.Metrics != nil {
		d.metrics.register(opts.Metrics)
	}
	return d
}

// Subscribe adds s and returns a func removing it again.
func (d *Dispatcher) Subscribe(s Subscriber) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = s
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

func (d *Dispatcher) subscribers() []Subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := make([]Subscriber, 0, len(d.subs))
	for _, sub := range d.subs {
		s = append(s, sub)
	}
	return s
}

// Handle implements engine.Handler.
func (d *Dispatcher) Handle(ctx context.Context, raw engine.Event) {
	e, err := d.conv.Convert(ctx, raw)
	if err != nil {
		d.metrics.convertErrors.Inc()
		d.logger.Warn("failed to convert event",
			zap.String("raw", fmt.Sprintf("%T", raw)),
			zap.Error(err))
		return
	}
	if e == nil {
		return
	}
	d.metrics.events.WithLabelValues(e.TypeName()).Inc()

	if err := d.Deliver(ctx, e); err != nil {
		d.logger.Warn("event delivery failed",
			zap.String("type", e.TypeName()),
			zap.Error(err))
	}
}

// Deliver hands e to every subscriber concurrently and waits for all of
// them. It returns the combined delivery errors.
func (d *Dispatcher) Deliver(ctx context.Context, e event.Event) error {
	subs := d.subscribers()
	if len(subs) == 0 {
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s Subscriber) {
			defer wg.Done()
			errs[i] = safeDeliver(ctx, s, e)
		}(i, s)
	}
	wg.Wait()

	err := multierr.Combine(errs...)
	if n := len(multierr.Errors(err)); n > 0 {
		d.metrics.deliveryErrors.Add(float64(n))
	}
	return err
}

func safeDeliver(ctx context.Context, s Subscriber, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %T panicked: %v", s, r)
		}
	}()
	if err := s.Deliver(ctx, e); err != nil {
		return fmt.Errorf("subscriber %T: %w", s, err)
	}
	return nil
}
