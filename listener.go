package rpccache

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/rpccache/cdc"
)

// Event is a decoded change of one entry. Value is the zero V for removals.
type Event[V any] struct {
	Namespace string
	Key       string
	Kind      cdc.Kind
	Value     V
	Raw       []byte
}

// Listener is the set of callbacks a registration is interested in.
// Nil callbacks are skipped. Callbacks run on one goroutine, in commit
// order, and should return quickly.
type Listener[V any] struct {
	OnCreated func(Event[V])
	OnUpdated func(Event[V])
	OnRemoved func(Event[V])
	OnExpired func(Event[V])
}

type ListenerConfig[V any] struct {
	// Filter drops events it returns false for. nil => every event.
	Filter func(Event[V]) bool
}

type listenerReg struct {
	consumer *cdc.Consumer
}

// RegisterListener enables change records for the namespace and starts
// following the event log from its current tail. Only one listener may be
// registered per cache.
func (cc *cache[V]) RegisterListener(ctx context.Context, l Listener[V], cfg ListenerConfig[V]) error {
	if cc.gw.Closed() {
		return ErrClosed
	}
	if cc.opts.Events == nil {
		return ErrEventsUnavailable
	}
	cc.lmu.Lock()
	defer cc.lmu.Unlock()
	if cc.listener != nil {
		return ErrListenerRegistered
	}

	consumer, err := cdc.NewConsumer(cdc.ConsumerOptions{
		Log:         cc.opts.Events,
		Namespace:   cc.ns,
		Handlers:    cc.handlers(l, cfg),
		PollTimeout: cc.opts.PollTimeout,
		Logger:      cc.log,
		Hooks:       cc.hooks,
	})
	if err != nil {
		return err
	}
	// Position at the tail first so no record committed after the flag
	// flips can be missed.
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	if err := cc.SetEventsEnabled(ctx, true); err != nil {
		consumer.Stop()
		return err
	}
	cc.listener = &listenerReg{consumer: consumer}
	return nil
}

// DeregisterListener stops the listener and disables change records for
// the namespace. No callback starts after it returns. It waits for an
// in-flight callback unless called from that callback. No-op without a
// listener.
func (cc *cache[V]) DeregisterListener(ctx context.Context) error {
	cc.lmu.Lock()
	reg := cc.listener
	cc.listener = nil
	cc.lmu.Unlock()
	if reg == nil {
		return nil
	}
	reg.consumer.Stop()
	if err := cc.SetEventsEnabled(ctx, false); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func (cc *cache[V]) handlers(l Listener[V], cfg ListenerConfig[V]) cdc.Handlers {
	wrap := func(fn func(Event[V])) func(cdc.Record) {
		if fn == nil {
			return nil
		}
		return func(r cdc.Record) {
			ev, ok := cc.event(r)
			if !ok {
				return
			}
			if cfg.Filter != nil && !cfg.Filter(ev) {
				return
			}
			fn(ev)
		}
	}
	return cdc.Handlers{
		OnCreated: wrap(l.OnCreated),
		OnUpdated: wrap(l.OnUpdated),
		OnRemoved: wrap(l.OnRemoved),
		OnExpired: wrap(l.OnExpired),
	}
}

func (cc *cache[V]) event(r cdc.Record) (Event[V], bool) {
	ev := Event[V]{Namespace: r.Namespace, Key: r.Key, Kind: r.Kind, Raw: r.Value}
	if r.Kind == cdc.Removed || len(r.Value) == 0 {
		return ev, true
	}
	v, err := cc.codec.Decode(r.Value)
	if err != nil {
		cc.hooks.ListenerDecodeError(r.Namespace, r.Key, err)
		cc.log.Warn("listener event dropped", Fields{"ns": r.Namespace, "key": r.Key, "err": err})
		return ev, false
	}
	ev.Value = v
	return ev, true
}
