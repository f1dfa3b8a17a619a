// Package promhook exports rpccache hook events as Prometheus counters.
//
//	h, _ := promhook.New(prometheus.DefaultRegisterer, "myapp")
//	cache, _ := rpccache.New[User](ctx, rpccache.Options[User]{..., Hooks: h})
package promhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/rpccache"
	"github.com/unkn0wn-root/rpccache/cdc"
)

type Hooks struct {
	retries            *prometheus.CounterVec
	callFailures       *prometheus.CounterVec
	tooMuchData        *prometheus.CounterVec
	bulkFailures       *prometheus.CounterVec
	recordsUndecodable prometheus.Counter
	pollErrors         prometheus.Counter
	handlerPanics      *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
}

var _ rpccache.Hooks = (*Hooks)(nil)

// New creates the counters under namespace and registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpccache",
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpccache",
			Name:      name,
			Help:      help,
		})
	}

	h := &Hooks{
		retries:            counterVec("retries_total", "Failed attempts scheduled for retry by operation", "op"),
		callFailures:       counterVec("call_failures_total", "Calls that gave up by operation", "op"),
		tooMuchData:        counterVec("too_much_data_total", "Responses refused for exceeding the size ceiling by operation", "op"),
		bulkFailures:       counterVec("bulk_failures_total", "Bulk calls with at least one failed member by operation", "op"),
		recordsUndecodable: counter("records_undecodable_total", "Change records skipped as malformed"),
		pollErrors:         counter("poll_errors_total", "Failed change log polls"),
		handlerPanics:      counterVec("listener_panics_total", "Listener callbacks that panicked by change kind", "kind"),
		decodeErrors:       counterVec("listener_decode_errors_total", "Change events dropped because the value did not decode, by namespace", "ns"),
	}
	for _, c := range []prometheus.Collector{
		h.retries, h.callFailures, h.tooMuchData, h.bulkFailures,
		h.recordsUndecodable, h.pollErrors, h.handlerPanics, h.decodeErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) RetryScheduled(op string, _ int, _ time.Duration, _ error) {
	h.retries.WithLabelValues(op).Inc()
}
func (h *Hooks) CallFailed(op string, _ int, _ error) { h.callFailures.WithLabelValues(op).Inc() }
func (h *Hooks) TooMuchData(op string)                { h.tooMuchData.WithLabelValues(op).Inc() }
func (h *Hooks) BulkFailed(op string, _ int, _ error) { h.bulkFailures.WithLabelValues(op).Inc() }
func (h *Hooks) RecordUndecodable([]byte, error)      { h.recordsUndecodable.Inc() }
func (h *Hooks) PollError(error)                      { h.pollErrors.Inc() }
func (h *Hooks) HandlerPanic(kind cdc.Kind, _ string, _ any) {
	h.handlerPanics.WithLabelValues(kind.String()).Inc()
}
func (h *Hooks) ListenerDecodeError(ns, _ string, _ error) {
	h.decodeErrors.WithLabelValues(ns).Inc()
}
