package promhook

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/rpccache/cdc"
)

// counterValue sums every series of the named family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.RetryScheduled("Get", 1, 0, errors.New("x"))
	h.RetryScheduled("Put", 1, 0, errors.New("x"))
	h.TooMuchData("Iterator")
	h.PollError(errors.New("x"))
	h.HandlerPanic(cdc.Removed, "k", "boom")
	h.ListenerDecodeError("ns", "k", errors.New("x"))

	cases := map[string]float64{
		"test_rpccache_retries_total":                2,
		"test_rpccache_too_much_data_total":          1,
		"test_rpccache_poll_errors_total":            1,
		"test_rpccache_listener_panics_total":        1,
		"test_rpccache_listener_decode_errors_total": 1,
		"test_rpccache_call_failures_total":          0,
	}
	for name, want := range cases {
		if got := counterValue(t, reg, name); got != want {
			t.Fatalf("%s=%v want %v", name, got, want)
		}
	}
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, "dup"); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg, "dup"); err == nil {
		t.Fatalf("second New on the same registry succeeded")
	}
}
